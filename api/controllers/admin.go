package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/api/responses"
	"github.com/angelmondragon/donorledger-backend/api/validators"
	"github.com/angelmondragon/donorledger-backend/internal/fx"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/types"
)

// RecalculationService repairs pledge aggregates on operator request.
type RecalculationService interface {
	Recalculate(ctx context.Context, actor ledger.Actor, pledgeID uuid.UUID) (ledger.PledgeAggregates, error)
	RecalculateMany(ctx context.Context, actor ledger.Actor, pledgeIDs []uuid.UUID) ([]ledger.PledgeAggregates, error)
}

// ExchangeRateService records daily USD rates.
type ExchangeRateService interface {
	RecordRate(ctx context.Context, input fx.RecordRateInput) (*models.ExchangeRate, error)
}

type recalculateManyRequest struct {
	PledgeIDs []uuid.UUID `json:"pledgeIds" validate:"required,min=1,max=500"`
}

type recordRateRequest struct {
	Currency string          `json:"currency" validate:"required"`
	Date     types.Date      `json:"date"`
	Rate     decimal.Decimal `json:"rate" validate:"required"`
}

// AdminRecalculatePledge recomputes one pledge's totals from its payments.
func AdminRecalculatePledge(svc RecalculationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pledgeID, err := pathUUID(r, "pledgeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		agg, err := svc.Recalculate(r.Context(), actor, pledgeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil && agg.Changed {
			ctx := logg.WithPledgeID(r.Context(), pledgeID.String())
			logg.Warn(ctx, "pledge.recalculate.repaired")
		}
		responses.WriteSuccess(w, agg)
	}
}

// AdminRecalculatePledges recomputes a batch of pledges, typically the
// pending list of a partial mutation failure.
func AdminRecalculatePledges(svc RecalculationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req recalculateManyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		results, err := svc.RecalculateMany(r.Context(), actor, req.PledgeIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"results": results})
	}
}

// AdminRecordExchangeRate stores a USD rate for a currency and day.
func AdminRecordExchangeRate(svc ExchangeRateService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recordRateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := parseCurrency(req.Currency, "currency")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rate, err := svc.RecordRate(r.Context(), fx.RecordRateInput{
			Currency: currency,
			Date:     req.Date.Time,
			Rate:     req.Rate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, toExchangeRateDTO(rate))
	}
}
