package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/api/responses"
	"github.com/angelmondragon/donorledger-backend/api/validators"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/types"
)

// PledgeService is the slice of the ledger the pledge routes use.
type PledgeService interface {
	CreatePledge(ctx context.Context, in ledger.CreatePledgeInput) (*models.Pledge, error)
	GetPledge(ctx context.Context, actor ledger.Actor, id uuid.UUID) (*models.Pledge, error)
	DeletePledge(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.DeletePledgeResult, error)
	ProjectScheduled(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.Projection, error)
}

type createPledgeRequest struct {
	ContactID    uuid.UUID       `json:"contactId" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	Currency     string          `json:"currency" validate:"required"`
	PledgeDate   types.Date      `json:"pledgeDate"`
	CampaignCode *string         `json:"campaignCode,omitempty"`
	CategoryID   *uuid.UUID      `json:"categoryId,omitempty"`
}

// CreatePledge opens a pledge for a contact in the caller's location.
func CreatePledge(svc PledgeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createPledgeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := parseCurrency(req.Currency, "currency")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.CampaignCode != nil {
			code := validators.SanitizeString(*req.CampaignCode, 64)
			req.CampaignCode = &code
		}

		pledge, err := svc.CreatePledge(r.Context(), ledger.CreatePledgeInput{
			Actor:        actor,
			ContactID:    req.ContactID,
			Amount:       req.Amount,
			Currency:     currency,
			PledgeDate:   req.PledgeDate.Time,
			CampaignCode: req.CampaignCode,
			CategoryID:   req.CategoryID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, toPledgeDTO(pledge))
	}
}

// GetPledge returns a pledge with its current totals.
func GetPledge(svc PledgeService, logg *logger.Logger) http.HandlerFunc {
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

		pledge, err := svc.GetPledge(r.Context(), actor, pledgeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPledgeDTO(pledge))
	}
}

// DeletePledge removes a pledge with its dependent rows and reports the counts.
func DeletePledge(svc PledgeService, logg *logger.Logger) http.HandlerFunc {
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

		result, err := svc.DeletePledge(r.Context(), actor, pledgeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithPledgeID(r.Context(), pledgeID.String())
			logg.Info(ctx, "pledge.deleted")
		}
		responses.WriteSuccess(w, result)
	}
}

// PledgeProjection splits the pledge balance into scheduled and unscheduled parts.
func PledgeProjection(svc PledgeService, logg *logger.Logger) http.HandlerFunc {
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

		projection, err := svc.ProjectScheduled(r.Context(), actor, pledgeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, projection)
	}
}
