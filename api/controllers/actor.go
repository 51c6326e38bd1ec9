package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/donorledger-backend/api/middleware"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/types"
)

// actorFromRequest rebuilds the ledger caller from the auth context.
func actorFromRequest(r *http.Request) (ledger.Actor, error) {
	ctx := r.Context()
	userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
	if err != nil {
		return ledger.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "caller identity missing")
	}
	role, err := enums.ParseActorRole(middleware.RoleFromContext(ctx))
	if err != nil {
		return ledger.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "caller role missing")
	}
	actor := ledger.Actor{UserID: userID, Role: role}
	if raw := middleware.LocationIDFromContext(ctx); raw != "" {
		locationID, err := uuid.Parse(raw)
		if err != nil {
			return ledger.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid location scope")
		}
		actor.LocationID = &locationID
	}
	return actor, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

func parseCurrency(raw, field string) (enums.Currency, error) {
	c, err := enums.ParseCurrency(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency").WithDetails(map[string]any{"field": field})
	}
	return c, nil
}

func parseStatus(raw, field string) (enums.PaymentStatus, error) {
	s, err := enums.ParsePaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status").WithDetails(map[string]any{"field": field})
	}
	return s, nil
}

func optionalDay(d *types.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}
