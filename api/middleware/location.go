package middleware

import (
	"net/http"

	"github.com/angelmondragon/donorledger-backend/api/responses"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

// LocationContext rejects non-admin callers whose token carries no location.
func LocationContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if LocationIDFromContext(r.Context()) == "" && RoleFromContext(r.Context()) != string(enums.ActorRoleAdmin) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "location context missing"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
