package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/donorledger-backend/api/responses"
	pkgAuth "github.com/angelmondragon/donorledger-backend/pkg/auth"
	"github.com/angelmondragon/donorledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if !claims.Role.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid role claim"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID.String())
			ctx = context.WithValue(ctx, ctxRole, string(claims.Role))
			if claims.LocationID != nil {
				ctx = context.WithValue(ctx, ctxLocationID, claims.LocationID.String())
			}

			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithActorRole(ctx, string(claims.Role))
				if claims.LocationID != nil {
					ctx = logg.WithLocationID(ctx, claims.LocationID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
