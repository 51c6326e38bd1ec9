package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/donorledger-backend/pkg/auth"
	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	other := testJWT
	other.Issuer = "someone-else"
	locationID := uuid.New()
	token := mintTestToken(t, other, enums.ActorRoleUser, &locationID)

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsLocationScope(t *testing.T) {
	locationID := uuid.New()
	token := mintTestToken(t, testJWT, enums.ActorRoleUser, &locationID)

	var captured struct {
		user     string
		role     string
		location string
	}
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.location = LocationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.user == "" {
		t.Fatal("expected user id in context")
	}
	if captured.role != string(enums.ActorRoleUser) {
		t.Fatalf("expected role user got %s", captured.role)
	}
	if captured.location != locationID.String() {
		t.Fatalf("expected location %s got %s", locationID, captured.location)
	}
}

func TestAuthAllowsUnscopedAdmin(t *testing.T) {
	token := mintTestToken(t, testJWT, enums.ActorRoleAdmin, nil)

	var location string
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		location = LocationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if location != "" {
		t.Fatalf("expected empty location got %s", location)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.ActorRoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.ActorRoleUser)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = req.WithContext(WithRole(req.Context(), string(enums.ActorRoleAdmin)))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestLocationContext(t *testing.T) {
	handler := LocationContext(nil)(okHandler())

	cases := []struct {
		name     string
		role     enums.ActorRole
		location string
		want     int
	}{
		{"scoped user", enums.ActorRoleUser, uuid.NewString(), http.StatusOK},
		{"unscoped user", enums.ActorRoleUser, "", http.StatusForbidden},
		{"unscoped admin", enums.ActorRoleAdmin, "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := WithRole(req.Context(), string(tc.role))
		if tc.location != "" {
			ctx = WithLocationID(ctx, tc.location)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req.WithContext(ctx))
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, role enums.ActorRole, locationID *uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		UserID:     uuid.New(),
		LocationID: locationID,
		Role:       role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
