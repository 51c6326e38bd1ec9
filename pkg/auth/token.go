package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

var signingMethod = jwt.SigningMethodHS256

// clockSkew tolerates small drift between the minting host and this one.
const clockSkew = 30 * time.Second

var errNoSecret = errors.New("jwt secret is required")

func (p AccessTokenPayload) validate() error {
	if !p.Role.IsValid() {
		return fmt.Errorf("invalid actor role %q", p.Role)
	}
	if p.Role != enums.ActorRoleAdmin && p.LocationID == nil {
		return fmt.Errorf("location id is required for role %q", p.Role)
	}
	return nil
}

// MintAccessToken signs payload as an HS256 JWT valid for the configured TTL
// starting at now.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errNoSecret
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	}
	if err := payload.validate(); err != nil {
		return "", err
	}

	id := strings.TrimSpace(payload.JTI)
	if id == "" {
		id = uuid.NewString()
	}
	ttl := time.Duration(cfg.ExpirationMinutes) * time.Minute
	claims := AccessTokenClaims{
		UserID:     payload.UserID,
		LocationID: payload.LocationID,
		Role:       payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry, then re-checks the
// role and location scoping carried in the claims.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)

	claims := &AccessTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}

	payload := AccessTokenPayload{UserID: claims.UserID, LocationID: claims.LocationID, Role: claims.Role}
	if err := payload.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", jwt.ErrTokenInvalidClaims, err)
	}
	return claims, nil
}
