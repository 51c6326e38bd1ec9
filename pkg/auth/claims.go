package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/donorledger-backend/pkg/enums"
)

// AccessTokenPayload captures the caller identity minted into a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	LocationID *uuid.UUID
	Role       enums.ActorRole
	JTI        string
}

// AccessTokenClaims is the caller identity the ledger consumes. Non-admin
// callers are confined to LocationID.
type AccessTokenClaims struct {
	UserID     uuid.UUID       `json:"user_id"`
	LocationID *uuid.UUID      `json:"location_id,omitempty"`
	Role       enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
