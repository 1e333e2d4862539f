package security

import (
	"errors"
	"strconv"
	"time"

	"car-rental-backend/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type for this endpoint")
)

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
)

const (
	issuer   = "auth-service"
	audience = "rental-api"
)

// UserClaims defines the claims the rental API reads from an access token.
// Tokens are minted by the login service; GenerateAccessToken exists for
// tooling and tests.
type UserClaims struct {
	UserID int64       `json:"user_id"`
	Role   domain.Role `json:"role"`
	Type   TokenType   `json:"type"`
	jwt.RegisteredClaims
}

// Caller converts validated claims into the identity the services check.
func (c *UserClaims) Caller() domain.Caller {
	role := c.Role
	if role != domain.RoleAdmin {
		role = domain.RoleCustomer
	}
	return domain.Caller{UserID: c.UserID, Role: role}
}

type TokenManager interface {
	GenerateAccessToken(userID int64, role domain.Role) (string, error)
	ValidateToken(tokenString string) (*UserClaims, error)
}

type tokenManager struct {
	secret []byte
	expiry time.Duration
}

func NewTokenManager(secret string, expiry time.Duration) TokenManager {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &tokenManager{
		secret: []byte(secret),
		expiry: expiry,
	}
}

func (m *tokenManager) GenerateAccessToken(userID int64, role domain.Role) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		Role:   role,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithAudience(audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	// Populate UserID from Subject if the custom claim is missing
	if claims.UserID == 0 && claims.Subject != "" {
		uid, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return nil, ErrInvalidToken
		}
		claims.UserID = uid
	}
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
