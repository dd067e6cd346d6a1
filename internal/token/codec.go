package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openroster/roster-api/internal/models"
	"github.com/openroster/roster-api/pkg/config"
	appErrors "github.com/openroster/roster-api/pkg/errors"
)

// Codec signs and verifies the two bearer token classes. Access and refresh
// tokens use independent secrets so one leaked signing key cannot forge the
// other class.
type Codec struct {
	cfg config.TokenConfig
}

// NewCodec builds a codec from the token configuration.
func NewCodec(cfg config.TokenConfig) *Codec {
	return &Codec{cfg: cfg}
}

// AccessTTL exposes the access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.cfg.AccessExpiration }

// RefreshTTL exposes the refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshExpiration }

// IssueAccessToken signs a short-lived access token for the user.
func (c *Codec) IssueAccessToken(user *models.User, sessionID string) (string, error) {
	now := time.Now().UTC()
	claims := &models.AccessClaims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.RoleName,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.AccessExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(c.cfg.AccessSecret))
}

// IssueRefreshToken signs a long-lived refresh token carrying only the user
// and session ids. The jti guarantees two tokens minted for the same session
// in the same second still rotate the stored hash to a different value.
func (c *Codec) IssueRefreshToken(userID, sessionID string) (string, error) {
	now := time.Now().UTC()
	claims := &models.RefreshClaims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.cfg.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.RefreshExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(c.cfg.RefreshSecret))
}

// ParseAccessToken validates an access token and returns its claims. Expired
// and malformed tokens are not distinguished to callers.
func (c *Codec) ParseAccessToken(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := c.parse(tokenString, claims, c.cfg.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefreshToken validates a refresh token and returns its claims.
func (c *Codec) ParseRefreshToken(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := c.parse(tokenString, claims, c.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) parse(tokenString string, claims jwt.Claims, secret string) error {
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
	}
	if !t.Valid {
		return appErrors.Clone(appErrors.ErrInvalidToken, "")
	}
	return nil
}
