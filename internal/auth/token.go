package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type claims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

func (m *Manager) sign(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	return token.SignedString([]byte(m.cfg.Secret))
}

// SignAccessToken mints a short-lived access credential for userID.
func (m *Manager) SignAccessToken(userID int64) (string, error) {
	return m.sign(userID, m.cfg.AccessTTL)
}

// SignRefreshToken mints a longer-lived refresh credential for userID.
func (m *Manager) SignRefreshToken(userID int64) (string, error) {
	return m.sign(userID, m.cfg.RefreshTTL)
}

// decodeUnsafe extracts claims without any signature or expiry check. The
// result must never be treated as verified identity, it is only good for
// locating the refresh record to check.
func decodeUnsafe(raw string) (*claims, error) {
	var c claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &c); err != nil {
		return nil, ErrInvalidToken
	}

	return &c, nil
}

// verify cryptographically validates a token (signature and standard claims)
// against the configured secret.
func (m *Manager) verify(raw string) (*claims, error) {
	token, err := jwt.ParseWithClaims(raw, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.cfg.Secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return c, nil
}
