package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTokenStore struct {
	tokens map[int64]string
}

func newStubTokenStore() *stubTokenStore {
	return &stubTokenStore{tokens: make(map[int64]string)}
}

func (s *stubTokenStore) RefreshTokenByUserID(_ context.Context, userID int64) (string, error) {
	token, ok := s.tokens[userID]
	if !ok {
		return "", ErrTokenNotExist
	}
	return token, nil
}

func (s *stubTokenStore) StoreRefreshToken(_ context.Context, userID int64, token string) error {
	s.tokens[userID] = token
	return nil
}

func testConfig() Config {
	return Config{
		Secret:     "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

func bootstrapManager(t *testing.T) (*Manager, *stubTokenStore) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	store := newStubTokenStore()

	return NewManager(logger.Sugar(), testConfig(), store), store
}

// expiredManager signs tokens that are already expired but verify against the
// same secret as m.
func expiredManager(t *testing.T, store TokenStore) *Manager {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.AccessTTL = -time.Minute

	return NewManager(logger.Sugar(), cfg, store)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	m, _ := bootstrapManager(t)

	token, err := m.SignAccessToken(42)
	require.NoError(t, err)

	identity, err := m.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, int64(42), identity.UserID)
	require.Empty(t, identity.RefreshedToken)
}

func TestAuthenticateMissingToken(t *testing.T) {
	t.Parallel()

	m, _ := bootstrapManager(t)

	_, err := m.Authenticate(context.Background(), "")
	require.Equal(t, ErrNotAuthenticated, err)
}

func TestAuthenticateGarbageToken(t *testing.T) {
	t.Parallel()

	m, _ := bootstrapManager(t)

	_, err := m.Authenticate(context.Background(), "definitely.not.ajwt")
	require.Equal(t, ErrNotAuthenticated, err)
}

func TestAuthenticateTamperedToken(t *testing.T) {
	t.Parallel()

	m, store := bootstrapManager(t)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	foreign := NewManager(logger.Sugar(), Config{Secret: "other-secret", AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour}, store)

	token, err := foreign.SignAccessToken(42)
	require.NoError(t, err)

	_, err = m.Authenticate(context.Background(), token)
	require.Equal(t, ErrNotAuthenticated, err)
}

func TestAuthenticateExpiredWithRefresh(t *testing.T) {
	t.Parallel()

	m, store := bootstrapManager(t)

	refreshToken, err := m.SignRefreshToken(42)
	require.NoError(t, err)
	require.NoError(t, store.StoreRefreshToken(context.Background(), 42, refreshToken))

	expired, err := expiredManager(t, store).SignAccessToken(42)
	require.NoError(t, err)

	identity, err := m.Authenticate(context.Background(), expired)
	require.NoError(t, err)
	require.Equal(t, int64(42), identity.UserID)
	require.NotEmpty(t, identity.RefreshedToken)

	// the replacement token authenticates on its own
	identity, err = m.Authenticate(context.Background(), identity.RefreshedToken)
	require.NoError(t, err)
	require.Equal(t, int64(42), identity.UserID)
	require.Empty(t, identity.RefreshedToken)
}

func TestAuthenticateExpiredWithoutRefresh(t *testing.T) {
	t.Parallel()

	m, store := bootstrapManager(t)

	expired, err := expiredManager(t, store).SignAccessToken(42)
	require.NoError(t, err)

	_, err = m.Authenticate(context.Background(), expired)
	require.Equal(t, ErrNotAuthenticated, err)
}

func TestAuthenticateExpiredTamperedRefresh(t *testing.T) {
	t.Parallel()

	m, store := bootstrapManager(t)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	foreign := NewManager(logger.Sugar(), Config{Secret: "other-secret", AccessTTL: time.Minute, RefreshTTL: time.Hour}, store)

	refreshToken, err := foreign.SignRefreshToken(42)
	require.NoError(t, err)
	require.NoError(t, store.StoreRefreshToken(context.Background(), 42, refreshToken))

	expired, err := expiredManager(t, store).SignAccessToken(42)
	require.NoError(t, err)

	_, err = m.Authenticate(context.Background(), expired)
	require.Equal(t, ErrNotAuthenticated, err)
}

func TestAuthenticateExpiredRefreshOfOtherUser(t *testing.T) {
	t.Parallel()

	m, store := bootstrapManager(t)

	refreshToken, err := m.SignRefreshToken(7)
	require.NoError(t, err)
	require.NoError(t, store.StoreRefreshToken(context.Background(), 7, refreshToken))

	// expired token claims user 42, only user 7 has a refresh token stored
	expired, err := expiredManager(t, store).SignAccessToken(42)
	require.NoError(t, err)

	_, err = m.Authenticate(context.Background(), expired)
	require.Equal(t, ErrNotAuthenticated, err)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	m, store := bootstrapManager(t)

	accessToken, err := m.Login(context.Background(), 42)
	require.NoError(t, err)

	identity, err := m.Authenticate(context.Background(), accessToken)
	require.NoError(t, err)
	require.Equal(t, int64(42), identity.UserID)

	stored, err := store.RefreshTokenByUserID(context.Background(), 42)
	require.NoError(t, err)
	_, err = m.verify(stored)
	require.NoError(t, err)
}

func TestLoginReplacesRefreshToken(t *testing.T) {
	t.Parallel()

	m, store := bootstrapManager(t)

	_, err := m.Login(context.Background(), 42)
	require.NoError(t, err)
	first, err := store.RefreshTokenByUserID(context.Background(), 42)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond) // jwt iat/exp have second precision

	_, err = m.Login(context.Background(), 42)
	require.NoError(t, err)
	second, err := store.RefreshTokenByUserID(context.Background(), 42)
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestDecodeUnsafeDoesNotVerify(t *testing.T) {
	t.Parallel()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	foreign := NewManager(logger.Sugar(), Config{Secret: "other-secret", AccessTTL: time.Minute, RefreshTTL: time.Hour}, newStubTokenStore())

	token, err := foreign.SignAccessToken(42)
	require.NoError(t, err)

	// decodeUnsafe yields claims regardless of the signing key
	c, err := decodeUnsafe(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), c.UserID)

	m, _ := bootstrapManager(t)
	_, err = m.verify(token)
	require.Equal(t, ErrInvalidToken, err)
}
