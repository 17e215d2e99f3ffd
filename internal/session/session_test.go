package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/cilogonauth/internal/cache"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	d := ParseDestination("/node/5?tab=info")
	require.Equal(t, "/node/5", d.Path)
	require.Equal(t, "info", d.Query.Get("tab"))
	require.Equal(t, "/node/5?tab=info", d.String())

	for _, bad := range []string{"", "https://evil.example", "//evil.example/x", `/\evil`} {
		require.Equal(t, "/user", ParseDestination(bad).String(), bad)
	}
}

func TestTakeAuthorizationClearsAndExpires(t *testing.T) {
	now := time.Now()
	s := New("sid")
	s.StartAuthorization(AuthorizationSession{ProviderID: "cilogon", Operation: OperationLogin, CreatedAt: now})
	s.StartAuthorization(AuthorizationSession{ProviderID: "other", Operation: OperationConnect, CreatedAt: now})

	a, ok := s.TakeAuthorization(now, time.Minute)
	require.True(t, ok)
	require.Equal(t, "other", a.ProviderID)

	_, ok = s.TakeAuthorization(now, time.Minute)
	require.False(t, ok, "read exactly once")

	s.StartAuthorization(AuthorizationSession{CreatedAt: now.Add(-time.Hour)})
	_, ok = s.TakeAuthorization(now, time.Minute)
	require.False(t, ok, "expired")
	require.Nil(t, s.Authorization)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(cache.NewMemory("test", time.Minute), Options{
		CookieName: "sid",
		Secret:     "0123456789abcdef0123456789abcdef",
		TTL:        time.Hour,
	})
	require.NoError(t, err)
	return st
}

func TestStoreRoundTripAndRenew(t *testing.T) {
	st := newTestStore(t)

	s, err := st.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	tok, err := s.CreateState()
	require.NoError(t, err)
	s.AddMessage(LevelStatus, "hi")

	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(context.Background(), rec, s))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	got, err := st.Load(req)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	require.True(t, got.ConfirmState(tok))
	require.Equal(t, []Message{{Level: LevelStatus, Text: "hi"}}, got.TakeMessages())

	oldID := got.ID
	got.Login("acct-1")
	require.NoError(t, st.Save(context.Background(), httptest.NewRecorder(), got))
	require.NotEqual(t, oldID, got.ID)

	// The pre-login id no longer resolves.
	stale, err := st.Load(req)
	require.NoError(t, err)
	require.NotEqual(t, oldID, stale.ID)
	require.Empty(t, stale.AccountID)
}

func TestStoreIgnoresTamperedCookie(t *testing.T) {
	st := newTestStore(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})
	s, err := st.Load(req)
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	require.Empty(t, s.State)
}

func TestNewStoreRejectsShortSecret(t *testing.T) {
	_, err := NewStore(cache.NewMemory("", 0), Options{Secret: "short"})
	require.Error(t, err)
}
