package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthRefresherSuccess(t *testing.T) {
	srv := tokenServer(t, http.StatusOK,
		`{"access_token":"a2","refresh_token":"r2","token_type":"bearer","expires_in":3600,"account_id":"acct"}`)
	r := NewOAuthRefresher(srv.URL, "client", "secret", srv.Client())

	res, err := r.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", res.AccessToken)
	assert.Equal(t, "r2", res.RefreshToken)
	assert.Equal(t, "acct", res.AccountID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)
}

func TestOAuthRefresherInvalidGrantIsRejected(t *testing.T) {
	srv := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	r := NewOAuthRefresher(srv.URL, "client", "secret", srv.Client())

	_, err := r.Refresh(context.Background(), "r1")
	assert.True(t, errors.Is(err, ErrRefreshRejected))
}

func TestOAuthRefresherUnauthorizedIsRejected(t *testing.T) {
	srv := tokenServer(t, http.StatusUnauthorized, `{"error":"invalid_client"}`)
	r := NewOAuthRefresher(srv.URL, "client", "secret", srv.Client())

	_, err := r.Refresh(context.Background(), "r1")
	assert.True(t, errors.Is(err, ErrRefreshRejected))
}

func TestOAuthRefresherServerErrorIsNotRejected(t *testing.T) {
	srv := tokenServer(t, http.StatusBadGateway, `{"error":"temporarily_unavailable"}`)
	r := NewOAuthRefresher(srv.URL, "client", "secret", srv.Client())

	_, err := r.Refresh(context.Background(), "r1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRefreshRejected))
}

func TestOAuthRefresherRequiresTokenURL(t *testing.T) {
	_, err := NewOAuthRefresher("", "c", "s", nil).Refresh(context.Background(), "r1")
	assert.Error(t, err)
}
