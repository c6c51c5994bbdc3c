package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/model"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestChallengeRouting(t *testing.T) {
	store := NewChallengeStore()
	srv := httptest.NewServer(NewRouter(store, nil))
	defer srv.Close()

	pa := &model.PendingAuthorization{Identifier: "example.com", Token: "tok123", KeyAuthorization: "tok123.thumb"}

	status, _ := get(t, srv, "/.well-known/acme-challenge/tok123")
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, store.Present(context.Background(), pa))
	status, body := get(t, srv, "/.well-known/acme-challenge/tok123")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "tok123.thumb", body)

	require.NoError(t, store.CleanUp(context.Background(), pa))
	status, _ = get(t, srv, "/.well-known/acme-challenge/tok123")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPresent_Invalid(t *testing.T) {
	err := NewChallengeStore().Present(context.Background(), &model.PendingAuthorization{Token: "x"})
	assert.ErrorIs(t, err, model.ErrValidationFailure)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewChallengeStore(), nil))
	defer srv.Close()

	status, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "go_goroutines")
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", NewChallengeStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
