package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/certtest"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/notification"
)

func TestExecute(t *testing.T) {
	var got []notification.EventData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev notification.EventData
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		got = append(got, ev)
	}))
	defer srv.Close()

	bundle := certtest.NewBundle(t, "www.example.com")
	mc := &model.ManagedCertificate{
		ID:              "mc-1",
		Domains:         []string{"www.example.com"},
		CertificatePath: certtest.WritePFX(t, t.TempDir(), bundle, ""),
	}
	cfg := &model.DeploymentTaskConfig{TaskName: "hook", ProviderID: Definition.ID, Parameters: map[string]string{"url": srv.URL}}

	preview, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, true)
	require.NoError(t, err)
	assert.True(t, model.HasChanges(preview[0].Steps))
	assert.Empty(t, got)

	results, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	assert.True(t, results[0].IsSuccess)
	require.Len(t, got, 1)
	assert.Equal(t, "cert_deployed", got[0].Event)
	assert.Equal(t, "www.example.com", got[0].Domain)
	assert.Equal(t, bundle.Thumbprint(), got[0].Data["thumbprint"])
	assert.Equal(t, "hook", got[0].Data["task"])
}

func TestExecute_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &model.DeploymentTaskConfig{Parameters: map[string]string{"url": srv.URL, "retries": "1"}}
	_, err := Provider{}.Execute(context.Background(), logging.Nop, &model.ManagedCertificate{ID: "x", Domains: []string{"a.com"}},
		cfg, model.Credentials{}, false)
	assert.ErrorContains(t, err, "500")

	cfg.Parameters["retries"] = "many"
	_, err = Provider{}.Execute(context.Background(), logging.Nop, &model.ManagedCertificate{ID: "x"}, cfg, model.Credentials{}, false)
	assert.ErrorIs(t, err, model.ErrValidationFailure)
}
