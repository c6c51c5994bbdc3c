package pemexport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/certtest"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

func TestExecute(t *testing.T) {
	bundle := certtest.NewBundle(t, "*.example.com", "example.com")
	pfx := certtest.WritePFX(t, t.TempDir(), bundle, "")
	mc := &model.ManagedCertificate{ID: "mc", Domains: []string{"*.example.com", "example.com"}, CertificatePath: pfx}
	out := t.TempDir()
	cfg := &model.DeploymentTaskConfig{TaskName: "pem", ProviderID: Definition.ID, Parameters: map[string]string{"path": out}}
	dir := filepath.Join(out, "_.example.com")

	preview, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, true)
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.True(t, model.HasChanges(preview[0].Steps))
	assert.NoDirExists(t, dir)

	results, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsSuccess)

	certPEM, err := os.ReadFile(filepath.Join(dir, "cert.pem"))
	require.NoError(t, err)
	assert.Contains(t, string(certPEM), "BEGIN CERTIFICATE")
	keyPEM, err := os.ReadFile(filepath.Join(dir, "key.pem"))
	require.NoError(t, err)
	assert.Contains(t, string(keyPEM), "PRIVATE KEY")
	assert.FileExists(t, filepath.Join(dir, "fullchain.pem"))

	again, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	assert.False(t, model.HasChanges(again[0].Steps))
}

func TestExecute_NotIssued(t *testing.T) {
	_, err := Provider{}.Execute(context.Background(), logging.Nop, &model.ManagedCertificate{ID: "x"},
		&model.DeploymentTaskConfig{Parameters: map[string]string{"path": t.TempDir()}}, model.Credentials{}, false)
	assert.ErrorIs(t, err, model.ErrConfigurationMissing)
}
