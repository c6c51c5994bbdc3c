package bindings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/certtest"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

const sites = `sites:
  - id: "1"
    name: shop
    running: true
    bindings:
      - host: shop.example.com
        ip: "*"
        port: 443
        protocol: https
        certificate_hash: OLD
        certificate_store: My
`

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(statePath, []byte(sites), 0644))

	bundle := certtest.NewBundle(t, "shop.example.com")
	mc := &model.ManagedCertificate{
		ID:              "mc",
		Domains:         []string{"shop.example.com"},
		CertificatePath: certtest.WritePFX(t, t.TempDir(), bundle, "pw"),
		PFXPassword:     "pw",
		RequestConfig: model.CertRequestConfig{
			PrimaryDomain:                  "shop.example.com",
			DeploymentSiteOption:           model.DeploymentSiteAll,
			DeploymentBindingMatchHostname: true,
		},
	}
	cfg := &model.DeploymentTaskConfig{TaskName: "iis", ProviderID: Definition.ID, Parameters: map[string]string{"state_file": statePath}}

	preview, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, true)
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.True(t, model.HasChanges(preview[0].Steps))
	assert.NoDirExists(t, filepath.Join(dir, "store"))

	results, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	assert.True(t, results[0].IsSuccess)
	assert.FileExists(t, filepath.Join(dir, "store", "My", bundle.Thumbprint()+".pfx"))

	bindings, err := Server(cfg, nil).GetSiteBindingList(context.Background(), false, "1")
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, bundle.Thumbprint(), bindings[0].CertificateHash)

	again, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	assert.False(t, model.HasChanges(again[0].Steps))
}

func TestExecute_Unavailable(t *testing.T) {
	mc := &model.ManagedCertificate{ID: "mc", CertificatePath: "x.pfx"}
	cfg := &model.DeploymentTaskConfig{Parameters: map[string]string{"state_file": filepath.Join(t.TempDir(), "none.yaml")}}
	_, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	assert.ErrorIs(t, err, model.ErrConfigurationMissing)
}

const twoSites = `sites:
  - id: "1"
    name: shop
    running: true
    bindings:
      - host: shop.example.com
        ip: "*"
        port: 443
        protocol: https
        certificate_hash: OLD
        certificate_store: My
  - id: "2"
    name: legacy
    running: true
    bindings:
      - ip: "*"
        port: 443
        protocol: https
        certificate_hash: OLD
        certificate_store: My
      - ip: "0.0.0.0"
        port: 443
        protocol: https
        certificate_hash: OLD
        certificate_store: My
`

func TestExecute_PartialFailureKeepsSteps(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(statePath, []byte(twoSites), 0644))

	bundle := certtest.NewBundle(t, "shop.example.com")
	mc := &model.ManagedCertificate{
		ID:              "mc",
		Domains:         []string{"shop.example.com"},
		CertificatePath: certtest.WritePFX(t, t.TempDir(), bundle, "pw"),
		PFXPassword:     "pw",
		RequestConfig: model.CertRequestConfig{
			PrimaryDomain:                  "shop.example.com",
			DeploymentSiteOption:           model.DeploymentSiteAll,
			DeploymentBindingMatchHostname: true,
			DeploymentBindingBlankHostname: true,
		},
	}
	cfg := &model.DeploymentTaskConfig{TaskName: "iis", ProviderID: Definition.ID, Parameters: map[string]string{"state_file": statePath}}

	results, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsSuccess)
	assert.Contains(t, results[0].Message, model.ErrBindingConflict.Error())
	assert.True(t, model.HasChanges(results[0].Steps))

	var described []string
	for _, s := range results[0].Steps {
		described = append(described, s.Description)
	}
	assert.Contains(t, strings.Join(described, "\n"), "shop.example.com")

	bindings, err := Server(cfg, nil).GetSiteBindingList(context.Background(), false, "1")
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, bundle.Thumbprint(), bindings[0].CertificateHash)
}
