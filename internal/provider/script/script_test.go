package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

func subject(t *testing.T) *model.ManagedCertificate {
	t.Helper()
	return &model.ManagedCertificate{
		ID:              "mc-1",
		Name:            "site",
		Domains:         []string{"www.example.com", "example.com"},
		CertificatePath: filepath.Join(t.TempDir(), "www.example.com", "certificate.pfx"),
	}
}

func TestVars(t *testing.T) {
	mc := subject(t)
	vars := Vars(mc)
	dir := filepath.Dir(mc.CertificatePath)
	assert.Equal(t, "www.example.com", vars["DOMAIN"])
	assert.Equal(t, "www.example.com,example.com", vars["DOMAINS"])
	assert.Equal(t, dir, vars["CERT_DIR"])
	assert.Equal(t, filepath.Join(dir, "fullchain.pem"), vars["FULLCHAIN_FILE"])
	assert.Equal(t, mc.CertificatePath, vars["PFX_FILE"])
}

func TestExecute(t *testing.T) {
	mc := subject(t)
	marker := filepath.Join(t.TempDir(), "out.txt")
	cfg := &model.DeploymentTaskConfig{
		TaskName:   "notify",
		ProviderID: Definition.ID,
		Parameters: map[string]string{"command": "echo ${DOMAIN} > " + marker + " && echo done"},
	}

	preview, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, true)
	require.NoError(t, err)
	assert.Contains(t, preview[0].Steps[0].Description, "echo www.example.com")
	assert.NoFileExists(t, marker)

	results, err := Provider{}.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsSuccess)
	assert.Contains(t, results[0].Steps[0].Description, "done")

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com\n", string(data))
}

func TestExecute_Failures(t *testing.T) {
	mc := subject(t)

	_, err := Provider{}.Execute(context.Background(), logging.Nop, mc,
		&model.DeploymentTaskConfig{Parameters: map[string]string{"command": "exit 3"}}, model.Credentials{}, false)
	assert.ErrorContains(t, err, "执行命令失败")

	_, err = Provider{}.Execute(context.Background(), logging.Nop, mc,
		&model.DeploymentTaskConfig{Parameters: map[string]string{"command": "true", "timeout": "soon"}}, model.Credentials{}, false)
	assert.ErrorIs(t, err, model.ErrValidationFailure)

	_, err = Provider{}.Execute(context.Background(), logging.Nop, &model.ManagedCertificate{ID: "x"},
		&model.DeploymentTaskConfig{Parameters: map[string]string{"command": "true"}}, model.Credentials{}, false)
	assert.ErrorIs(t, err, model.ErrConfigurationMissing)
}
