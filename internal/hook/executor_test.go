package hook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

func TestExpand_LongestKeyFirst(t *testing.T) {
	got := Expand("cp ${CERT_FILE} ${CERT}/x", map[string]string{
		"CERT":      "/short",
		"CERT_FILE": "/long/cert.pem",
	})
	assert.Equal(t, "cp /long/cert.pem /short/x", got)
}

func TestExecutor_Run(t *testing.T) {
	log := logging.NewMemory(nil)
	e := NewExecutor(log)

	out, err := e.Run(context.Background(), "echo ${DOMAIN} $DOMAIN", map[string]string{"DOMAIN": "a.example"})
	require.NoError(t, err)
	assert.Equal(t, "a.example a.example", out)
	assert.True(t, log.Contains(logging.LevelInformation, "执行命令: echo a.example"))

	out, err = e.Run(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExecutor_RunFailureIncludesOutput(t *testing.T) {
	e := NewExecutor(nil)
	_, err := e.Run(context.Background(), "echo broken >&2; exit 3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(nil).WithTimeout(100 * time.Millisecond)
	start := time.Now()
	_, err := e.Run(context.Background(), "sleep 5", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestBuildVars(t *testing.T) {
	mc := &model.ManagedCertificate{ID: "id", Name: "site", Domains: []string{"a.example", "b.example"}, CertificatePath: "/c/a.pfx"}
	vars := BuildVars(mc, "/c", "/c/cert.pem", "/c/key.pem", "/c/fullchain.pem")

	assert.Equal(t, "a.example", vars["DOMAIN"])
	assert.Equal(t, "a.example,b.example", vars["DOMAINS"])
	assert.Equal(t, "/c/a.pfx", vars["PFX_FILE"])
	_, hasExpiry := vars["EXPIRY"]
	assert.False(t, hasExpiry)
}
