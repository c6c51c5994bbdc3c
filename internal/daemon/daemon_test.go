package daemon

import (
	"bytes"
	"context"
	"os"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/storage"
)

func newTestDaemon(t *testing.T) (*Daemon, *bytes.Buffer) {
	t.Helper()
	d := NewDaemon(filepath.Join(t.TempDir(), "config.yaml"))
	out := &bytes.Buffer{}
	d.Out = out
	return d, out
}

func TestNewDaemon_Paths(t *testing.T) {
	d, _ := newTestDaemon(t)
	dir := filepath.Dir(d.ConfigPath)
	assert.Equal(t, filepath.Join(dir, "ssl-deployer.pid"), d.PidFile)
	assert.Equal(t, filepath.Join(dir, "ssl-deployer.log"), d.LogFile)
}

func TestPidLifecycle(t *testing.T) {
	d, out := newTestDaemon(t)

	_, running := d.IsRunning()
	assert.False(t, running)
	d.Status()
	assert.Contains(t, out.String(), "守护进程未运行")

	require.NoError(t, d.WritePid())
	pid, running := d.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	out.Reset()
	d.Status()
	assert.Contains(t, out.String(), strconv.Itoa(os.Getpid()))

	d.RemovePid()
	_, running = d.IsRunning()
	assert.False(t, running)
}

func TestIsRunning_InvalidPidFile(t *testing.T) {
	d, _ := newTestDaemon(t)
	require.NoError(t, os.WriteFile(d.PidFile, []byte("not-a-pid"), 0644))
	_, running := d.IsRunning()
	assert.False(t, running)
}

func TestStop_NotRunning(t *testing.T) {
	d, _ := newTestDaemon(t)
	assert.ErrorContains(t, d.Stop(), "未运行")
}

func TestSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	done := make(chan struct{})
	go func() {
		Schedule(ctx, logging.Nop, 5*time.Millisecond, func(context.Context) {
			if runs.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestSignalHandler_Stop(t *testing.T) {
	h := NewSignalHandler(nil)
	h.Start()
	h.Stop()
	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}

func TestStatus_ReportsCertificateStates(t *testing.T) {
	d, out := newTestDaemon(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	d.CheckInterval = 24 * time.Hour

	store := storage.NewFileStorage(t.TempDir(), nil)
	require.NoError(t, store.SaveState(&model.ManagedCertificate{
		ID:              "shop",
		Domains:         []string{"shop.example.com"},
		DateExpiry:      now.Add(40 * 24 * time.Hour),
		DateLastAttempt: now.Add(-time.Hour),
		LastStatus:      model.RequestStateSuccess,
		LastMessage:     "证书已签发",
	}))
	require.NoError(t, store.SaveState(&model.ManagedCertificate{
		ID:          "api",
		Domains:     []string{"api.example.com"},
		LastStatus:  model.RequestStateError,
		LastMessage: "域名 api.example.com 验证失败\n(状态: invalid)",
	}))
	d.States = store

	require.NoError(t, d.WritePid())
	defer d.RemovePid()
	d.Status()

	text := out.String()
	assert.Contains(t, text, "守护进程运行中")
	assert.Contains(t, text, "检查间隔: 24h0m0s")

	lines := strings.Split(strings.TrimSpace(text), "\n")
	var api, shop string
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "api.example.com"):
			api = l
		case strings.HasPrefix(l, "shop.example.com"):
			shop = l
		}
	}
	require.NotEmpty(t, api)
	require.NotEmpty(t, shop)
	assert.Less(t, strings.Index(text, "api.example.com"), strings.Index(text, "shop.example.com"))

	assert.Contains(t, shop, "success")
	assert.Contains(t, shop, now.Add(40*24*time.Hour).Local().Format("2006-01-02"))
	assert.Contains(t, shop, " 40 ")
	assert.Contains(t, api, "error")
	assert.Contains(t, api, "验证失败 (状态: invalid)")
}

type failingStates struct{}

func (failingStates) ListStates() ([]*model.ManagedCertificate, error) {
	return nil, errors.New("permission denied")
}

func TestStatus_StateErrors(t *testing.T) {
	d, out := newTestDaemon(t)
	d.States = failingStates{}
	d.Status()
	assert.Contains(t, out.String(), "守护进程未运行")
	assert.Contains(t, out.String(), "permission denied")

	out.Reset()
	d.States = storage.NewFileStorage(filepath.Join(t.TempDir(), "missing"), nil)
	d.Status()
	assert.Contains(t, out.String(), "尚无证书状态记录")
}

func TestChildCommand(t *testing.T) {
	d, _ := newTestDaemon(t)
	cmd := d.childCommand("/usr/bin/ssl-deployer", os.Stderr)
	assert.Equal(t, []string{"/usr/bin/ssl-deployer", "-c", d.ConfigPath, "start"}, cmd.Args)
	assert.Contains(t, cmd.Env, EnvDaemonized+"=1")
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setsid)
}
