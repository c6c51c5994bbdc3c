package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

func TestNewWebhookNotifier_Disabled(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil, nil))
	assert.Nil(t, NewWebhookNotifier(&Config{URL: "http://x"}, nil))

	var w *WebhookNotifier
	assert.False(t, w.IsEnabled())
	assert.NoError(t, w.NotifyCertRenewed(context.Background(), "example.com", "1"))
}

func TestNotify_DefaultJSON(t *testing.T) {
	var got EventData
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&Config{Enabled: true, URL: srv.URL, Headers: map[string]string{"X-Token": "t"}}, logging.Nop)
	require.NoError(t, n.NotifyCertRenewed(context.Background(), "example.com", "cert-1"))

	assert.Equal(t, string(EventCertRenewed), got.Event)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, "cert-1", got.Data["cert_id"])
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, got.ID, header.Get("X-Delivery-ID"))
	assert.Equal(t, "t", header.Get("X-Token"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestNotify_TemplateAndMethod(t *testing.T) {
	var body string
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, contentType = r.Method, r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&Config{
		Enabled:      true,
		URL:          srv.URL,
		Method:       "put",
		ContentType:  "text/plain",
		BodyTemplate: `{{.Event}} {{.Domain}} {{toJson .Data}}`,
	}, logging.Nop)
	require.NoError(t, n.NotifyCertFailed(context.Background(), "example.com", "boom"))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "text/plain", contentType)
	assert.Equal(t, `cert_failed example.com {"reason":"boom"}`, body)
}

func TestNotify_EventFilter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer srv.Close()

	n := NewWebhookNotifier(&Config{Enabled: true, URL: srv.URL, Events: []string{"cert_failed"}}, logging.Nop)
	assert.False(t, n.ShouldNotify(EventCertRenewed))
	require.NoError(t, n.NotifyCertRenewed(context.Background(), "example.com", "1"))
	assert.Zero(t, calls.Load())

	require.NoError(t, n.NotifyCertFailed(context.Background(), "example.com", "x"))
	assert.EqualValues(t, 1, calls.Load())
}

func TestNotify_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&Config{Enabled: true, URL: srv.URL, Retries: 3}, logging.Nop)
	n.backoff = time.Millisecond
	require.NoError(t, n.NotifyCertExpiring(context.Background(), "example.com", 5))
	assert.EqualValues(t, 3, calls.Load())

	calls.Store(-10)
	err := n.NotifyCertExpiring(context.Background(), "example.com", 5)
	assert.ErrorContains(t, err, "502")
}

func TestForRequest(t *testing.T) {
	assert.Nil(t, ForRequest(&model.CertRequestConfig{WebhookURL: "http://x", WebhookTrigger: model.WebhookTriggerNone}))
	assert.Nil(t, ForRequest(&model.CertRequestConfig{WebhookTrigger: model.WebhookTriggerAlways}))

	cfg := ForRequest(&model.CertRequestConfig{
		WebhookURL:         "http://hooks.example.com",
		WebhookTrigger:     model.WebhookTriggerOnError,
		WebhookMethod:      "GET",
		WebhookContentBody: "{{.Message}}",
	})
	require.NotNil(t, cfg)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "GET", cfg.Method)
	assert.Equal(t, "{{.Message}}", cfg.BodyTemplate)
}

func TestTriggerMatches(t *testing.T) {
	tests := []struct {
		trigger model.WebhookTrigger
		success bool
		want    bool
	}{
		{model.WebhookTriggerAlways, true, true},
		{model.WebhookTriggerAlways, false, true},
		{model.WebhookTriggerOnSuccess, true, true},
		{model.WebhookTriggerOnSuccess, false, false},
		{model.WebhookTriggerOnError, false, true},
		{model.WebhookTriggerOnError, true, false},
		{model.WebhookTriggerNone, false, false},
		{"", true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TriggerMatches(tt.trigger, tt.success), "%s/%v", tt.trigger, tt.success)
	}
}
