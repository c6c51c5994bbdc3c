package deploy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

// fakeProvider 可编排行为的部署提供商
type fakeProvider struct {
	id      string
	title   string
	params  []model.ProviderParameter
	results []model.ActionResult
	err     error
	panics  any

	calls       int
	lastPreview bool
	lastCreds   model.Credentials
}

func (f *fakeProvider) Definition() model.ProviderDefinition {
	title := f.title
	if title == "" {
		title = "Fake " + f.id
	}
	return model.ProviderDefinition{ID: f.id, Title: title, Parameters: f.params}
}

func (f *fakeProvider) Execute(_ context.Context, _ logging.Logger, _ *model.ManagedCertificate,
	_ *model.DeploymentTaskConfig, creds model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	f.calls++
	f.lastPreview = isPreviewOnly
	f.lastCreds = creds
	if f.panics != nil {
		panic(f.panics)
	}
	return f.results, f.err
}

func subject() *model.ManagedCertificate {
	return &model.ManagedCertificate{ID: "mc-1", Domains: []string{"a.example"}}
}

func TestTask_ReturnsProviderResults(t *testing.T) {
	p := &fakeProvider{id: "copy", results: []model.ActionResult{model.Success("copied")}}
	task := NewTask(p, &model.DeploymentTaskConfig{TaskName: "Copy", ProviderID: "copy"}, model.Credentials{})

	results := task.Execute(context.Background(), nil, subject(), false)
	assert.Equal(t, []model.ActionResult{model.Success("copied")}, results)
}

func TestTask_MissingProviderOrConfig(t *testing.T) {
	cases := map[string]*Task{
		"nil provider": NewTask(nil, &model.DeploymentTaskConfig{TaskName: "x"}, model.Credentials{}),
		"nil config":   NewTask(&fakeProvider{id: "p"}, nil, model.Credentials{}),
		"both nil":     {},
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			results := task.Execute(context.Background(), nil, subject(), false)
			require.Len(t, results, 1)
			assert.False(t, results[0].IsSuccess)
			assert.Equal(t, "Cannot Execute Deployment Task: TaskProvider or Config not set.", results[0].Message)
		})
	}
}

func TestTask_ProviderErrorBecomesSingleFailure(t *testing.T) {
	p := &fakeProvider{id: "upload", title: "Upload To Bucket", err: errors.New("access denied")}
	task := NewTask(p, &model.DeploymentTaskConfig{TaskName: "Publish", ProviderID: "upload"}, model.Credentials{})
	log := logging.NewMemory(nil)

	results := task.Execute(context.Background(), log, subject(), false)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsSuccess)
	assert.False(t, results[0].Abort)
	assert.Contains(t, results[0].Message, "Publish")
	assert.Contains(t, results[0].Message, "Upload To Bucket")
	assert.Contains(t, results[0].Message, "access denied")
	assert.True(t, log.Contains(logging.LevelError, "access denied"))
}

func TestTask_ProviderPanicIsRecovered(t *testing.T) {
	p := &fakeProvider{id: "boom", title: "Boom", panics: "nil map write"}
	task := NewTask(p, &model.DeploymentTaskConfig{TaskName: "Explode", ProviderID: "boom"}, model.Credentials{})

	var results []model.ActionResult
	require.NotPanics(t, func() {
		results = task.Execute(context.Background(), nil, subject(), false)
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].IsSuccess)
	assert.Contains(t, results[0].Message, "Explode")
	assert.Contains(t, results[0].Message, "Boom")
	assert.Contains(t, results[0].Message, "nil map write")
}

func TestTask_PreviewFlagPassedThrough(t *testing.T) {
	p := &fakeProvider{id: "p", results: []model.ActionResult{model.Success("planned")}}
	creds := model.NewCredentials(map[string]string{"token": "t"})
	task := NewTask(p, &model.DeploymentTaskConfig{TaskName: "P", ProviderID: "p"}, creds)

	task.Execute(context.Background(), nil, subject(), true)
	assert.True(t, p.lastPreview)
	assert.Equal(t, "t", p.lastCreds.Get("token"))

	task.Execute(context.Background(), nil, subject(), false)
	assert.False(t, p.lastPreview)
}

func TestTask_MissingRequiredParameter(t *testing.T) {
	p := &fakeProvider{id: "folder", params: []model.ProviderParameter{{Key: "path", Required: true}}}
	task := NewTask(p, &model.DeploymentTaskConfig{TaskName: "Folder", ProviderID: "folder"}, model.Credentials{})

	results := task.Execute(context.Background(), nil, subject(), false)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsSuccess)
	assert.Contains(t, results[0].Message, "path")
	assert.Equal(t, 0, p.calls)
}

func TestTask_CancelledContext(t *testing.T) {
	p := &fakeProvider{id: "p"}
	task := NewTask(p, &model.DeploymentTaskConfig{TaskName: "P", ProviderID: "p"}, model.Credentials{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := task.Execute(ctx, nil, subject(), false)
	require.Len(t, results, 1)
	assert.True(t, results[0].Abort)
	assert.Equal(t, 0, p.calls)
}
