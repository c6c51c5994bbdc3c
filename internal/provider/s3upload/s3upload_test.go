package s3upload

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/certtest"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

type storedObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

type fakeClient struct {
	objects map[string]storedObject
	puts    int
}

func (f *fakeClient) PutObject(_ context.Context, in *s3aws.PutObjectInput, _ ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = storedObject{
		body:        body,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
	}
	f.puts++
	return &s3aws.PutObjectOutput{}, nil
}

func (f *fakeClient) HeadObject(_ context.Context, in *s3aws.HeadObjectInput, _ ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3aws.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func setup(t *testing.T) (*Provider, *fakeClient, *model.ManagedCertificate) {
	t.Helper()
	bundle := certtest.NewBundle(t, "*.example.com")
	mc := &model.ManagedCertificate{
		ID:              "mc",
		Domains:         []string{"*.example.com"},
		CertificatePath: certtest.WritePFX(t, t.TempDir(), bundle, "pw"),
		PFXPassword:     "pw",
	}
	client := &fakeClient{objects: map[string]storedObject{}}
	p := NewWithClient(func(context.Context, *model.DeploymentTaskConfig, model.Credentials) (Client, error) {
		return client, nil
	})
	return p, client, mc
}

func TestExecute_PFX(t *testing.T) {
	p, client, mc := setup(t)
	cfg := &model.DeploymentTaskConfig{Parameters: map[string]string{"bucket": "certs", "prefix": "/prod/"}}

	preview, err := p.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, true)
	require.NoError(t, err)
	assert.True(t, model.HasChanges(preview[0].Steps))
	assert.Zero(t, client.puts)

	results, err := p.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	assert.True(t, results[0].IsSuccess)
	require.Contains(t, client.objects, "certs/prod/_.example.com.pfx")
	obj := client.objects["certs/prod/_.example.com.pfx"]
	assert.Equal(t, "application/x-pkcs12", obj.contentType)
	assert.NotEmpty(t, obj.metadata[metadataThumbprint])

	again, err := p.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	assert.False(t, model.HasChanges(again[0].Steps))
	assert.Equal(t, 1, client.puts)
}

func TestExecute_Both(t *testing.T) {
	p, client, mc := setup(t)
	cfg := &model.DeploymentTaskConfig{Parameters: map[string]string{"bucket": "certs", "format": "both"}}

	results, err := p.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	require.NoError(t, err)
	assert.Len(t, results[0].Steps, 4)
	assert.Contains(t, client.objects, "certs/_.example.com.pfx")
	assert.Contains(t, client.objects, "certs/_.example.com/cert.pem")
	assert.Contains(t, string(client.objects["certs/_.example.com/key.pem"].body), "PRIVATE KEY")
	assert.Contains(t, client.objects, "certs/_.example.com/fullchain.pem")
}

func TestExecute_InvalidFormat(t *testing.T) {
	p, _, mc := setup(t)
	cfg := &model.DeploymentTaskConfig{Parameters: map[string]string{"bucket": "certs", "format": "der"}}
	_, err := p.Execute(context.Background(), logging.Nop, mc, cfg, model.Credentials{}, false)
	assert.ErrorIs(t, err, model.ErrValidationFailure)
}

func TestNewClient_PartialCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), &model.DeploymentTaskConfig{},
		model.NewCredentials(map[string]string{CredentialAccessKeyID: "AKIA"}))
	assert.ErrorIs(t, err, model.ErrConfigurationMissing)
}
