package storage_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/certtest"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/storage"
)

func TestFileStorage_SaveCertificateAndPFX(t *testing.T) {
	dir := t.TempDir()
	fs := storage.NewFileStorage(dir, nil)

	b := certtest.NewBundle(t, "*.example.com", "example.com")
	pemCert, err := b.PEM()
	require.NoError(t, err)

	require.NoError(t, fs.SaveCertificate("*.example.com", pemCert))
	assert.Equal(t, filepath.Join(dir, "_.example.com"), fs.GetCertDir("*.example.com"))

	for _, p := range []string{fs.GetCertPath("*.example.com"), fs.GetKeyPath("*.example.com"), fs.GetFullchainPath("*.example.com")} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	data, err := storage.EncodePFX(b.PrivateKey, b.Certificate, nil, "pw")
	require.NoError(t, err)
	path, err := fs.SavePFX("*.example.com", data)
	require.NoError(t, err)

	decoded, err := storage.ReadPFX(path, "pw")
	require.NoError(t, err)
	assert.Equal(t, b.Thumbprint(), decoded.Thumbprint())

	_, err = storage.ReadPFX(path, "wrong")
	assert.Error(t, err)
}

func TestReadLeaf_PEMAndPFX(t *testing.T) {
	dir := t.TempDir()
	b := certtest.NewBundle(t, "a.example")

	pfxPath := certtest.WritePFX(t, dir, b, "")
	leaf, err := storage.ReadLeaf(pfxPath, "")
	require.NoError(t, err)
	assert.Equal(t, "a.example", leaf.Subject.CommonName)

	pemCert, err := b.PEM()
	require.NoError(t, err)
	pemPath := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(pemPath, []byte(pemCert.Certificate), 0644))

	leaf, err = storage.ReadLeaf(pemPath, "")
	require.NoError(t, err)
	assert.Equal(t, storage.Thumbprint(b.Certificate), storage.Thumbprint(leaf))
}

func TestBundleFromPEM(t *testing.T) {
	b := certtest.NewBundle(t, "a.example")
	pemCert, err := b.PEM()
	require.NoError(t, err)

	round, err := storage.BundleFromPEM([]byte(pemCert.FullChain()), []byte(pemCert.PrivateKey))
	require.NoError(t, err)
	assert.Equal(t, b.Thumbprint(), round.Thumbprint())
	assert.Len(t, b.Thumbprint(), 40)
}

func TestAccountStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acme", "account.json")
	s := storage.NewAccountStore(path)

	_, _, err := s.Load()
	assert.True(t, errors.Is(err, os.ErrNotExist))

	rec, key, err := s.LoadOrCreateKey()
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NotNil(t, key)

	require.NoError(t, s.Save("admin@example.com", "https://acme.test/acct/1", key))

	rec, loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", rec.Email)
	assert.Equal(t, "https://acme.test/acct/1", rec.URI)

	want, err := storage.KeyThumbprint(key)
	require.NoError(t, err)
	got, err := storage.KeyThumbprint(loaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAccountStore_RejectsPublicKeyOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{"email":"a@b.c","key":{"kty":"EC","crv":"P-256","x":"`+
		b64(key.X.Bytes())+`","y":"`+b64(key.Y.Bytes())+`"}}`), 0600))

	_, _, err = storage.NewAccountStore(path).Load()
	assert.Error(t, err)
}

func TestFileStorage_State(t *testing.T) {
	fs := storage.NewFileStorage(t.TempDir(), nil)

	missing, err := fs.LoadState("a.example")
	require.NoError(t, err)
	assert.Nil(t, missing)

	expiry := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	mc := &model.ManagedCertificate{ID: "id-1", Domains: []string{"a.example"}, DateExpiry: expiry, LastStatus: model.RequestStateSuccess}
	require.NoError(t, fs.SaveState(mc))

	loaded, err := fs.LoadState("a.example")
	require.NoError(t, err)
	assert.Equal(t, "id-1", loaded.ID)
	assert.True(t, expiry.Equal(loaded.DateExpiry))
	assert.Equal(t, model.RequestStateSuccess, loaded.LastStatus)
}

func TestFileStorage_ListStates(t *testing.T) {
	dir := t.TempDir()
	fs := storage.NewFileStorage(dir, nil)

	states, err := fs.ListStates()
	require.NoError(t, err)
	assert.Empty(t, states)

	require.NoError(t, fs.SaveState(&model.ManagedCertificate{ID: "b", Domains: []string{"b.example"}}))
	require.NoError(t, fs.SaveState(&model.ManagedCertificate{ID: "a", Domains: []string{"a.example"}}))
	// 只有证书文件、没有状态的目录被忽略
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "c.example"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	states, err = fs.ListStates()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].ID)
	assert.Equal(t, "b", states[1].ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.example", storage.StateFileName), []byte("{"), 0644))
	_, err = fs.ListStates()
	assert.ErrorContains(t, err, "c.example")
}

func b64(b []byte) string {
	// P-256 坐标需要补齐到 32 字节
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return base64.RawURLEncoding.EncodeToString(padded)
}
