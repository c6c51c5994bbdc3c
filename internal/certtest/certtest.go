// Package certtest 生成测试用的自签名证书
package certtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ssl-deployer/internal/storage"
)

// NewBundle 生成覆盖给定域名的自签名证书（有效期 90 天）
func NewBundle(t testing.TB, domains ...string) *storage.Bundle {
	t.Helper()
	return NewBundleValidUntil(t, time.Now().Add(90*24*time.Hour), domains...)
}

// NewBundleValidUntil 生成指定过期时间的自签名证书
func NewBundleValidUntil(t testing.TB, notAfter time.Time, domains ...string) *storage.Bundle {
	t.Helper()
	require.NotEmpty(t, domains)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: domains[0]},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              domains,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &storage.Bundle{PrivateKey: key, Certificate: cert}
}

// WritePFX 将证书写为 PFX 文件，返回路径
func WritePFX(t testing.TB, dir string, b *storage.Bundle, password string) string {
	t.Helper()
	data, err := storage.EncodePFX(b.PrivateKey, b.Certificate, b.CACerts, password)
	require.NoError(t, err)

	path := filepath.Join(dir, "test.pfx")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}
