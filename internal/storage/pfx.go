package storage

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// Bundle 解析后的证书包
type Bundle struct {
	PrivateKey  crypto.PrivateKey
	Certificate *x509.Certificate
	CACerts     []*x509.Certificate
}

// Thumbprint 证书指纹（SHA-1，大写十六进制）
func (b *Bundle) Thumbprint() string {
	return Thumbprint(b.Certificate)
}

// PEM 转换为 PEM 格式
func (b *Bundle) PEM() (*provider.Certificate, error) {
	cert := &provider.Certificate{
		Certificate: string(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(b.Certificate.Raw))),
	}
	if b.PrivateKey != nil {
		switch b.PrivateKey.(type) {
		case *ecdsa.PrivateKey, *rsa.PrivateKey:
			cert.PrivateKey = string(certcrypto.PEMEncode(b.PrivateKey))
		default:
			return nil, fmt.Errorf("不支持的私钥类型 %T", b.PrivateKey)
		}
	}
	var chain strings.Builder
	for _, ca := range b.CACerts {
		chain.Write(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(ca.Raw)))
	}
	cert.Chain = chain.String()
	return cert, nil
}

// Thumbprint 计算证书指纹
func Thumbprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// EncodePFX 将私钥和证书链编码为 PFX
func EncodePFX(key crypto.PrivateKey, cert *x509.Certificate, caCerts []*x509.Certificate, password string) ([]byte, error) {
	data, err := pkcs12.Modern.Encode(key, cert, caCerts, password)
	if err != nil {
		return nil, fmt.Errorf("编码PFX失败: %w", err)
	}
	return data, nil
}

// DecodePFX 解析 PFX 数据
func DecodePFX(data []byte, password string) (*Bundle, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("解析PFX失败: %w", err)
	}
	return &Bundle{PrivateKey: key, Certificate: cert, CACerts: caCerts}, nil
}

// ReadPFX 读取并解析 PFX 文件
func ReadPFX(path, password string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取PFX文件失败: %w", err)
	}
	return DecodePFX(data, password)
}

// ReadManaged 读取受管证书的 PFX 文件
func ReadManaged(mc *model.ManagedCertificate) (*Bundle, error) {
	if mc == nil || mc.CertificatePath == "" {
		return nil, fmt.Errorf("%w: 受管证书尚未签发", model.ErrConfigurationMissing)
	}
	return ReadPFX(mc.CertificatePath, mc.PFXPassword)
}

// ReadLeaf 从 PFX 或 PEM 文件中读取叶子证书
func ReadLeaf(path, password string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取证书文件失败: %w", err)
	}
	if strings.Contains(string(data), "-----BEGIN") {
		certs, err := certcrypto.ParsePEMBundle(data)
		if err != nil {
			return nil, fmt.Errorf("解析PEM证书失败: %w", err)
		}
		return certs[0], nil
	}
	b, err := DecodePFX(data, password)
	if err != nil {
		return nil, err
	}
	return b.Certificate, nil
}

// BundleFromPEM 从 PEM 证书链与私钥构造证书包
func BundleFromPEM(certPEM, keyPEM []byte) (*Bundle, error) {
	certs, err := certcrypto.ParsePEMBundle(certPEM)
	if err != nil {
		return nil, fmt.Errorf("解析证书链失败: %w", err)
	}
	key, err := certcrypto.ParsePEMPrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return &Bundle{PrivateKey: key, Certificate: certs[0], CACerts: certs[1:]}, nil
}
