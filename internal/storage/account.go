package storage

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jose "gopkg.in/square/go-jose.v2"
)

// AccountRecord 持久化的 ACME 账户
type AccountRecord struct {
	Email string          `json:"email"`
	URI   string          `json:"uri,omitempty"`
	Key   json.RawMessage `json:"key"`
}

// AccountStore ACME 账户文件，私钥以 JWK 格式保存
type AccountStore struct {
	path string
}

// NewAccountStore 创建账户存储
func NewAccountStore(path string) *AccountStore {
	return &AccountStore{path: path}
}

// Path 账户文件路径
func (s *AccountStore) Path() string {
	return s.path
}

// Load 读取账户，文件不存在时返回 os.ErrNotExist
func (s *AccountStore) Load() (*AccountRecord, crypto.Signer, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, err
	}

	var rec AccountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("解析账户文件失败: %w", err)
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(rec.Key); err != nil {
		return nil, nil, fmt.Errorf("解析账户私钥失败: %w", err)
	}
	if jwk.IsPublic() {
		return nil, nil, fmt.Errorf("账户文件中只有公钥")
	}
	signer, ok := jwk.Key.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("不支持的账户私钥类型 %T", jwk.Key)
	}
	return &rec, signer, nil
}

// LoadOrCreateKey 读取账户私钥，不存在时生成新的 P-256 私钥（尚未保存）
func (s *AccountStore) LoadOrCreateKey() (*AccountRecord, crypto.Signer, error) {
	rec, key, err := s.Load()
	if err == nil {
		return rec, key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}

	key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("生成账户私钥失败: %w", err)
	}
	return nil, key, nil
}

// Save 保存账户
func (s *AccountStore) Save(email, uri string, key crypto.Signer) error {
	jwk := jose.JSONWebKey{Key: key, Use: "sig"}
	keyJSON, err := jwk.MarshalJSON()
	if err != nil {
		return fmt.Errorf("编码账户私钥失败: %w", err)
	}

	data, err := json.MarshalIndent(AccountRecord{Email: email, URI: uri, Key: keyJSON}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("创建账户目录失败: %w", err)
	}
	return WriteFileAtomic(s.path, data, 0600)
}

// KeyThumbprint 计算账户公钥的 JWK 指纹（RFC 7638）
func KeyThumbprint(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
