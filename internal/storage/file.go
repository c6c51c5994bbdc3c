package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/provider"
)

// 证书目录下的文件名
const (
	CertFileName      = "cert.pem"
	KeyFileName       = "key.pem"
	FullchainFileName = "fullchain.pem"
	PFXFileName       = "certificate.pfx"
	StateFileName     = "state.json"
)

// FileStorage 文件存储，每个证书一个目录
type FileStorage struct {
	baseDir string
	log     logging.Logger
}

// NewFileStorage 创建文件存储
func NewFileStorage(baseDir string, log logging.Logger) *FileStorage {
	if log == nil {
		log = logging.Nop
	}
	return &FileStorage{baseDir: baseDir, log: log}
}

// SaveCertificate 保存 PEM 格式的证书、私钥和证书链
func (s *FileStorage) SaveCertificate(name string, cert *provider.Certificate) error {
	outputDir := s.GetCertDir(name)

	// 创建输出目录
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	// 保存证书
	certPath := filepath.Join(outputDir, CertFileName)
	if err := WriteFileAtomic(certPath, []byte(cert.Certificate), 0644); err != nil {
		return fmt.Errorf("保存证书失败: %w", err)
	}
	s.log.Verbose("  - 证书文件: %s", certPath)

	// 保存私钥
	if cert.PrivateKey != "" {
		keyPath := filepath.Join(outputDir, KeyFileName)
		if err := WriteFileAtomic(keyPath, []byte(cert.PrivateKey), 0600); err != nil {
			return fmt.Errorf("保存私钥失败: %w", err)
		}
		s.log.Verbose("  - 私钥文件: %s", keyPath)
	} else {
		s.log.Warning("  - 私钥不可用")
	}

	// 保存完整证书链
	fullchainPath := filepath.Join(outputDir, FullchainFileName)
	if err := WriteFileAtomic(fullchainPath, []byte(cert.FullChain()), 0644); err != nil {
		s.log.Warning("  - 保存证书链失败: %v", err)
	} else {
		s.log.Verbose("  - 证书链文件: %s", fullchainPath)
	}

	s.log.Information("证书已保存到: %s", outputDir)
	return nil
}

// SavePFX 保存 PFX 文件，返回文件路径
func (s *FileStorage) SavePFX(name string, data []byte) (string, error) {
	outputDir := s.GetCertDir(name)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	path := s.GetPFXPath(name)
	if err := WriteFileAtomic(path, data, 0600); err != nil {
		return "", fmt.Errorf("保存PFX失败: %w", err)
	}
	s.log.Verbose("  - PFX文件: %s", path)
	return path, nil
}

// GetCertDir 获取证书目录
func (s *FileStorage) GetCertDir(name string) string {
	return filepath.Join(s.baseDir, domain.FileName(name))
}

// GetCertPath 获取证书路径
func (s *FileStorage) GetCertPath(name string) string {
	return filepath.Join(s.GetCertDir(name), CertFileName)
}

// GetKeyPath 获取私钥路径
func (s *FileStorage) GetKeyPath(name string) string {
	return filepath.Join(s.GetCertDir(name), KeyFileName)
}

// GetFullchainPath 获取完整证书链路径
func (s *FileStorage) GetFullchainPath(name string) string {
	return filepath.Join(s.GetCertDir(name), FullchainFileName)
}

// GetPFXPath 获取 PFX 路径
func (s *FileStorage) GetPFXPath(name string) string {
	return filepath.Join(s.GetCertDir(name), PFXFileName)
}

// WriteFileAtomic 先写临时文件再重命名
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
