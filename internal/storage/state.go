package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ssl-deployer/internal/model"
)

// SaveState 保存受管证书状态
func (s *FileStorage) SaveState(mc *model.ManagedCertificate) error {
	dir := s.GetCertDir(mc.PrimaryDomain())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	data, err := json.MarshalIndent(mc, "", "  ")
	if err != nil {
		return fmt.Errorf("编码证书状态失败: %w", err)
	}
	return WriteFileAtomic(filepath.Join(dir, StateFileName), data, 0644)
}

// LoadState 读取受管证书状态，文件不存在时返回 nil, nil
func (s *FileStorage) LoadState(primaryDomain string) (*model.ManagedCertificate, error) {
	data, err := os.ReadFile(filepath.Join(s.GetCertDir(primaryDomain), StateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取证书状态失败: %w", err)
	}
	var mc model.ManagedCertificate
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("解析证书状态失败: %w", err)
	}
	return &mc, nil
}

// ListStates 读取输出目录下所有受管证书状态，按主域名排序。目录不存在时返回空
func (s *FileStorage) ListStates() ([]*model.ManagedCertificate, error) {
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取输出目录失败: %w", err)
	}

	var states []*model.ManagedCertificate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, e.Name(), StateFileName))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("读取证书状态失败: %w", err)
		}
		var mc model.ManagedCertificate
		if err := json.Unmarshal(data, &mc); err != nil {
			return nil, fmt.Errorf("解析 %s 的证书状态失败: %w", e.Name(), err)
		}
		states = append(states, &mc)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].PrimaryDomain() < states[j].PrimaryDomain()
	})
	return states, nil
}
