// Package localserver 基于本地文件的部署目标：站点与绑定保存在 YAML 状态文件中，证书以 PFX 保存在存储目录
package localserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"ssl-deployer/internal/binding"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/storage"
)

// Version 服务器版本标识
const Version = "localserver/1.0"

// State 状态文件内容
type State struct {
	Sites []Site `yaml:"sites"`
}

// Site 站点及其绑定
type Site struct {
	model.SiteInfo `yaml:",inline"`
	Bindings       []model.BindingInfo `yaml:"bindings,omitempty"`
}

// Server 本地部署目标
type Server struct {
	statePath string
	storeDir  string
	manager   *binding.Manager
	log       logging.Logger

	mu sync.Mutex
}

var (
	_ binding.Target          = (*Server)(nil)
	_ binding.CertifiedServer = (*Server)(nil)
)

// New 创建本地部署目标
func New(statePath, storeDir string, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop
	}
	return &Server{
		statePath: statePath,
		storeDir:  storeDir,
		manager:   binding.NewManager(log),
		log:       log,
	}
}

// GetServerVersion 返回版本标识
func (s *Server) GetServerVersion(context.Context) (string, error) {
	return Version, nil
}

// IsAvailable 状态文件存在时可用
func (s *Server) IsAvailable(context.Context) bool {
	_, err := os.Stat(s.statePath)
	return err == nil
}

// IsSiteRunning 查询站点是否运行
func (s *Server) IsSiteRunning(_ context.Context, siteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return false, err
	}
	site := state.find(siteID)
	if site == nil {
		return false, fmt.Errorf("站点 %s 不存在", siteID)
	}
	return site.IsRunning, nil
}

// GetSites 列出站点
func (s *Server) GetSites(_ context.Context, ignoreStoppedSites bool) ([]model.SiteInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	var sites []model.SiteInfo
	for _, site := range state.Sites {
		if ignoreStoppedSites && !site.IsRunning {
			continue
		}
		sites = append(sites, site.SiteInfo)
	}
	return sites, nil
}

// GetSiteBindingList 列出绑定
func (s *Server) GetSiteBindingList(_ context.Context, ignoreStoppedSites bool, siteID string) ([]model.BindingInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []model.BindingInfo
	for _, site := range state.Sites {
		if siteID != "" && site.ID != siteID {
			continue
		}
		if ignoreStoppedSites && !site.IsRunning {
			continue
		}
		for _, b := range site.Bindings {
			b.SiteID = site.ID
			b.SiteName = site.Name
			out = append(out, b)
		}
	}
	return out, nil
}

// HasCertificate 判断证书是否已存储
func (s *Server) HasCertificate(_ context.Context, storeName, thumbprint string) (bool, error) {
	_, err := os.Stat(s.certPath(storeName, thumbprint))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// StoreCertificate 将 PFX 复制到 <storeDir>/<storeName>/<指纹>.pfx
func (s *Server) StoreCertificate(_ context.Context, storeName, pfxPath, pfxPwd string) (string, error) {
	data, err := os.ReadFile(pfxPath)
	if err != nil {
		return "", fmt.Errorf("读取PFX失败: %w", err)
	}
	bundle, err := storage.DecodePFX(data, pfxPwd)
	if err != nil {
		return "", err
	}
	thumbprint := bundle.Thumbprint()
	path := s.certPath(storeName, thumbprint)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("创建证书存储目录失败: %w", err)
	}
	if err := storage.WriteFileAtomic(path, data, 0600); err != nil {
		return "", err
	}
	s.log.Verbose("[本地服务器] 证书 %s 已写入存储 %s", thumbprint, storeName)
	return thumbprint, nil
}

// AddBinding 写入绑定，相同标识的绑定被覆盖
func (s *Server) AddBinding(_ context.Context, b model.BindingInfo) error {
	return s.mutate(b.SiteID, func(site *Site) error {
		if i := indexOf(site.Bindings, b); i >= 0 {
			site.Bindings[i] = stored(b)
			return nil
		}
		site.Bindings = append(site.Bindings, stored(b))
		return nil
	})
}

// UpdateBinding 更新已有绑定
func (s *Server) UpdateBinding(_ context.Context, b model.BindingInfo) error {
	return s.mutate(b.SiteID, func(site *Site) error {
		i := indexOf(site.Bindings, b)
		if i < 0 {
			return fmt.Errorf("绑定 %s 不存在", b)
		}
		site.Bindings[i] = stored(b)
		return nil
	})
}

// InstallCertForRequest 存储证书并按申请配置部署
func (s *Server) InstallCertForRequest(ctx context.Context, mc *model.ManagedCertificate, pfxPath, pfxPwd string,
	isPreviewOnly bool) ([]model.ActionStep, error) {
	return s.manager.StoreAndDeploy(ctx, s, mc, pfxPath, pfxPwd, isPreviewOnly)
}

// InstallCertificateforBinding 将已存储的证书绑定到站点端点
func (s *Server) InstallCertificateforBinding(ctx context.Context, storeName, certHash string, site model.SiteInfo,
	host string, sslPort int, useSNI bool, ipAddress string, isPreviewOnly bool) ([]model.ActionStep, error) {
	existing, err := s.GetSiteBindingList(ctx, false, site.ID)
	if err != nil {
		return nil, err
	}
	return s.manager.UpdateWebBinding(ctx, s, site, existing, storeName, certHash, host, sslPort, useSNI, ipAddress,
		false, isPreviewOnly)
}

func (s *Server) certPath(storeName, thumbprint string) string {
	if storeName == "" {
		storeName = binding.DefaultStoreName
	}
	return filepath.Join(s.storeDir, filepath.Base(storeName), strings.ToUpper(thumbprint)+".pfx")
}

func (s *Server) mutate(siteID string, fn func(*Site) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	site := state.find(siteID)
	if site == nil {
		return fmt.Errorf("站点 %s 不存在", siteID)
	}
	if err := fn(site); err != nil {
		return err
	}
	return s.save(state)
}

// load 读取状态文件，文件不存在时返回空状态
func (s *Server) load() (*State, error) {
	data, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取状态文件失败: %w", err)
	}
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("解析状态文件失败: %w", err)
	}
	return &state, nil
}

func (s *Server) save(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("创建状态目录失败: %w", err)
	}
	return storage.WriteFileAtomic(s.statePath, data, 0644)
}

func (st *State) find(siteID string) *Site {
	for i := range st.Sites {
		if st.Sites[i].ID == siteID {
			return &st.Sites[i]
		}
	}
	return nil
}

func indexOf(bindings []model.BindingInfo, b model.BindingInfo) int {
	key := b.Key()
	for i := range bindings {
		existing := bindings[i]
		existing.SiteID = b.SiteID
		if existing.Key() == key {
			return i
		}
	}
	return -1
}

// stored 站点信息由所属站点给出，不重复写入
func stored(b model.BindingInfo) model.BindingInfo {
	b.SiteID = ""
	b.SiteName = ""
	b.IP = model.NormalizeIP(b.IP)
	return b
}
