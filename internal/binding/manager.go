package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/metrics"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/storage"
)

// 步骤分类
const (
	CategoryCertificateStorage = "Certificate Storage"
	CategoryDeployment         = "Deployment"
	CategoryBinding            = "Binding"
)

// DefaultHTTPSPort 未配置端口时新建绑定使用的端口
const DefaultHTTPSPort = 443

// Manager 绑定部署管理器：比对目标上的现有绑定与证书所需的绑定，只新增或更新，从不删除
type Manager struct {
	log logging.Logger
}

// NewManager 创建绑定部署管理器
func NewManager(log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop
	}
	return &Manager{log: log}
}

type endpoint struct {
	host string
	ip   string
	port int
	sni  bool
}

// StoreAndDeploy 将证书存入目标的证书存储，再按申请配置更新各站点的绑定。
// 预览模式下只读取 PFX 计算指纹，返回计划执行的步骤
func (m *Manager) StoreAndDeploy(ctx context.Context, target Target, mc *model.ManagedCertificate,
	pfxPath, pfxPwd string, isPreviewOnly bool) ([]model.ActionStep, error) {
	if target == nil || mc == nil {
		return nil, fmt.Errorf("%w: 部署目标或受管证书为空", model.ErrConfigurationMissing)
	}
	cfg := mc.RequestConfig

	bundle, err := storage.ReadPFX(pfxPath, pfxPwd)
	if err != nil {
		return nil, err
	}
	hash := bundle.Thumbprint()
	storeName := cfg.CertificateStoreName
	if storeName == "" {
		storeName = DefaultStoreName
	}

	var steps []model.ActionStep
	step, err := m.storeCertificate(ctx, target, storeName, hash, pfxPath, pfxPwd, isPreviewOnly)
	if err != nil {
		return nil, err
	}
	steps = append(steps, step)

	if cfg.DeploymentSiteOption == "" || cfg.DeploymentSiteOption == model.DeploymentSiteNone {
		steps = append(steps, model.ActionStep{
			Category:    CategoryDeployment,
			Description: "未配置站点部署，跳过绑定",
		})
		return steps, nil
	}

	sites, err := m.targetSites(ctx, target, cfg)
	if err != nil {
		return steps, err
	}

	domains := certificateDomains(mc, bundle.Certificate.DNSNames)
	var errs []error
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		existing, err := target.GetSiteBindingList(ctx, false, site.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("读取站点 %s 的绑定失败: %w", site.Name, err))
			continue
		}
		siteSteps, err := m.deploySite(ctx, target, site, existing, domains, storeName, hash, cfg, isPreviewOnly)
		steps = append(steps, siteSteps...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return steps, errors.Join(errs...)
}

func (m *Manager) storeCertificate(ctx context.Context, target Target, storeName, hash, pfxPath, pfxPwd string,
	isPreviewOnly bool) (model.ActionStep, error) {
	exists, err := target.HasCertificate(ctx, storeName, hash)
	if err != nil {
		return model.ActionStep{}, fmt.Errorf("查询证书存储失败: %w", err)
	}
	if exists {
		return model.ActionStep{
			Category:    CategoryCertificateStorage,
			Description: fmt.Sprintf("证书 %s 已在存储 %s 中", hash, storeName),
		}, nil
	}

	step := model.ActionStep{
		Category:    CategoryCertificateStorage,
		Description: fmt.Sprintf("将证书 %s 存入存储 %s", hash, storeName),
		HasChanged:  true,
	}
	if isPreviewOnly {
		return step, nil
	}

	stored, err := target.StoreCertificate(ctx, storeName, pfxPath, pfxPwd)
	if err != nil {
		return model.ActionStep{}, fmt.Errorf("存储证书失败: %w", err)
	}
	if !strings.EqualFold(stored, hash) {
		return model.ActionStep{}, fmt.Errorf("存储后的证书指纹 %s 与 PFX 不一致 %s", stored, hash)
	}
	m.log.Information("[绑定] 证书 %s 已存入 %s", hash, storeName)
	return step, nil
}

func (m *Manager) targetSites(ctx context.Context, target Target, cfg model.CertRequestConfig) ([]model.SiteInfo, error) {
	sites, err := target.GetSites(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("读取站点列表失败: %w", err)
	}
	if cfg.DeploymentSiteOption != model.DeploymentSiteSingle {
		return sites, nil
	}
	if cfg.DeploymentSiteID == "" {
		return nil, fmt.Errorf("%w: 单站点部署未指定站点", model.ErrConfigurationMissing)
	}
	for _, s := range sites {
		if s.ID == cfg.DeploymentSiteID {
			return []model.SiteInfo{s}, nil
		}
	}
	return nil, fmt.Errorf("%w: 站点 %s 不存在或未运行", model.ErrConfigurationMissing, cfg.DeploymentSiteID)
}

func (m *Manager) deploySite(ctx context.Context, target Target, site model.SiteInfo, existing []model.BindingInfo,
	domains []string, storeName, hash string, cfg model.CertRequestConfig, isPreviewOnly bool) ([]model.ActionStep, error) {
	// 两个选项都未设置时按主机名匹配
	matchHostname := cfg.DeploymentBindingMatchHostname || !cfg.DeploymentBindingBlankHostname

	var web []endpoint
	seen := make(map[model.BindingKey]bool)
	add := func(e endpoint) {
		key := model.BindingKey{Protocol: model.ProtocolHTTPS, IP: model.NormalizeIP(e.ip), Port: e.port, Host: strings.ToLower(e.host)}
		if seen[key] {
			return
		}
		seen[key] = true
		web = append(web, e)
	}

	for _, b := range existing {
		if !strings.EqualFold(b.Protocol, model.ProtocolHTTPS) {
			continue
		}
		if b.Host == "" {
			if cfg.DeploymentBindingBlankHostname {
				add(endpoint{ip: b.IP, port: b.Port, sni: b.IsSNIEnabled})
			}
			continue
		}
		if matchHostname && matchesAny(domains, b.Host) {
			add(endpoint{host: b.Host, ip: b.IP, port: b.Port, sni: b.IsSNIEnabled})
		}
	}

	if cfg.DeploymentSiteOption == model.DeploymentSiteSingle && cfg.DeploymentBindingOption != model.DeploymentBindingUpdateOnly {
		port := cfg.BindingPort
		if port == 0 {
			port = DefaultHTTPSPort
		}
		for _, d := range domains {
			if strings.HasPrefix(d, "*.") || hasHost(web, d) {
				continue
			}
			add(endpoint{host: d, ip: cfg.BindingIPAddress, port: port, sni: cfg.BindingUseSNI})
		}
	}

	// 未启用空主机名绑定时，空主机名绑定不参与匹配，避免新主机名落到 *:443 上
	candidates := existing
	if !cfg.DeploymentBindingBlankHostname {
		candidates = withoutBlankHost(existing, model.ProtocolHTTPS)
	}

	var steps []model.ActionStep
	var errs []error
	handled := make(map[model.BindingKey]bool)
	for _, e := range web {
		desired := webBinding(e.host, e.ip, e.port, e.sni)
		s, applied, err := m.reconcile(ctx, target, site, candidates, desired, storeName, hash,
			cfg.AlwaysRecreateBindings, isPreviewOnly)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied == nil {
			continue
		}
		// 多个端点匹配到同一个绑定时只报告一次
		if handled[applied.Key()] {
			continue
		}
		handled[applied.Key()] = true
		steps = append(steps, s...)
		candidates = upsert(candidates, *applied)
	}

	ftpCount := 0
	if cfg.DeployToFTP {
		for _, b := range existing {
			if !strings.EqualFold(b.Protocol, model.ProtocolFTP) {
				continue
			}
			if b.Host != "" && !matchesAny(domains, b.Host) {
				continue
			}
			ftpCount++
			s, err := m.UpdateFtpBinding(ctx, target, site, existing, storeName, hash, b.Host, b.Port, b.IP, isPreviewOnly)
			steps = append(steps, s...)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(web) == 0 && ftpCount == 0 {
		steps = append(steps, model.ActionStep{
			Category:    CategoryDeployment,
			Description: fmt.Sprintf("站点 %s 没有需要更新的绑定", site.Name),
		})
	}
	return steps, errors.Join(errs...)
}

// UpdateWebBinding 将证书绑定到站点的 https 端点。
// 匹配优先级：ip+port+host 完全匹配，其次 ip+port 且主机名为空，否则新建。
// 匹配成功且 alwaysRecreateBindings 为 false 时原地更新证书，已是该证书时返回无变更步骤
func (m *Manager) UpdateWebBinding(ctx context.Context, target Target, site model.SiteInfo, existingBindings []model.BindingInfo,
	certStoreName, certHash, host string, sslPort int, useSNI bool, ipAddress string,
	alwaysRecreateBindings, isPreviewOnly bool) ([]model.ActionStep, error) {
	steps, _, err := m.reconcile(ctx, target, site, existingBindings, webBinding(host, ipAddress, sslPort, useSNI),
		certStoreName, certHash, alwaysRecreateBindings, isPreviewOnly)
	return steps, err
}

func webBinding(host, ip string, port int, useSNI bool) model.BindingInfo {
	return model.BindingInfo{
		Host:         host,
		IP:           ip,
		Port:         port,
		Protocol:     model.ProtocolHTTPS,
		IsSNIEnabled: useSNI && host != "",
	}
}

// UpdateFtpBinding 与 UpdateWebBinding 相同的匹配规则，作用于 ftp 绑定
func (m *Manager) UpdateFtpBinding(ctx context.Context, target Target, site model.SiteInfo, existingBindings []model.BindingInfo,
	certStoreName, certHash, host string, port int, ipAddress string, isPreviewOnly bool) ([]model.ActionStep, error) {
	desired := model.BindingInfo{
		Host:     host,
		IP:       ipAddress,
		Port:     port,
		Protocol: model.ProtocolFTP,
	}
	steps, _, err := m.reconcile(ctx, target, site, existingBindings, desired, certStoreName, certHash, false, isPreviewOnly)
	return steps, err
}

// reconcile 返回步骤以及执行后（预览时为计划执行后）目标上的绑定
func (m *Manager) reconcile(ctx context.Context, target Target, site model.SiteInfo, existing []model.BindingInfo,
	desired model.BindingInfo, storeName, hash string, alwaysRecreate, isPreviewOnly bool) ([]model.ActionStep, *model.BindingInfo, error) {
	if target == nil {
		return nil, nil, fmt.Errorf("%w: 部署目标为空", model.ErrConfigurationMissing)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if storeName == "" {
		storeName = DefaultStoreName
	}

	desired.SiteID = site.ID
	desired.SiteName = site.Name
	desired.IP = model.NormalizeIP(desired.IP)
	desired.Host = strings.ToLower(desired.Host)
	desired.CertificateHash = hash
	desired.CertificateStore = storeName

	match, err := bestMatch(site, existing, desired)
	if err != nil {
		return nil, nil, err
	}

	if match != nil && !alwaysRecreate {
		if strings.EqualFold(match.CertificateHash, hash) && strings.EqualFold(match.CertificateStore, storeName) {
			m.record(desired.Protocol, "unchanged", isPreviewOnly)
			current := *match
			return []model.ActionStep{{
				Category:    CategoryBinding,
				Description: fmt.Sprintf("%s 已绑定证书 %s，无需变更", match, hash),
			}}, &current, nil
		}

		updated := *match
		updated.SiteID = site.ID
		updated.CertificateHash = hash
		updated.CertificateStore = storeName
		step := model.ActionStep{
			Category:    CategoryBinding,
			Description: fmt.Sprintf("更新绑定 %s 的证书为 %s", match, hash),
			HasChanged:  true,
		}
		if isPreviewOnly {
			return []model.ActionStep{step}, &updated, nil
		}
		if err := target.UpdateBinding(ctx, updated); err != nil {
			return nil, nil, fmt.Errorf("更新绑定 %s 失败: %w", match, err)
		}
		m.log.Information("[绑定] 站点 %s: %s", site.Name, step.Description)
		m.record(desired.Protocol, "update", false)
		return []model.ActionStep{step}, &updated, nil
	}

	action, verb := "create", "新建"
	if match != nil {
		action, verb = "recreate", "重建"
	}
	step := model.ActionStep{
		Category:    CategoryBinding,
		Description: fmt.Sprintf("%s绑定 %s，证书 %s", verb, desired, hash),
		HasChanged:  true,
	}
	if isPreviewOnly {
		return []model.ActionStep{step}, &desired, nil
	}
	if err := target.AddBinding(ctx, desired); err != nil {
		return nil, nil, fmt.Errorf("%s绑定 %s 失败: %w", verb, desired, err)
	}
	m.log.Information("[绑定] 站点 %s: %s", site.Name, step.Description)
	m.record(desired.Protocol, action, false)
	return []model.ActionStep{step}, &desired, nil
}

func (m *Manager) record(protocol, action string, isPreviewOnly bool) {
	if isPreviewOnly {
		return
	}
	metrics.BindingChangesTotal.WithLabelValues(protocol, action).Inc()
}

// bestMatch 按优先级查找匹配的绑定，同一优先级有多个候选时返回 ErrBindingConflict
func bestMatch(site model.SiteInfo, existing []model.BindingInfo, desired model.BindingInfo) (*model.BindingInfo, error) {
	var exact, blank []*model.BindingInfo
	for i := range existing {
		b := &existing[i]
		if b.SiteID != "" && site.ID != "" && b.SiteID != site.ID {
			continue
		}
		if !strings.EqualFold(b.Protocol, desired.Protocol) || model.NormalizeIP(b.IP) != desired.IP || b.Port != desired.Port {
			continue
		}
		switch strings.ToLower(b.Host) {
		case desired.Host:
			exact = append(exact, b)
		case "":
			blank = append(blank, b)
		}
	}

	for _, candidates := range [][]*model.BindingInfo{exact, blank} {
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], nil
		default:
			return nil, fmt.Errorf("%w: %d 个绑定匹配 %s", model.ErrBindingConflict, len(candidates), desired)
		}
	}
	return nil, nil
}

// certificateDomains 受管证书覆盖的域名，未配置时使用证书中的 DNS 名称
func certificateDomains(mc *model.ManagedCertificate, dnsNames []string) []string {
	all := append(append([]string{}, mc.Domains...), mc.RequestConfig.AllDomains()...)
	if len(all) == 0 {
		all = dnsNames
	}
	return domain.Dedupe(all)
}

func matchesAny(domains []string, host string) bool {
	for _, d := range domains {
		if domain.MatchDomain(d, host) {
			return true
		}
	}
	return false
}

func hasHost(endpoints []endpoint, host string) bool {
	for _, e := range endpoints {
		if strings.EqualFold(e.host, host) {
			return true
		}
	}
	return false
}

// withoutBlankHost 去掉指定协议下主机名为空的绑定
func withoutBlankHost(bindings []model.BindingInfo, protocol string) []model.BindingInfo {
	out := make([]model.BindingInfo, 0, len(bindings))
	for _, b := range bindings {
		if b.Host == "" && strings.EqualFold(b.Protocol, protocol) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// upsert 按绑定标识替换或追加，返回新的切片
func upsert(bindings []model.BindingInfo, b model.BindingInfo) []model.BindingInfo {
	out := make([]model.BindingInfo, 0, len(bindings)+1)
	replaced := false
	for _, existing := range bindings {
		if existing.Key() == b.Key() {
			out = append(out, b)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, b)
	}
	return out
}
