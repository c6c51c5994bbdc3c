package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"golang.org/x/sync/errgroup"

	"ssl-deployer/internal/acme"
	"ssl-deployer/internal/config"
	"ssl-deployer/internal/deploy"
	"ssl-deployer/internal/dnscheck"
	"ssl-deployer/internal/hook"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/metrics"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/notification"
	"ssl-deployer/internal/plugin"
	"ssl-deployer/internal/provider"
	"ssl-deployer/internal/server"
	"ssl-deployer/internal/storage"
)

const userAgent = "ssl-deployer"

// Report 单个证书的处理结果
type Report struct {
	Certificate *model.ManagedCertificate
	// Renewed 本次是否签发了新证书
	Renewed bool
	// Skipped 证书仍有效，未申请也未部署
	Skipped bool
	Results []model.ActionResult
	Log     *logging.Memory
	Err     error
}

// Failures 返回失败的部署结果消息
func (r *Report) Failures() []string {
	var out []string
	for _, res := range r.Results {
		if !res.IsSuccess {
			out = append(out, res.Message)
		}
	}
	return out
}

// Manager 证书管理器
type Manager struct {
	config     *config.Config
	registry   *plugin.Registry
	storage    *storage.FileStorage
	validator  *Validator
	hooks      *hook.Executor
	pipeline   *deploy.Pipeline
	notifier   *notification.WebhookNotifier
	challenges *server.ChallengeStore
	checker    *dnscheck.Checker
	log        logging.Logger

	issuer      acme.Issuer
	acmeOptions []acme.Option

	mu     sync.Mutex
	client *acme.Client
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(log logging.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithRegistry 使用指定的提供商注册表
func WithRegistry(r *plugin.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithIssuer 使用指定的 ACME 服务端，默认按账户配置连接 directory_url
func WithIssuer(issuer acme.Issuer) Option {
	return func(m *Manager) { m.issuer = issuer }
}

// WithACMEOptions 追加 ACME 状态机选项
func WithACMEOptions(opts ...acme.Option) Option {
	return func(m *Manager) { m.acmeOptions = append(m.acmeOptions, opts...) }
}

// WithChallengeStore 使用指定的 HTTP-01 挑战存储
func WithChallengeStore(store *server.ChallengeStore) Option {
	return func(m *Manager) { m.challenges = store }
}

// NewManager 创建管理器
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		config:     cfg,
		challenges: server.NewChallengeStore(),
		log:        logging.NewStd("", false),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.registry == nil {
		r, err := NewRegistry()
		if err != nil {
			return nil, err
		}
		m.registry = r
	}

	m.storage = storage.NewFileStorage(cfg.OutputDir, m.log)
	m.validator = NewValidator(m.log)
	m.hooks = hook.NewExecutor(m.log)
	m.pipeline = deploy.NewPipeline(m.registry, configCredentials{cfg})
	m.notifier = notification.NewWebhookNotifier(cfg.Webhook, m.log)
	if cfg.DNSCheck.Enabled {
		m.checker = dnscheck.NewChecker(cfg.DNSCheck.Nameservers, 5*time.Second)
	}
	return m, nil
}

// configCredentials 以配置中的凭证集作为部署任务的凭证来源
type configCredentials struct {
	cfg *config.Config
}

func (c configCredentials) Credentials(id string) (model.Credentials, bool) {
	return c.cfg.CredentialSet(id)
}

// GetConfig 获取配置
func (m *Manager) GetConfig() *config.Config {
	return m.config
}

// Registry 返回提供商注册表
func (m *Manager) Registry() *plugin.Registry {
	return m.registry
}

// Challenges 返回 HTTP-01 挑战存储，由挑战服务器对外提供
func (m *Manager) Challenges() *server.ChallengeStore {
	return m.challenges
}

// NeedsHTTPChallenge 是否有证书使用 HTTP-01 验证
func (m *Manager) NeedsHTTPChallenge() bool {
	for i := range m.config.Certificates {
		rc := &m.config.Certificates[i].Request
		for _, d := range rc.AllDomains() {
			if rc.ChallengeFor(d).ChallengeType == model.ChallengeTypeHTTP01 {
				return true
			}
		}
	}
	return false
}

// Run 检查全部证书，需要时申请并部署。证书之间并发处理，并发数由 concurrency 限制
func (m *Manager) Run(ctx context.Context) ([]*Report, error) {
	m.log.Information("========== 开始检查证书 ==========")

	reports := make([]*Report, len(m.config.Certificates))
	var g errgroup.Group
	g.SetLimit(max(m.config.Concurrency, 1))
	for i := range m.config.Certificates {
		cc := &m.config.Certificates[i]
		g.Go(func() error {
			reports[i] = m.ProcessCertificate(ctx, cc, false)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Certificate.PrimaryDomain(), r.Err))
			m.log.Error("处理证书 %s 失败: %v", r.Certificate.PrimaryDomain(), r.Err)
		}
	}

	m.log.Information("========== 检查完成 ==========")
	return reports, errors.Join(errs...)
}

// ProcessCertificate 处理单个证书：判断是否需要续期，申请证书，保存文件，执行钩子和部署任务
func (m *Manager) ProcessCertificate(ctx context.Context, cc *config.CertificateConfig, force bool) *Report {
	log := logging.NewMemory(m.log)
	mc := m.load(cc)
	report := &Report{Certificate: mc, Log: log}
	primary := mc.PrimaryDomain()

	log.Information("\n========== 处理证书: %s ==========", primary)
	log.Information("  域名: %s", strings.Join(mc.Domains, ", "))

	needRenew, expiry := m.validator.NeedRenew(ctx, mc, cc.RenewDays)
	if !mc.DateExpiry.IsZero() {
		metrics.CertificateExpiryDays.WithLabelValues(primary).Set(float64(mc.DaysUntilExpiry(time.Now())))
	}
	if !needRenew && !force {
		log.Information("证书有效，无需续期")
		report.Skipped = true
		return report
	}
	if !expiry.IsZero() && m.notifier != nil {
		days := int(time.Until(expiry).Hours() / 24)
		if err := m.notifier.NotifyCertExpiring(ctx, primary, days); err != nil {
			log.Warning("发送过期提醒失败: %v", err)
		}
	}

	mc.DateLastAttempt = time.Now()
	if err := m.issue(ctx, log, mc); err != nil {
		mc.LastStatus = model.RequestStateError
		mc.LastMessage = err.Error()
		report.Err = err
		m.saveState(log, mc)

		report.Results = m.pipeline.Run(ctx, log, mc, cc.Tasks, false, false)
		m.notifyResult(ctx, log, mc, report)
		return report
	}
	report.Renewed = true

	m.runPostHook(ctx, log, mc)

	report.Results = m.pipeline.Run(ctx, log, mc, cc.Tasks, true, false)
	if failures := report.Failures(); len(failures) > 0 {
		mc.LastStatus = model.RequestStateWarning
		mc.LastMessage = fmt.Sprintf("证书已签发，%d 个部署任务失败", len(failures))
	}
	m.saveState(log, mc)
	m.notifyResult(ctx, log, mc, report)

	log.Information("证书 %s 处理完成！", primary)
	return report
}

// issue 执行前置钩子并通过 ACME 申请证书，成功后保存 PEM、PFX 和状态
func (m *Manager) issue(ctx context.Context, log logging.Logger, mc *model.ManagedCertificate) error {
	primary := mc.PrimaryDomain()
	rc := mc.RequestConfig

	if rc.PreRequestHook != "" {
		log.Information("执行前置命令...")
		if _, err := m.hooks.Run(ctx, rc.PreRequestHook, m.vars(mc)); err != nil {
			return fmt.Errorf("前置命令失败: %w", err)
		}
	}

	client, err := m.ensureClient(ctx)
	if err != nil {
		return err
	}

	var sans []string
	if len(mc.Domains) > 1 {
		sans = mc.Domains[1:]
	}
	result, err := client.PerformCertificateRequestProcess(ctx, primary, sans, rc, &resolver{m: m, log: log})
	if err != nil {
		if result != nil {
			log.Error("证书申请在 %s 阶段失败: %s", result.Step, result.Message)
		}
		if result != nil && result.Step == acme.StepValidate && !result.IsTerminal && m.notifier != nil {
			if nerr := m.notifier.NotifyDNSValidationTimeout(ctx, primary, mc.ID); nerr != nil {
				log.Warning("发送验证超时通知失败: %v", nerr)
			}
		}
		return fmt.Errorf("申请证书失败: %w", err)
	}

	return m.store(log, mc, result.Certificate)
}

// store 保存签发的证书并更新受管证书
func (m *Manager) store(log logging.Logger, mc *model.ManagedCertificate, issued *model.IssuedCertificate) error {
	primary := mc.PrimaryDomain()

	chain := append(append([]byte{}, issued.CertificatePEM...), issued.IssuerPEM...)
	bundle, err := storage.BundleFromPEM(chain, issued.PrivateKeyPEM)
	if err != nil {
		return err
	}

	if err := m.storage.SaveCertificate(primary, &provider.Certificate{
		Certificate: string(issued.CertificatePEM),
		PrivateKey:  string(issued.PrivateKeyPEM),
		Chain:       string(issued.IssuerPEM),
	}); err != nil {
		return fmt.Errorf("保存证书失败: %w", err)
	}

	pfx, err := storage.EncodePFX(bundle.PrivateKey, bundle.Certificate, bundle.CACerts, mc.PFXPassword)
	if err != nil {
		return err
	}
	path, err := m.storage.SavePFX(primary, pfx)
	if err != nil {
		return err
	}

	mc.CertificatePath = path
	mc.DateStart = issued.NotBefore
	mc.DateExpiry = issued.NotAfter
	mc.DateRenewed = time.Now()
	mc.LastStatus = model.RequestStateSuccess
	mc.LastMessage = fmt.Sprintf("证书已签发，有效期至 %s", issued.NotAfter.Format("2006-01-02"))
	metrics.CertificateExpiryDays.WithLabelValues(primary).Set(float64(mc.DaysUntilExpiry(time.Now())))
	log.Information("证书指纹: %s", bundle.Thumbprint())
	return nil
}

// runPostHook 执行证书级或全局的后置命令，失败只记录日志
func (m *Manager) runPostHook(ctx context.Context, log logging.Logger, mc *model.ManagedCertificate) {
	command := mc.RequestConfig.PostRequestHook
	if command == "" {
		command = m.config.PostCommand
	}
	if command == "" {
		return
	}
	log.Information("执行后置命令...")
	if _, err := m.hooks.Run(ctx, command, m.vars(mc)); err != nil {
		log.Warning("执行后置命令失败: %v", err)
	}
}

func (m *Manager) vars(mc *model.ManagedCertificate) map[string]string {
	name := mc.PrimaryDomain()
	return hook.BuildVars(mc,
		m.storage.GetCertDir(name),
		m.storage.GetCertPath(name),
		m.storage.GetKeyPath(name),
		m.storage.GetFullchainPath(name),
	)
}

// notifyResult 发送全局通知和证书级 Webhook
func (m *Manager) notifyResult(ctx context.Context, log logging.Logger, mc *model.ManagedCertificate, report *Report) {
	primary := mc.PrimaryDomain()
	success := report.Err == nil

	if m.notifier != nil {
		var err error
		switch {
		case !success:
			err = m.notifier.NotifyCertFailed(ctx, primary, report.Err.Error())
		default:
			err = m.notifier.NotifyCertRenewed(ctx, primary, mc.ID)
		}
		if err != nil {
			log.Warning("发送通知失败: %v", err)
		}
		if failures := report.Failures(); len(failures) > 0 {
			if err := m.notifier.NotifyDeploymentFailed(ctx, primary, failures); err != nil {
				log.Warning("发送部署失败通知失败: %v", err)
			}
		}
	}

	cfg := notification.ForRequest(&mc.RequestConfig)
	if cfg == nil || !notification.TriggerMatches(mc.RequestConfig.WebhookTrigger, success) {
		return
	}
	event := notification.EventCertRenewed
	if !success {
		event = notification.EventCertFailed
	}
	data := map[string]any{
		"cert_id": mc.ID,
		"domains": mc.Domains,
		"status":  string(mc.LastStatus),
	}
	if !mc.DateExpiry.IsZero() {
		data["expiry"] = mc.DateExpiry.Format(time.RFC3339)
	}
	if err := notification.NewWebhookNotifier(cfg, log).Notify(ctx, event, primary, mc.LastMessage, data); err != nil {
		log.Warning("证书 Webhook 发送失败: %v", err)
	}
}

// Preview 预览证书的处理计划，不申请证书，不修改任何目标
func (m *Manager) Preview(ctx context.Context, idOrDomain string) ([]model.ActionResult, error) {
	cc, ok := m.config.Certificate(idOrDomain)
	if !ok {
		return nil, fmt.Errorf("%w: 证书 %s 不存在", model.ErrConfigurationMissing, idOrDomain)
	}
	mc := m.load(cc)

	needRenew, _ := m.validator.NeedRenew(ctx, mc, cc.RenewDays)
	var steps []model.ActionStep
	for _, d := range mc.Domains {
		ch := mc.RequestConfig.ChallengeFor(d)
		desc := fmt.Sprintf("%s 使用 %s 验证", d, ch.ChallengeType)
		if ch.ChallengeProvider != "" {
			desc += fmt.Sprintf(" (%s)", ch.ChallengeProvider)
		}
		steps = append(steps, model.ActionStep{Category: "Certificate Request", Description: desc, HasChanged: needRenew})
	}
	msg := "证书有效，无需续期"
	if needRenew {
		msg = fmt.Sprintf("将申请证书 %s", strings.Join(mc.Domains, ", "))
	}

	results := []model.ActionResult{model.Success(msg).WithSteps(steps)}
	return append(results, m.pipeline.Preview(ctx, m.log, mc, cc.Tasks)...), nil
}

// Deploy 对已签发的证书重新执行部署任务
func (m *Manager) Deploy(ctx context.Context, idOrDomain string) ([]model.ActionResult, error) {
	cc, ok := m.config.Certificate(idOrDomain)
	if !ok {
		return nil, fmt.Errorf("%w: 证书 %s 不存在", model.ErrConfigurationMissing, idOrDomain)
	}
	mc := m.load(cc)
	if mc.CertificatePath == "" {
		return nil, fmt.Errorf("%w: 证书 %s 尚未签发", model.ErrConfigurationMissing, mc.PrimaryDomain())
	}
	return m.pipeline.Run(ctx, m.log, mc, cc.Tasks, true, false), nil
}

// Revoke 吊销已签发的证书
func (m *Manager) Revoke(ctx context.Context, idOrDomain string) error {
	cc, ok := m.config.Certificate(idOrDomain)
	if !ok {
		return fmt.Errorf("%w: 证书 %s 不存在", model.ErrConfigurationMissing, idOrDomain)
	}
	mc := m.load(cc)

	client, err := m.ensureClient(ctx)
	if err != nil {
		return err
	}
	if err := client.RevokeCertificate(ctx, mc); err != nil {
		return err
	}

	mc.LastStatus = model.RequestStateWarning
	mc.LastMessage = "证书已吊销"
	m.saveState(m.log, mc)
	return nil
}

// load 由配置生成受管证书，并合并已保存的状态
func (m *Manager) load(cc *config.CertificateConfig) *model.ManagedCertificate {
	mc := cc.Managed()
	primary := mc.PrimaryDomain()

	state, err := m.storage.LoadState(primary)
	if err != nil {
		m.log.Warning("读取证书 %s 的状态失败: %v", primary, err)
	}
	if state != nil {
		mc.CertificatePath = state.CertificatePath
		mc.DateStart = state.DateStart
		mc.DateExpiry = state.DateExpiry
		mc.DateRenewed = state.DateRenewed
		mc.DateLastAttempt = state.DateLastAttempt
		mc.LastStatus = state.LastStatus
		mc.LastMessage = state.LastMessage
	}
	if mc.CertificatePath == "" {
		if path := m.storage.GetPFXPath(primary); fileExists(path) {
			mc.CertificatePath = path
		}
	}
	return mc
}

func (m *Manager) saveState(log logging.Logger, mc *model.ManagedCertificate) {
	if err := m.storage.SaveState(mc); err != nil {
		log.Warning("保存证书状态失败: %v", err)
	}
}

// ensureClient 创建 ACME 状态机并注册账户，账户私钥保存在 account_file
func (m *Manager) ensureClient(ctx context.Context) (*acme.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	acct := m.config.Account
	store := storage.NewAccountStore(acct.AccountFile)
	rec, key, err := store.LoadOrCreateKey()
	if err != nil {
		return nil, fmt.Errorf("读取ACME账户失败: %w", err)
	}

	issuer := m.issuer
	if issuer == nil {
		issuer = acme.NewIssuer(key, acct.DirectoryURL, userAgent)
	}

	opts := []acme.Option{
		acme.WithLogger(m.log),
		acme.WithRateLimit(acct.RateLimit, 1),
		acme.WithKeyType(certcrypto.KeyType(acct.KeyType)),
	}
	client := acme.NewClient(issuer, append(opts, m.acmeOptions...)...)

	account, err := client.AddNewAccountAndAcceptTOS(ctx, acct.Email)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.URI != account.URI || rec.Email != account.Email {
		if err := store.Save(account.Email, account.URI, key); err != nil {
			return nil, fmt.Errorf("保存ACME账户失败: %w", err)
		}
		m.log.Verbose("ACME账户已保存到 %s", filepath.Clean(store.Path()))
	}

	m.client = client
	return client, nil
}

// resolver 按验证配置为域名选择挑战响应器
type resolver struct {
	m   *Manager
	log logging.Logger
}

func (r *resolver) Responder(domain string, ch model.ChallengeConfig) (acme.ChallengeResponder, error) {
	switch ch.ChallengeType {
	case model.ChallengeTypeHTTP01:
		if r.m.challenges == nil {
			return nil, fmt.Errorf("%w: 未启用 HTTP-01 挑战服务 (%s)", model.ErrConfigurationMissing, domain)
		}
		return r.m.challenges, nil

	case model.ChallengeTypeDNS01:
		creds := model.Credentials{}
		if ch.ChallengeCredentialKey != "" {
			var ok bool
			creds, ok = r.m.config.CredentialSet(ch.ChallengeCredentialKey)
			if !ok {
				return nil, fmt.Errorf("%w: 凭证 %s 不存在", model.ErrConfigurationMissing, ch.ChallengeCredentialKey)
			}
		}
		p, err := r.m.registry.DNSProvider(ch.ChallengeProvider, creds)
		if err != nil {
			return nil, err
		}
		r.log.Verbose("%s 使用 DNS 提供商 %s", domain, ch.ChallengeProvider)

		var opts []acme.DNSOption
		if ch.PropagationDelay > 0 {
			opts = append(opts, acme.WithPropagationDelay(time.Duration(ch.PropagationDelay)*time.Second))
		}
		if r.m.checker != nil {
			dc := r.m.config.DNSCheck
			opts = append(opts, acme.WithPropagationCheck(r.m.checker, time.Duration(dc.Interval)*time.Second, dc.Attempts))
		}
		return acme.NewDNSResponder(p, opts...), nil
	}
	return nil, fmt.Errorf("%w: 不支持的验证方式 %q", model.ErrConfigurationMissing, ch.ChallengeType)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
