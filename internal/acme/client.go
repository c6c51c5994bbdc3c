package acme

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/challenge/http01"
	xacme "golang.org/x/crypto/acme"
	"golang.org/x/time/rate"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/metrics"
	"ssl-deployer/internal/model"
)

// Account 已注册的 ACME 账户
type Account struct {
	URI    string
	Email  string
	Status string
}

// Client 证书申请状态机。失败的步骤不会在内部重试，由调用方决定
type Client struct {
	issuer Issuer
	log    logging.Logger

	limiter      *rate.Limiter
	pollInterval time.Duration
	pollAttempts int
	keyType      certcrypto.KeyType

	mu      sync.Mutex
	account *Account
	orders  map[string]*order
}

// Option 客户端选项
type Option func(*Client)

// WithLogger 设置日志
func WithLogger(log logging.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRateLimit 限制对 ACME 服务端的请求速率
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithPolling 设置 PerformCertificateRequestProcess 的轮询间隔和次数
func WithPolling(interval time.Duration, attempts int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if attempts > 0 {
			c.pollAttempts = attempts
		}
	}
}

// WithKeyType 设置证书私钥类型
func WithKeyType(kt certcrypto.KeyType) Option {
	return func(c *Client) {
		if kt != "" {
			c.keyType = kt
		}
	}
}

// NewClient 创建状态机
func NewClient(issuer Issuer, opts ...Option) *Client {
	c := &Client{
		issuer:       issuer,
		log:          logging.Nop,
		pollInterval: 5 * time.Second,
		pollAttempts: 60,
		keyType:      certcrypto.EC256,
		orders:       make(map[string]*order),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account 返回当前账户，未注册时为 nil
func (c *Client) Account() *Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account == nil {
		return nil
	}
	acct := *c.account
	return &acct
}

// OrderState 返回订单状态
func (c *Client) OrderState(identifierID string) (OrderState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[identifierID]
	if !ok {
		return "", false
	}
	return o.state, true
}

// AddNewAccountAndAcceptTOS 注册账户并同意服务条款，账户已存在时直接取回
func (c *Client) AddNewAccountAndAcceptTOS(ctx context.Context, email string) (*Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, validationf("无效的邮箱地址 %q", email)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	reg, err := c.issuer.Register(ctx, &xacme.Account{Contact: []string{"mailto:" + email}}, xacme.AcceptTOS)
	if errors.Is(err, xacme.ErrAccountAlreadyExists) {
		c.log.Verbose("[ACME] 账户已存在，读取账户信息")
		reg, err = c.issuer.GetReg(ctx, "")
	}
	if err != nil {
		return nil, fmt.Errorf("注册ACME账户失败: %w", err)
	}

	acct := &Account{URI: reg.URI, Email: email, Status: reg.Status}
	c.mu.Lock()
	c.account = acct
	c.mu.Unlock()

	c.log.Information("[ACME] 账户已就绪: %s", reg.URI)
	copied := *acct
	return &copied, nil
}

// BeginRegistrationAndValidation 为域名打开授权并返回挑战材料
func (c *Client) BeginRegistrationAndValidation(ctx context.Context, config model.CertRequestConfig,
	identifierID, challengeType, domainName string) (*model.PendingAuthorization, error) {
	if !domain.IsValid(domainName) {
		return nil, validationf("无效的域名 %q", domainName)
	}
	d, err := domain.Normalize(domainName)
	if err != nil {
		return nil, validationf("无效的域名 %q: %v", domainName, err)
	}
	if c.Account() == nil {
		return nil, validationf("ACME账户未注册")
	}

	o, err := c.ensureOrder(ctx, identifierID, config, d)
	if err != nil {
		return nil, err
	}
	authz, err := c.findAuthorization(ctx, o, d)
	if err != nil {
		return nil, err
	}

	pa := &model.PendingAuthorization{
		Identifier:       d,
		ChallengeType:    challengeType,
		AuthorizationURI: authz.URI,
	}

	if authz.Status == xacme.StatusValid {
		pa.Status = model.AuthorizationValid
		pa.Message = "授权已有效"
		c.recordStatus(o, authz)
		return pa, nil
	}

	chal := findChallenge(authz, challengeType, "")
	if chal == nil {
		return nil, validationf("域名 %s 不支持 %s 验证", d, challengeType)
	}
	pa.Token = chal.Token
	pa.ChallengeURI = chal.URI

	switch challengeType {
	case model.ChallengeTypeDNS01:
		value, err := c.issuer.DNS01ChallengeRecord(chal.Token)
		if err != nil {
			return nil, fmt.Errorf("计算DNS验证值失败: %w", err)
		}
		pa.ResourceName = "_acme-challenge." + domain.StripWildcard(d)
		pa.ResourceValue = value
	case model.ChallengeTypeHTTP01:
		keyAuth, err := c.issuer.HTTP01ChallengeResponse(chal.Token)
		if err != nil {
			return nil, fmt.Errorf("计算HTTP验证内容失败: %w", err)
		}
		pa.ResourcePath = http01.ChallengePath(chal.Token)
		pa.ResourceValue = keyAuth
		pa.KeyAuthorization = keyAuth
	default:
		return nil, validationf("不支持的挑战类型 %s", challengeType)
	}

	c.mu.Lock()
	pa.Status = mapAuthzStatus(authz, chal, o.submitted[d])
	o.advance(OrderAuthorizing)
	c.mu.Unlock()

	c.log.Verbose("[ACME] %s 挑战已就绪: %s", d, challengeType)
	return pa, nil
}

// SubmitChallenge 通知服务端开始验证，不等待验证结果
func (c *Client) SubmitChallenge(ctx context.Context, identifierID, challengeType string, pa *model.PendingAuthorization) (string, error) {
	if pa == nil {
		return "", validationf("挑战为空")
	}
	if pa.Status == model.AuthorizationValid {
		return fmt.Sprintf("域名 %s 授权已有效，无需提交", pa.Identifier), nil
	}
	if pa.ChallengeURI == "" {
		return "", validationf("域名 %s 缺少挑战地址", pa.Identifier)
	}
	if challengeType == "" {
		challengeType = pa.ChallengeType
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	chal, err := c.issuer.Accept(ctx, &xacme.Challenge{URI: pa.ChallengeURI, Type: challengeType, Token: pa.Token})
	if err != nil {
		pa.Message = err.Error()
		return fmt.Sprintf("提交 %s 挑战失败", pa.Identifier), issuerError("提交挑战失败", err)
	}

	c.mu.Lock()
	if o := c.lookupOrder(identifierID, pa.AuthorizationURI); o != nil {
		o.submitted[pa.Identifier] = true
		o.advance(OrderValidating)
	}
	c.mu.Unlock()

	if chal.Status == xacme.StatusValid {
		pa.Status = model.AuthorizationValid
	} else {
		pa.Status = model.AuthorizationProcessing
	}
	return fmt.Sprintf("已提交 %s 的 %s 挑战，状态: %s", pa.Identifier, challengeType, chal.Status), nil
}

// CheckValidationCompleted 查询一次授权状态并更新 pa
func (c *Client) CheckValidationCompleted(ctx context.Context, alias string, pa *model.PendingAuthorization) (*model.PendingAuthorization, error) {
	if pa == nil || pa.AuthorizationURI == "" {
		return pa, validationf("授权信息不完整")
	}
	if err := c.wait(ctx); err != nil {
		return pa, err
	}

	authz, err := c.issuer.GetAuthorization(ctx, pa.AuthorizationURI)
	if err != nil {
		return pa, fmt.Errorf("查询授权状态失败: %w", err)
	}
	chal := findChallenge(authz, pa.ChallengeType, pa.ChallengeURI)

	c.mu.Lock()
	o := c.lookupOrder(alias, pa.AuthorizationURI)
	submitted := o != nil && o.submitted[pa.Identifier]
	pa.Status = mapAuthzStatus(authz, chal, submitted)
	if o != nil {
		o.authz[authzKey(authz)] = authz
		o.authzStatus[authz.URI] = authz.Status
		o.recompute()
	}
	c.mu.Unlock()

	if pa.Status == model.AuthorizationInvalid && chal != nil && chal.Error != nil {
		pa.Message = chal.Error.Error()
	}
	metrics.AuthorizationChecksTotal.WithLabelValues(string(pa.Status)).Inc()
	return pa, nil
}

func (c *Client) ensureOrder(ctx context.Context, identifierID string, config model.CertRequestConfig, d string) (*order, error) {
	c.mu.Lock()
	o := c.orders[identifierID]
	c.mu.Unlock()
	if o != nil && !o.state.IsFinal() && o.hasDomain(d) {
		return o, nil
	}

	var domains []string
	for _, raw := range config.AllDomains() {
		n, err := domain.Normalize(raw)
		if err != nil || !domain.IsValid(raw) {
			return nil, validationf("无效的域名 %q", raw)
		}
		domains = append(domains, n)
	}
	if len(domains) == 0 {
		domains = []string{d}
	}
	if !contains(domains, d) {
		return nil, validationf("域名 %s 不在证书申请范围内", d)
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	xo, err := c.issuer.AuthorizeOrder(ctx, xacme.DomainIDs(domains...))
	if err != nil {
		return nil, issuerError("创建订单失败", err)
	}

	o = newOrder(identifierID, domains, xo)
	c.mu.Lock()
	c.orders[identifierID] = o
	c.mu.Unlock()

	c.log.Information("[ACME] 订单已创建: %s (%s)", xo.URI, strings.Join(domains, ", "))
	return o, nil
}

func (c *Client) findAuthorization(ctx context.Context, o *order, d string) (*xacme.Authorization, error) {
	c.mu.Lock()
	a, ok := o.authz[d]
	fetched := make(map[string]bool, len(o.authz))
	for _, known := range o.authz {
		fetched[known.URI] = true
	}
	c.mu.Unlock()
	if ok {
		return a, nil
	}

	for _, url := range o.authzURLs {
		if fetched[url] {
			continue
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		authz, err := c.issuer.GetAuthorization(ctx, url)
		if err != nil {
			return nil, issuerError("获取授权信息失败", err)
		}
		key := authzKey(authz)
		c.mu.Lock()
		o.authz[key] = authz
		c.mu.Unlock()
		if key == d {
			return authz, nil
		}
	}
	return nil, validationf("订单中没有域名 %s 的授权", d)
}

func (c *Client) recordStatus(o *order, authz *xacme.Authorization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o.authzStatus[authz.URI] = authz.Status
	o.recompute()
}

// lookupOrder 按标识查找订单，找不到时按授权 URL 查找；调用方需持有锁
func (c *Client) lookupOrder(identifierID, authzURL string) *order {
	if o, ok := c.orders[identifierID]; ok {
		return o
	}
	for _, o := range c.orders {
		if o.hasAuthzURL(authzURL) {
			return o
		}
	}
	return nil
}

func (c *Client) forgetOrder(identifierID string) {
	c.mu.Lock()
	delete(c.orders, identifierID)
	c.mu.Unlock()
}

func (c *Client) setOrderState(o *order, s OrderState) {
	c.mu.Lock()
	o.advance(s)
	c.mu.Unlock()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
