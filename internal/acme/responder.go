package acme

import (
	"context"
	"fmt"
	"time"

	"ssl-deployer/internal/dnscheck"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// ChallengeResponder 发布与清理挑战响应
type ChallengeResponder interface {
	Present(ctx context.Context, pa *model.PendingAuthorization) error
	CleanUp(ctx context.Context, pa *model.PendingAuthorization) error
}

// ResponderResolver 为域名选择挑战响应器
type ResponderResolver interface {
	Responder(domain string, challenge model.ChallengeConfig) (ChallengeResponder, error)
}

// Responders 按挑战类型固定的响应器
type Responders map[string]ChallengeResponder

// Responder 实现 ResponderResolver
func (r Responders) Responder(domain string, challenge model.ChallengeConfig) (ChallengeResponder, error) {
	if resp, ok := r[challenge.ChallengeType]; ok && resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("%w: 没有可用的 %s 响应器 (%s)", model.ErrConfigurationMissing, challenge.ChallengeType, domain)
}

// DNSResponder 通过 DNS 提供商发布 TXT 记录
type DNSResponder struct {
	provider      provider.DNSProvider
	checker       *dnscheck.Checker
	delay         time.Duration
	checkInterval time.Duration
	checkAttempts int
}

// DNSOption DNS 响应器选项
type DNSOption func(*DNSResponder)

// WithPropagationCheck 创建记录后轮询检查记录是否生效
func WithPropagationCheck(checker *dnscheck.Checker, interval time.Duration, attempts int) DNSOption {
	return func(r *DNSResponder) {
		r.checker = checker
		r.checkInterval = interval
		r.checkAttempts = attempts
	}
}

// WithPropagationDelay 创建记录后固定等待
func WithPropagationDelay(d time.Duration) DNSOption {
	return func(r *DNSResponder) {
		r.delay = d
	}
}

// NewDNSResponder 创建 DNS 响应器
func NewDNSResponder(p provider.DNSProvider, opts ...DNSOption) *DNSResponder {
	r := &DNSResponder{provider: p, checkInterval: 10 * time.Second, checkAttempts: 30}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Present 创建 TXT 记录并等待生效
func (r *DNSResponder) Present(ctx context.Context, pa *model.PendingAuthorization) error {
	if err := r.provider.CreateRecord(ctx, pa.ResourceName, pa.ResourceValue); err != nil {
		return err
	}
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay):
		}
	}
	if r.checker != nil {
		return r.checker.WaitForTXT(ctx, pa.ResourceName, pa.ResourceValue, r.checkInterval, r.checkAttempts)
	}
	return nil
}

// CleanUp 删除 TXT 记录
func (r *DNSResponder) CleanUp(ctx context.Context, pa *model.PendingAuthorization) error {
	return r.provider.DeleteRecord(ctx, pa.ResourceName)
}
