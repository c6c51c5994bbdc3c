// Package dnscheck 检查 DNS-01 验证记录是否已生效
package dnscheck

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultNameservers 默认查询的公共 DNS
var DefaultNameservers = []string{"223.5.5.5:53", "119.29.29.29:53", "8.8.8.8:53"}

// Checker TXT 记录检查器
type Checker struct {
	nameservers []string
	client      *dns.Client
}

// NewChecker 创建检查器，nameservers 为空时使用默认值
func NewChecker(nameservers []string, timeout time.Duration) *Checker {
	if len(nameservers) == 0 {
		nameservers = DefaultNameservers
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	normalized := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		normalized = append(normalized, ns)
	}
	return &Checker{
		nameservers: normalized,
		client:      &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupTXT 从第一个可用的 DNS 服务器查询 TXT 记录
func (c *Checker) LookupTXT(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true

	var lastErr error
	for _, ns := range c.nameservers {
		r, _, err := c.client.ExchangeContext(ctx, m, ns)
		if err != nil {
			lastErr = fmt.Errorf("查询 %s 失败: %w", ns, err)
			continue
		}
		if r.Rcode != dns.RcodeSuccess && r.Rcode != dns.RcodeNameError {
			lastErr = fmt.Errorf("查询 %s 返回 %s", ns, dns.RcodeToString[r.Rcode])
			continue
		}

		var values []string
		for _, rr := range r.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				values = append(values, strings.Join(txt.Txt, ""))
			}
		}
		return values, nil
	}
	return nil, lastErr
}

// HasTXT 检查记录是否包含期望值
func (c *Checker) HasTXT(ctx context.Context, name, value string) (bool, error) {
	values, err := c.LookupTXT(ctx, name)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if v == value {
			return true, nil
		}
	}
	return false, nil
}

// WaitForTXT 轮询直到记录生效或超出 attempts 次
func (c *Checker) WaitForTXT(ctx context.Context, name, value string, interval time.Duration, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		ok, err := c.HasTXT(ctx, name, value)
		if ok {
			return nil
		}
		if i == attempts-1 {
			if err != nil {
				return err
			}
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("TXT记录 %s 未生效", name)
}
