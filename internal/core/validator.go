package core

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	domainpkg "ssl-deployer/internal/domain"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/storage"
)

// Validator 证书验证器
type Validator struct {
	log     logging.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewValidator 创建验证器
func NewValidator(log logging.Logger) *Validator {
	if log == nil {
		log = logging.Nop
	}
	return &Validator{log: log, timeout: 10 * time.Second, now: time.Now}
}

// CheckCertExpiry 连接域名的 443 端口，返回线上证书的过期时间和覆盖的域名列表
func (v *Validator) CheckCertExpiry(ctx context.Context, domain string) (time.Time, []string, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: v.timeout},
		Config:    &tls.Config{InsecureSkipVerify: true, ServerName: domain},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, "443"))
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return time.Time{}, nil, fmt.Errorf("未找到证书")
	}

	cert := certs[0]
	// 收集证书覆盖的所有域名（CN + SANs）
	var domains []string
	if cert.Subject.CommonName != "" {
		domains = append(domains, cert.Subject.CommonName)
	}
	domains = append(domains, cert.DNSNames...)

	return cert.NotAfter, domains, nil
}

// NeedRenew 判断是否需要申请证书。本地证书覆盖全部域名且剩余天数大于 renewDays 时不需要；
// 没有本地证书时仍需申请，线上证书的状态只用于记录日志
func (v *Validator) NeedRenew(ctx context.Context, mc *model.ManagedCertificate, renewDays int) (bool, time.Time) {
	primary := mc.PrimaryDomain()

	if mc.CertificatePath != "" {
		leaf, err := storage.ReadLeaf(mc.CertificatePath, mc.PFXPassword)
		if err != nil {
			v.log.Warning("读取本地证书失败: %v，将申请新证书", err)
			return true, time.Time{}
		}
		if missing := uncovered(leaf.DNSNames, mc.Domains); len(missing) > 0 {
			v.log.Information("本地证书未覆盖域名 %v，需要重新申请", missing)
			return true, leaf.NotAfter
		}
		days := int(leaf.NotAfter.Sub(v.now()).Hours() / 24)
		v.log.Information("域名 %s 的证书将在 %d 天后过期 (%s)", primary, days, leaf.NotAfter.Format("2006-01-02"))
		return days <= renewDays, leaf.NotAfter
	}

	if domainpkg.StripWildcard(primary) != primary {
		v.log.Information("%s 尚无本地证书，需要申请", primary)
		return true, time.Time{}
	}
	expiry, certDomains, err := v.CheckCertExpiry(ctx, primary)
	if err != nil {
		v.log.Information("%s 尚无本地证书，线上证书不可用: %v", primary, err)
		return true, time.Time{}
	}
	if len(uncovered(certDomains, []string{primary})) > 0 {
		v.log.Information("线上证书域名不匹配 (证书域名: %v, 目标域名: %s)", certDomains, primary)
	} else {
		v.log.Information("%s 尚无本地证书，线上证书有效期至 %s", primary, expiry.Format("2006-01-02"))
	}
	return true, expiry
}

// uncovered 返回证书域名未覆盖的目标域名
func uncovered(certDomains, targets []string) []string {
	var missing []string
	for _, target := range targets {
		matched := false
		for _, certDomain := range certDomains {
			if domainpkg.MatchDomain(certDomain, target) {
				matched = true
				break
			}
		}
		if !matched {
			missing = append(missing, target)
		}
	}
	return missing
}
