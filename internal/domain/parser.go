package domain

import (
	"strings"

	"golang.org/x/net/idna"
)

// ExtractMainDomain 从完整域名提取主域名
// 例如: www.example.com -> example.com, sub.test.example.com -> example.com
func ExtractMainDomain(domain string) string {
	domain = strings.TrimSuffix(domain, ".")
	parts := strings.Split(domain, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "." + parts[len(parts)-1]
	}
	return domain
}

// ExtractSubDomain 提取子域名部分（用于DNS记录的RR值）
// 例如: _acme-challenge.www.example.com 中提取 _acme-challenge.www
func ExtractSubDomain(fullRecord, mainDomain string) string {
	fullRecord = strings.TrimSuffix(fullRecord, ".")
	if fullRecord == mainDomain {
		return "@"
	}
	if strings.HasSuffix(fullRecord, "."+mainDomain) {
		return strings.TrimSuffix(fullRecord, "."+mainDomain)
	}
	return fullRecord
}

// IsSubDomain 检查是否为子域名
func IsSubDomain(domain, mainDomain string) bool {
	return strings.HasSuffix(domain, "."+mainDomain) || domain == mainDomain
}

// MatchDomain 检查域名是否匹配（支持通配符）
// 通配符只匹配一级子域名: *.example.com 匹配 www.example.com，不匹配 a.b.example.com
func MatchDomain(certDomain, targetDomain string) bool {
	certDomain = strings.ToLower(certDomain)
	targetDomain = strings.ToLower(targetDomain)

	// 完全匹配
	if certDomain == targetDomain {
		return true
	}

	// 通配符匹配
	if strings.HasPrefix(certDomain, "*.") {
		base := strings.TrimPrefix(certDomain, "*.")
		if !strings.HasSuffix(targetDomain, "."+base) {
			return false
		}
		label := strings.TrimSuffix(targetDomain, "."+base)
		return label != "" && !strings.Contains(label, ".")
	}

	return false
}

var lookupProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.StrictDomainName(false),
)

// Normalize 将域名转为小写 ASCII 形式，通配符前缀保留
func Normalize(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	wildcard := strings.HasPrefix(domain, "*.")
	host := strings.TrimPrefix(domain, "*.")

	ascii, err := lookupProfile.ToASCII(host)
	if err != nil {
		return "", err
	}
	ascii = strings.ToLower(ascii)
	if wildcard {
		return "*." + ascii, nil
	}
	return ascii, nil
}

// IsValid 检查域名语法（允许一级通配符）
func IsValid(domain string) bool {
	n, err := Normalize(domain)
	if err != nil || n == "" {
		return false
	}
	host := strings.TrimPrefix(n, "*.")
	if strings.Contains(host, "*") || len(host) > 253 {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 || strings.HasPrefix(l, "-") || strings.HasSuffix(l, "-") {
			return false
		}
		for _, r := range l {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				return false
			}
		}
	}
	return true
}

// StripWildcard 去掉通配符前缀
func StripWildcard(domain string) string {
	return strings.TrimPrefix(domain, "*.")
}

// FileName 将域名转换为可用作文件名的形式，通配符替换为下划线
func FileName(domain string) string {
	return strings.ReplaceAll(strings.ToLower(domain), "*", "_")
}

// Dedupe 去重并保持顺序（不区分大小写）
func Dedupe(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		key := strings.ToLower(strings.TrimSpace(d))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
