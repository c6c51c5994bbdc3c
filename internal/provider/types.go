package provider

import "time"

// Certificate 证书内容
type Certificate struct {
	Certificate string // 证书内容 (PEM格式)
	PrivateKey  string // 私钥 (PEM格式)
	Chain       string // 证书链 (可选)
}

// FullChain 返回包含中间证书的完整链，没有链时返回证书本身
func (c *Certificate) FullChain() string {
	if c.Chain == "" {
		return c.Certificate
	}
	return c.Certificate + c.Chain
}

// CertificateInfo 证书信息
type CertificateInfo struct {
	CertID    string    // 证书ID
	Name      string    // 证书名称
	Domain    string    // 主域名
	Sans      []string  // 备用域名列表
	NotBefore time.Time // 生效时间
	NotAfter  time.Time // 过期时间
	Status    string    // 状态
}

// DNSRecord DNS记录
type DNSRecord struct {
	RecordID string // 记录ID
	Domain   string // 主域名
	RR       string // 主机记录 (子域名)
	Type     string // 记录类型
	Value    string // 记录值
	TTL      int    // TTL
}
