package model

import (
	"fmt"
	"strings"
)

// 绑定协议
const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
	ProtocolFTP   = "ftp"
)

// SiteInfo 部署目标上的站点
type SiteInfo struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	IsRunning bool   `yaml:"running" json:"running"`
}

// BindingInfo 站点上的协议绑定
type BindingInfo struct {
	SiteID           string `yaml:"-" json:"site_id"`
	SiteName         string `yaml:"-" json:"site_name"`
	Host             string `yaml:"host,omitempty" json:"host,omitempty"`
	IP               string `yaml:"ip" json:"ip"`
	Port             int    `yaml:"port" json:"port"`
	Protocol         string `yaml:"protocol" json:"protocol"`
	CertificateHash  string `yaml:"certificate_hash,omitempty" json:"certificate_hash,omitempty"`
	CertificateStore string `yaml:"certificate_store,omitempty" json:"certificate_store,omitempty"`
	IsSNIEnabled     bool   `yaml:"sni,omitempty" json:"sni,omitempty"`
}

// BindingKey 绑定的唯一标识
type BindingKey struct {
	SiteID   string
	Protocol string
	IP       string
	Port     int
	Host     string
}

// NormalizeIP 空地址与 0.0.0.0 统一为 *（全部未分配地址）
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "0.0.0.0" {
		return "*"
	}
	return ip
}

// Key 返回绑定标识，主机名不区分大小写
func (b BindingInfo) Key() BindingKey {
	return BindingKey{
		SiteID:   b.SiteID,
		Protocol: strings.ToLower(b.Protocol),
		IP:       NormalizeIP(b.IP),
		Port:     b.Port,
		Host:     strings.ToLower(b.Host),
	}
}

func (b BindingInfo) String() string {
	host := b.Host
	if host == "" {
		host = "<blank>"
	}
	return fmt.Sprintf("%s://%s:%d (%s)", b.Protocol, NormalizeIP(b.IP), b.Port, host)
}
