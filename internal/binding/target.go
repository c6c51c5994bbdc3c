// Package binding 负责将证书绑定到部署目标上的站点端点
package binding

import (
	"context"

	"ssl-deployer/internal/model"
)

// DefaultStoreName 未指定证书存储时使用的存储名称
const DefaultStoreName = "My"

// Target 部署目标的底层操作。AddBinding 按绑定标识写入（已存在则覆盖），任何方法都不删除绑定
type Target interface {
	// GetSites 列出站点
	GetSites(ctx context.Context, ignoreStoppedSites bool) ([]model.SiteInfo, error)
	// GetSiteBindingList 列出绑定，siteID 为空时返回全部站点的绑定
	GetSiteBindingList(ctx context.Context, ignoreStoppedSites bool, siteID string) ([]model.BindingInfo, error)
	// HasCertificate 判断证书是否已在存储中
	HasCertificate(ctx context.Context, storeName, thumbprint string) (bool, error)
	// StoreCertificate 将 PFX 导入证书存储，返回证书指纹
	StoreCertificate(ctx context.Context, storeName, pfxPath, pfxPwd string) (string, error)
	AddBinding(ctx context.Context, b model.BindingInfo) error
	UpdateBinding(ctx context.Context, b model.BindingInfo) error
}

// CertifiedServer 可部署证书的服务器
type CertifiedServer interface {
	GetServerVersion(ctx context.Context) (string, error)
	IsAvailable(ctx context.Context) bool
	IsSiteRunning(ctx context.Context, siteID string) (bool, error)
	GetSiteBindingList(ctx context.Context, ignoreStoppedSites bool, siteID string) ([]model.BindingInfo, error)
	// InstallCertForRequest 存储证书并按申请配置部署到站点
	InstallCertForRequest(ctx context.Context, mc *model.ManagedCertificate, pfxPath, pfxPwd string, isPreviewOnly bool) ([]model.ActionStep, error)
	// InstallCertificateforBinding 将已存储的证书绑定到单个端点
	InstallCertificateforBinding(ctx context.Context, storeName, certHash string, site model.SiteInfo,
		host string, sslPort int, useSNI bool, ipAddress string, isPreviewOnly bool) ([]model.ActionStep, error)
}
