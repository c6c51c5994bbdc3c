// Package acme 实现证书申请的状态机：账户注册、域名授权、挑战提交、签发与吊销。
// 协议细节（JOSE 签名、消息格式）由 golang.org/x/crypto/acme 负责。
package acme

import (
	"context"
	"crypto"
	"net/http"
	"time"

	xacme "golang.org/x/crypto/acme"
)

// Issuer 状态机依赖的 ACME 服务端操作，*xacme.Client 满足该接口
type Issuer interface {
	Register(ctx context.Context, acct *xacme.Account, prompt func(tosURL string) bool) (*xacme.Account, error)
	GetReg(ctx context.Context, url string) (*xacme.Account, error)
	AuthorizeOrder(ctx context.Context, id []xacme.AuthzID, opt ...xacme.OrderOption) (*xacme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*xacme.Authorization, error)
	Accept(ctx context.Context, chal *xacme.Challenge) (*xacme.Challenge, error)
	GetOrder(ctx context.Context, url string) (*xacme.Order, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
	RevokeCert(ctx context.Context, key crypto.Signer, cert []byte, reason xacme.CRLReasonCode) error
	DNS01ChallengeRecord(token string) (string, error)
	HTTP01ChallengeResponse(token string) (string, error)
}

var _ Issuer = (*xacme.Client)(nil)

// NewIssuer 创建 ACME 客户端，directoryURL 为空时使用 Let's Encrypt 生产环境
func NewIssuer(key crypto.Signer, directoryURL, userAgent string) *xacme.Client {
	if directoryURL == "" {
		directoryURL = xacme.LetsEncryptURL
	}
	return &xacme.Client{
		Key:          key,
		DirectoryURL: directoryURL,
		UserAgent:    userAgent,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
	}
}
