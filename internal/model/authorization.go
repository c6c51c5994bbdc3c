package model

import "time"

// AuthorizationStatus 域名授权状态
type AuthorizationStatus string

const (
	AuthorizationPending    AuthorizationStatus = "pending"
	AuthorizationProcessing AuthorizationStatus = "processing"
	AuthorizationValid      AuthorizationStatus = "valid"
	AuthorizationInvalid    AuthorizationStatus = "invalid"
)

// IsFinal 是否为终态
func (s AuthorizationStatus) IsFinal() bool {
	return s == AuthorizationValid || s == AuthorizationInvalid
}

// PendingAuthorization 单个域名的挑战材料与验证状态
type PendingAuthorization struct {
	Identifier    string
	ChallengeType string
	Token         string

	// KeyAuthorization HTTP-01 响应内容
	KeyAuthorization string
	// ResourceName DNS-01 记录名，如 _acme-challenge.example.com
	ResourceName string
	// ResourcePath HTTP-01 路径，如 /.well-known/acme-challenge/<token>
	ResourcePath string
	// ResourceValue DNS-01 TXT 值或 HTTP-01 响应内容
	ResourceValue string

	AuthorizationURI string
	ChallengeURI     string

	Status  AuthorizationStatus
	Message string
}

// IsValidated 授权是否已通过
func (p *PendingAuthorization) IsValidated() bool {
	return p != nil && p.Status == AuthorizationValid
}

// IssuedCertificate 签发得到的证书材料（PEM）
type IssuedCertificate struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	IssuerPEM      []byte
	NotBefore      time.Time
	NotAfter       time.Time
}

// ProcessStepResult 证书申请流程执行到的阶段
type ProcessStepResult struct {
	Step           string
	IsSuccess      bool
	IsTerminal     bool
	Message        string
	Authorizations []*PendingAuthorization
	Certificate    *IssuedCertificate
}
