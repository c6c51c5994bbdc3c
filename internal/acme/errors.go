package acme

import (
	"errors"
	"fmt"
	"strings"

	xacme "golang.org/x/crypto/acme"

	"ssl-deployer/internal/model"
)

// refusals 服务端拒绝为该账户签发这些域名，重试不会改变结果
var refusals = map[string]bool{
	"rejectedIdentifier":    true,
	"unauthorized":          true,
	"caa":                   true,
	"unsupportedIdentifier": true,
}

// ValidationError 域名授权失败
type ValidationError struct {
	Domain string
	Status model.AuthorizationStatus
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("域名 %s 验证失败 (状态: %s)", e.Domain, e.Status)
	}
	return fmt.Sprintf("域名 %s 验证失败 (状态: %s): %s", e.Domain, e.Status, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return model.ErrValidationFailure
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrValidationFailure, fmt.Sprintf(format, args...))
}

// issuerError 包装服务端返回的错误，拒绝签发类问题归为 ErrValidationFailure
func issuerError(msg string, err error) error {
	if isRefusal(err) {
		return fmt.Errorf("%w: %s: %w", model.ErrValidationFailure, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isRefusal(err error) bool {
	var ae *xacme.Error
	if !errors.As(err, &ae) {
		return false
	}
	if refusals[problemName(ae.ProblemType)] {
		return true
	}
	for _, sub := range ae.Subproblems {
		if refusals[problemName(sub.Type)] {
			return true
		}
	}
	return false
}

// problemName 取问题类型 URN 的最后一段，兼容 urn:acme:error: 旧格式
func problemName(t string) string {
	return t[strings.LastIndex(t, ":")+1:]
}
