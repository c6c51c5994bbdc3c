package acme

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	xacme "golang.org/x/crypto/acme"

	"ssl-deployer/internal/metrics"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/storage"
)

// 流程阶段
const (
	StepAccount   = "account"
	StepAuthorize = "authorize"
	StepPresent   = "present"
	StepSubmit    = "submit"
	StepValidate  = "validate"
	StepFinalize  = "finalize"
	StepComplete  = "complete"
)

type presented struct {
	responder ChallengeResponder
	pa        *model.PendingAuthorization
}

// PerformCertificateRequestProcess 完成一次完整的证书申请：授权、发布挑战、提交、轮询、签发、清理
func (c *Client) PerformCertificateRequestProcess(ctx context.Context, primaryDomain string, alternativeDomains []string,
	config model.CertRequestConfig, responders ResponderResolver) (result *model.ProcessStepResult, err error) {
	start := time.Now()
	defer func() {
		ok := result != nil && result.IsSuccess
		metrics.ACMEOrdersTotal.WithLabelValues(metrics.Status(ok)).Inc()
		metrics.ACMEOrderDuration.Observe(time.Since(start).Seconds())
	}()

	config.PrimaryDomain = primaryDomain
	config.SubjectAlternativeNames = alternativeDomains
	domains := config.AllDomains()
	identifierID := primaryDomain

	if c.Account() == nil {
		return failed(StepAccount, true, nil, validationf("ACME账户未注册"))
	}
	if len(domains) == 0 {
		return failed(StepAuthorize, true, nil, validationf("未指定域名"))
	}

	// 每次申请使用新订单
	c.forgetOrder(identifierID)

	var (
		pendings []*model.PendingAuthorization
		cleanup  []presented
	)
	defer func() {
		c.cleanUp(ctx, cleanup)
	}()

	var waiting []presented
	for _, d := range domains {
		chCfg := config.ChallengeFor(d)
		pa, err := c.BeginRegistrationAndValidation(ctx, config, identifierID, chCfg.ChallengeType, d)
		if err != nil {
			return failed(StepAuthorize, isTerminal(err), pendings, err)
		}
		pendings = append(pendings, pa)
		if pa.IsValidated() {
			continue
		}

		responder, err := responders.Responder(d, chCfg)
		if err != nil {
			return failed(StepPresent, true, pendings, err)
		}
		waiting = append(waiting, presented{responder, pa})
	}

	// 共用同一资源（如 example.com 与 *.example.com 的 _acme-challenge 记录）的挑战分轮完成
	for _, round := range rounds(waiting) {
		for _, p := range round {
			cleanup = append(cleanup, p)
			if err := p.responder.Present(ctx, p.pa); err != nil {
				return failed(StepPresent, false, pendings, fmt.Errorf("发布 %s 的挑战失败: %w", p.pa.Identifier, err))
			}
		}

		batch := make([]*model.PendingAuthorization, 0, len(round))
		for _, p := range round {
			msg, err := c.SubmitChallenge(ctx, identifierID, p.pa.ChallengeType, p.pa)
			if err != nil {
				return failed(StepSubmit, isTerminal(err), pendings, err)
			}
			c.log.Information("[ACME] %s", msg)
			batch = append(batch, p.pa)
		}

		if err := c.waitForValidation(ctx, identifierID, batch); err != nil {
			return failed(StepValidate, isTerminal(err), pendings, err)
		}
		c.cleanUp(ctx, cleanup)
		cleanup = nil
	}

	cert, err := c.finalize(ctx, identifierID)
	if err != nil {
		return failed(StepFinalize, isTerminal(err), pendings, err)
	}

	c.log.Information("[ACME] 证书已签发: %s，有效期至 %s", primaryDomain, cert.NotAfter.Format("2006-01-02"))
	return &model.ProcessStepResult{
		Step:           StepComplete,
		IsSuccess:      true,
		IsTerminal:     true,
		Message:        "证书已签发",
		Authorizations: pendings,
		Certificate:    cert,
	}, nil
}

// cleanUp 清理已发布的挑战，不受调用方 ctx 取消影响
func (c *Client) cleanUp(ctx context.Context, items []presented) {
	if len(items) == 0 {
		return
	}
	cleanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	for _, p := range items {
		if err := p.responder.CleanUp(cleanCtx, p.pa); err != nil {
			c.log.Warning("[ACME] 清理 %s 的挑战失败: %v", p.pa.Identifier, err)
		}
	}
}

// rounds 按挑战资源分轮，同一轮内每个资源只出现一次，顺序保持不变
func rounds(items []presented) [][]presented {
	var out [][]presented
	used := make(map[string]int)
	for _, p := range items {
		key := resourceKey(p.pa)
		i := used[key]
		used[key] = i + 1
		if i == len(out) {
			out = append(out, nil)
		}
		out[i] = append(out[i], p)
	}
	return out
}

func resourceKey(pa *model.PendingAuthorization) string {
	if pa.ResourceName != "" {
		return pa.ChallengeType + "|" + strings.ToLower(pa.ResourceName)
	}
	if pa.ResourcePath != "" {
		return pa.ChallengeType + "|" + pa.ResourcePath
	}
	return pa.ChallengeType + "|" + pa.Identifier
}

func (c *Client) waitForValidation(ctx context.Context, identifierID string, pendings []*model.PendingAuthorization) error {
	for attempt := 0; ; attempt++ {
		done := true
		for _, pa := range pendings {
			if pa.Status == model.AuthorizationValid {
				continue
			}
			if _, err := c.CheckValidationCompleted(ctx, identifierID, pa); err != nil {
				return err
			}
			switch pa.Status {
			case model.AuthorizationInvalid:
				return &ValidationError{Domain: pa.Identifier, Status: pa.Status, Detail: pa.Message}
			case model.AuthorizationValid:
				c.log.Information("[ACME] %s 验证通过", pa.Identifier)
			default:
				done = false
			}
		}
		if done {
			return nil
		}
		if attempt+1 >= c.pollAttempts {
			return fmt.Errorf("等待域名验证超时 (%d 次)", c.pollAttempts)
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

func (c *Client) finalize(ctx context.Context, identifierID string) (*model.IssuedCertificate, error) {
	c.mu.Lock()
	o := c.orders[identifierID]
	c.mu.Unlock()
	if o == nil {
		return nil, fmt.Errorf("订单 %s 不存在", identifierID)
	}

	// 等待订单进入 ready
	for attempt := 0; ; attempt++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		xo, err := c.issuer.GetOrder(ctx, o.uri)
		if err != nil {
			return nil, issuerError("查询订单状态失败", err)
		}
		if xo.Status == xacme.StatusReady || xo.Status == xacme.StatusValid {
			c.setOrderState(o, OrderReady)
			break
		}
		if xo.Status == xacme.StatusInvalid {
			c.setOrderState(o, OrderInvalid)
			return nil, validationf("订单已失效")
		}
		if attempt+1 >= c.pollAttempts {
			return nil, fmt.Errorf("等待订单就绪超时，当前状态: %s", xo.Status)
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}

	c.setOrderState(o, OrderFinalizing)

	key, err := certcrypto.GeneratePrivateKey(c.keyType)
	if err != nil {
		return nil, fmt.Errorf("生成证书私钥失败: %w", err)
	}
	csr, err := certcrypto.GenerateCSR(key, o.domains[0], o.domains, false)
	if err != nil {
		return nil, fmt.Errorf("生成CSR失败: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	der, _, err := c.issuer.CreateOrderCert(ctx, o.finalizeURL, csr, true)
	if err != nil {
		c.setOrderState(o, OrderInvalid)
		return nil, issuerError("签发证书失败", err)
	}
	if len(der) == 0 {
		c.setOrderState(o, OrderInvalid)
		return nil, fmt.Errorf("签发结果为空")
	}

	leaf, err := x509.ParseCertificate(der[0])
	if err != nil {
		c.setOrderState(o, OrderInvalid)
		return nil, fmt.Errorf("解析证书失败: %w", err)
	}
	c.setOrderState(o, OrderValid)

	issued := &model.IssuedCertificate{
		CertificatePEM: certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der[0])),
		PrivateKeyPEM:  certcrypto.PEMEncode(key),
		NotBefore:      leaf.NotBefore,
		NotAfter:       leaf.NotAfter,
	}
	for _, ca := range der[1:] {
		issued.IssuerPEM = append(issued.IssuerPEM, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(ca))...)
	}
	return issued, nil
}

// RevokeCertificate 吊销受管证书
func (c *Client) RevokeCertificate(ctx context.Context, mc *model.ManagedCertificate) error {
	if mc == nil || mc.CertificatePath == "" {
		return fmt.Errorf("%w: 证书文件路径为空", model.ErrConfigurationMissing)
	}
	leaf, err := storage.ReadLeaf(mc.CertificatePath, mc.PFXPassword)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.issuer.RevokeCert(ctx, nil, leaf.Raw, xacme.CRLReasonUnspecified); err != nil {
		return fmt.Errorf("吊销证书 %s 失败: %w", mc.PrimaryDomain(), err)
	}
	c.log.Information("[ACME] 证书已吊销: %s (序列号 %s)", mc.PrimaryDomain(), leaf.SerialNumber.Text(16))
	return nil
}

func failed(step string, terminal bool, pendings []*model.PendingAuthorization, err error) (*model.ProcessStepResult, error) {
	return &model.ProcessStepResult{
		Step:           step,
		IsSuccess:      false,
		IsTerminal:     terminal,
		Message:        err.Error(),
		Authorizations: pendings,
	}, err
}

func isTerminal(err error) bool {
	return errors.Is(err, model.ErrValidationFailure)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
