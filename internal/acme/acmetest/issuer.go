// Package acmetest 提供内存中的 ACME 服务端，用于测试
package acmetest

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	xacme "golang.org/x/crypto/acme"
)

// Issuer 内存中的 ACME 服务端
type Issuer struct {
	mu sync.Mutex

	registered bool
	Offered    []string
	// 提交后第几次查询变为终态
	ValidateAfter int
	FailDomains   map[string]bool

	orderSeq int
	orders   map[string]*xacme.Order
	authz    map[string]*xacme.Authorization
	accepted map[string]bool
	checks   map[string]int

	// OrderErr 非空时 AuthorizeOrder 返回该错误
	OrderErr error

	Revoked   [][]byte
	RevokeErr error
	calls     map[string]int

	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate
}

// NewIssuer 创建服务端，默认提供 dns-01 与 http-01 挑战，首次查询即通过验证
func NewIssuer() *Issuer {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Fake CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, _ := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	ca, _ := x509.ParseCertificate(der)

	return &Issuer{
		Offered:       []string{"dns-01", "http-01"},
		ValidateAfter: 1,
		FailDomains:   map[string]bool{},
		orders:        map[string]*xacme.Order{},
		authz:         map[string]*xacme.Authorization{},
		accepted:      map[string]bool{},
		checks:        map[string]int{},
		calls:         map[string]int{},
		caKey:         key,
		caCert:        ca,
	}
}

func (f *Issuer) count(name string) {
	f.calls[name]++
}

// Calls 返回方法被调用的次数
func (f *Issuer) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *Issuer) Register(_ context.Context, acct *xacme.Account, prompt func(string) bool) (*xacme.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Register")
	if !prompt("https://acme.test/tos") {
		return nil, errors.New("tos not accepted")
	}
	if f.registered {
		return nil, xacme.ErrAccountAlreadyExists
	}
	f.registered = true
	return &xacme.Account{URI: "https://acme.test/acct/1", Status: xacme.StatusValid, Contact: acct.Contact}, nil
}

func (f *Issuer) GetReg(context.Context, string) (*xacme.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetReg")
	return &xacme.Account{URI: "https://acme.test/acct/1", Status: xacme.StatusValid}, nil
}

func (f *Issuer) AuthorizeOrder(_ context.Context, ids []xacme.AuthzID, _ ...xacme.OrderOption) (*xacme.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("AuthorizeOrder")
	if f.OrderErr != nil {
		return nil, f.OrderErr
	}

	f.orderSeq++
	o := &xacme.Order{
		URI:         fmt.Sprintf("https://acme.test/order/%d", f.orderSeq),
		Status:      xacme.StatusPending,
		Identifiers: ids,
		FinalizeURL: fmt.Sprintf("https://acme.test/order/%d/finalize", f.orderSeq),
	}
	for i, id := range ids {
		url := fmt.Sprintf("https://acme.test/authz/%d-%d", f.orderSeq, i)
		wildcard := strings.HasPrefix(id.Value, "*.")
		a := &xacme.Authorization{
			URI:        url,
			Status:     xacme.StatusPending,
			Identifier: xacme.AuthzID{Type: "dns", Value: strings.TrimPrefix(id.Value, "*.")},
			Wildcard:   wildcard,
		}
		for _, typ := range f.Offered {
			if wildcard && typ == "http-01" {
				continue
			}
			a.Challenges = append(a.Challenges, &xacme.Challenge{
				Type:   typ,
				URI:    url + "/" + typ,
				Token:  fmt.Sprintf("tok-%d-%d-%s", f.orderSeq, i, typ),
				Status: xacme.StatusPending,
			})
		}
		f.authz[url] = a
		o.AuthzURLs = append(o.AuthzURLs, url)
	}
	f.orders[o.URI] = o
	return copyOrder(o), nil
}

func (f *Issuer) GetAuthorization(_ context.Context, url string) (*xacme.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetAuthorization")

	a, ok := f.authz[url]
	if !ok {
		return nil, fmt.Errorf("authorization %s not found", url)
	}
	if f.accepted[url] && a.Status == xacme.StatusPending {
		f.checks[url]++
		if f.checks[url] >= f.ValidateAfter {
			if f.FailDomains[a.Identifier.Value] {
				a.Status = xacme.StatusInvalid
				for _, c := range a.Challenges {
					c.Status = xacme.StatusInvalid
					c.Error = &xacme.Error{StatusCode: 403, Detail: "incorrect TXT record"}
				}
			} else {
				a.Status = xacme.StatusValid
				for _, c := range a.Challenges {
					c.Status = xacme.StatusValid
				}
			}
		}
	}
	return copyAuthz(a), nil
}

func (f *Issuer) Accept(_ context.Context, chal *xacme.Challenge) (*xacme.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Accept")

	for url, a := range f.authz {
		for _, c := range a.Challenges {
			if c.URI == chal.URI {
				f.accepted[url] = true
				c.Status = xacme.StatusProcessing
				cp := *c
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("challenge %s not found", chal.URI)
}

func (f *Issuer) GetOrder(_ context.Context, url string) (*xacme.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetOrder")

	o, ok := f.orders[url]
	if !ok {
		return nil, fmt.Errorf("order %s not found", url)
	}
	if o.Status == xacme.StatusPending {
		ready := true
		for _, u := range o.AuthzURLs {
			switch f.authz[u].Status {
			case xacme.StatusInvalid:
				o.Status = xacme.StatusInvalid
				return copyOrder(o), nil
			case xacme.StatusValid:
			default:
				ready = false
			}
		}
		if ready {
			o.Status = xacme.StatusReady
		}
	}
	return copyOrder(o), nil
}

func (f *Issuer) CreateOrderCert(_ context.Context, url string, csrDER []byte, bundle bool) ([][]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateOrderCert")

	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, "", err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: csr.Subject.CommonName},
		DNSNames:     csr.DNSNames,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leaf, err := x509.CreateCertificate(rand.Reader, tmpl, f.caCert, csr.PublicKey, f.caKey)
	if err != nil {
		return nil, "", err
	}
	chain := [][]byte{leaf}
	if bundle {
		chain = append(chain, f.caCert.Raw)
	}
	return chain, strings.TrimSuffix(url, "/finalize") + "/cert", nil
}

func (f *Issuer) RevokeCert(_ context.Context, _ crypto.Signer, cert []byte, _ xacme.CRLReasonCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("RevokeCert")
	if f.RevokeErr != nil {
		return f.RevokeErr
	}
	f.Revoked = append(f.Revoked, cert)
	return nil
}

func (f *Issuer) DNS01ChallengeRecord(token string) (string, error) {
	return "dns-" + token, nil
}

func (f *Issuer) HTTP01ChallengeResponse(token string) (string, error) {
	return token + ".thumbprint", nil
}

func copyOrder(o *xacme.Order) *xacme.Order {
	cp := *o
	cp.AuthzURLs = append([]string(nil), o.AuthzURLs...)
	return &cp
}

func copyAuthz(a *xacme.Authorization) *xacme.Authorization {
	cp := *a
	cp.Challenges = nil
	for _, c := range a.Challenges {
		cc := *c
		cp.Challenges = append(cp.Challenges, &cc)
	}
	return &cp
}
