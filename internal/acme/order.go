package acme

import (
	"strings"

	xacme "golang.org/x/crypto/acme"

	"ssl-deployer/internal/model"
)

// OrderState 订单状态
type OrderState string

const (
	OrderNew         OrderState = "new"
	OrderAuthorizing OrderState = "authorizing"
	OrderValidating  OrderState = "validating"
	OrderReady       OrderState = "ready"
	OrderFinalizing  OrderState = "finalizing"
	OrderValid       OrderState = "valid"
	OrderInvalid     OrderState = "invalid"
)

// IsFinal 是否为终态
func (s OrderState) IsFinal() bool {
	return s == OrderValid || s == OrderInvalid
}

// order 客户端侧跟踪的订单
type order struct {
	id          string
	state       OrderState
	uri         string
	finalizeURL string
	domains     []string
	authzURLs   []string

	// 以域名为键（通配符保留 *. 前缀）
	authz     map[string]*xacme.Authorization
	submitted map[string]bool
	// 以授权 URL 为键
	authzStatus map[string]string
}

func newOrder(id string, domains []string, xo *xacme.Order) *order {
	o := &order{
		id:          id,
		state:       OrderNew,
		uri:         xo.URI,
		finalizeURL: xo.FinalizeURL,
		domains:     domains,
		authzURLs:   xo.AuthzURLs,
		authz:       make(map[string]*xacme.Authorization),
		submitted:   make(map[string]bool),
		authzStatus: make(map[string]string),
	}
	if xo.Status == xacme.StatusReady {
		o.state = OrderReady
	}
	return o
}

func (o *order) hasDomain(d string) bool {
	for _, od := range o.domains {
		if od == d {
			return true
		}
	}
	return false
}

func (o *order) hasAuthzURL(url string) bool {
	for _, u := range o.authzURLs {
		if u == url {
			return true
		}
	}
	return false
}

// advance 只允许状态前进，终态不再变化
func (o *order) advance(next OrderState) {
	if o.state.IsFinal() {
		return
	}
	if rank(next) > rank(o.state) {
		o.state = next
	}
}

// recompute 根据已知授权状态更新订单状态
func (o *order) recompute() {
	if len(o.authzURLs) == 0 {
		return
	}
	valid := 0
	for _, url := range o.authzURLs {
		switch o.authzStatus[url] {
		case xacme.StatusValid:
			valid++
		case xacme.StatusInvalid, xacme.StatusDeactivated, xacme.StatusExpired, xacme.StatusRevoked:
			o.advance(OrderInvalid)
			return
		}
	}
	if valid == len(o.authzURLs) {
		o.advance(OrderReady)
	}
}

func rank(s OrderState) int {
	switch s {
	case OrderNew:
		return 0
	case OrderAuthorizing:
		return 1
	case OrderValidating:
		return 2
	case OrderReady:
		return 3
	case OrderFinalizing:
		return 4
	case OrderValid:
		return 5
	default:
		return 6
	}
}

// authzKey 授权对应的域名键
func authzKey(a *xacme.Authorization) string {
	v := strings.ToLower(a.Identifier.Value)
	if a.Wildcard && !strings.HasPrefix(v, "*.") {
		return "*." + v
	}
	return v
}

// mapAuthzStatus 将服务端状态转换为授权状态
func mapAuthzStatus(a *xacme.Authorization, chal *xacme.Challenge, submitted bool) model.AuthorizationStatus {
	switch a.Status {
	case xacme.StatusValid:
		return model.AuthorizationValid
	case xacme.StatusInvalid, xacme.StatusDeactivated, xacme.StatusExpired, xacme.StatusRevoked:
		return model.AuthorizationInvalid
	}
	if chal != nil {
		switch chal.Status {
		case xacme.StatusProcessing:
			return model.AuthorizationProcessing
		case xacme.StatusInvalid:
			return model.AuthorizationInvalid
		}
	}
	if submitted {
		return model.AuthorizationProcessing
	}
	return model.AuthorizationPending
}

func findChallenge(a *xacme.Authorization, typ, uri string) *xacme.Challenge {
	for _, c := range a.Challenges {
		if uri != "" && c.URI == uri {
			return c
		}
		if uri == "" && c.Type == typ {
			return c
		}
	}
	return nil
}
