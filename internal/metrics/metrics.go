// Package metrics 定义证书签发与部署相关的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ACMEOrdersTotal 证书申请次数
	// Labels: status (success, failed)
	ACMEOrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ssl_deployer",
			Name:      "acme_orders_total",
			Help:      "Total number of certificate orders processed",
		},
		[]string{"status"},
	)

	// ACMEOrderDuration 证书申请耗时
	ACMEOrderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ssl_deployer",
			Name:      "acme_order_duration_seconds",
			Help:      "Duration of certificate order processing in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// AuthorizationChecksTotal 授权状态查询次数
	// Labels: status (pending, processing, valid, invalid)
	AuthorizationChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ssl_deployer",
			Name:      "authorization_checks_total",
			Help:      "Total number of authorization status checks",
		},
		[]string{"status"},
	)

	// DeploymentTasksTotal 部署任务执行次数
	// Labels: provider, status (success, failed), preview (true, false)
	DeploymentTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ssl_deployer",
			Name:      "deployment_tasks_total",
			Help:      "Total number of deployment task executions",
		},
		[]string{"provider", "status", "preview"},
	)

	// DeploymentTaskDuration 部署任务耗时
	DeploymentTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ssl_deployer",
			Name:      "deployment_task_duration_seconds",
			Help:      "Duration of deployment task executions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// BindingChangesTotal 绑定变更次数
	// Labels: protocol, action (create, update, recreate, unchanged)
	BindingChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ssl_deployer",
			Name:      "binding_changes_total",
			Help:      "Total number of binding reconciliation outcomes",
		},
		[]string{"protocol", "action"},
	)

	// CertificateExpiryDays 受管证书剩余天数
	// Labels: certificate
	CertificateExpiryDays = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ssl_deployer",
			Name:      "certificate_expiry_days",
			Help:      "Days until managed certificate expiry",
		},
		[]string{"certificate"},
	)
)

// Status 将布尔结果转换为标签值
func Status(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
