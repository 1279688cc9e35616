package wire

import (
	appCE "github.com/cocursor/contextengine/internal/application/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/config"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProviderSet 组合根级别的 Provider
var ProviderSet = wire.NewSet(
	ProvideMetricsRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
	ProvidePolicyLoader,
)

// ProvideMetricsRegistry 创建独立的指标注册表，附带进程与运行时指标
func ProvideMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvidePolicyLoader 热更新时从配置文件读取策略
func ProvidePolicyLoader() appCE.PolicyLoader {
	return config.LoadPolicy
}
