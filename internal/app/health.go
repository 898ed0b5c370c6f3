package app

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/pgha-monitor/internal/health"
	pgstorage "github.com/taoyao-code/pgha-monitor/internal/storage/pg"
	redisstorage "github.com/taoyao-code/pgha-monitor/internal/storage/redis"
)

// checkTimeout 单个健康检查的超时
const checkTimeout = 5 * time.Second

// NewHealthAggregator 创建健康检查聚合器：探测状态 + 独立握手
func NewHealthAggregator(probeChecker *health.ProbeChecker, dialer *pgstorage.Dialer) *health.Aggregator {
	return health.NewAggregator(checkTimeout,
		probeChecker,
		health.NewDatabaseChecker(PingFunc(dialer), dialer.ConnectTimeout()),
	)
}

// AddRedisChecker Redis 发布启用时加入检查
func AddRedisChecker(aggregator *health.Aggregator, publisher *redisstorage.StatusPublisher) {
	if publisher != nil {
		aggregator.AddChecker(health.NewRedisChecker(publisher))
	}
}

// HealthRoutes 返回注册健康检查路由的函数
func HealthRoutes(ready *health.Readiness, aggregator *health.Aggregator) func(r gin.IRoutes) {
	return func(r gin.IRoutes) {
		health.RegisterHTTPRoutes(r, ready, aggregator)
	}
}
