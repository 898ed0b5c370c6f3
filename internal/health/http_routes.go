package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHTTPRoutes 注册健康检查HTTP路由
//
//	GET /healthz  进程存活
//	GET /readyz   建表完成、探测循环已启动
//	GET /health   聚合报告（probe/database/redis）
func RegisterHTTPRoutes(r gin.IRoutes, ready *Readiness, aggregator *Aggregator) {
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/readyz", func(c *gin.Context) {
		if ready == nil || ready.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})

	r.GET("/health", func(c *gin.Context) {
		report := aggregator.Report(c.Request.Context())
		c.JSON(report.Status.HTTPCode(), report)
	})
}
