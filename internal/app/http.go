package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/taoyao-code/pgha-monitor/internal/config"
	"github.com/taoyao-code/pgha-monitor/internal/httpserver"
)

// NewHTTPServer 根据配置创建 HTTP 服务器；metrics.enable 关闭时不挂载指标
func NewHTTPServer(cfg *cfgpkg.Config, metricsHandler http.Handler, register func(r gin.IRoutes)) *httpserver.Server {
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	return httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, register)
}
