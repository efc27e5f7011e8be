package cmd

import (
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/sled/internal/meta"
	"github.com/luma/sled/internal/metrics"
	"github.com/luma/sled/transport"
)

// newAdminRouter serves liveness, server stats and Prometheus metrics for srv.
func newAdminRouter(srv *transport.Server, debugHTTP bool, log *zap.Logger) *gin.Engine {
	metrics.RegisterMetrics()

	router := setupRouter(debugHTTP, log)

	// Ping test
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/stats", func(c *gin.Context) {
		body, err := stats(srv)
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", body)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func stats(srv *transport.Server) ([]byte, error) {
	body := []byte(`{}`)

	var err error
	set := func(path string, value interface{}) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, value)
		}
	}

	if addr, ok := srv.Addr().(*net.TCPAddr); ok {
		set("port", addr.Port)
	}

	set("connections.active", srv.ActiveConnections())
	set("connections.max", srv.MaxConnections())
	set("commands", srv.Commands().Len())
	set("version", meta.Version)

	return body, err
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
