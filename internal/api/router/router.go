package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanosuguru/go-event-board/internal/api"
	"github.com/sanosuguru/go-event-board/internal/api/handler"
	"github.com/sanosuguru/go-event-board/internal/api/middleware"
	"github.com/sanosuguru/go-event-board/internal/config"
	"github.com/sanosuguru/go-event-board/internal/pkg/metrics"
)

// Options はルーター構築時の設定
type Options struct {
	// Metrics が nil の場合は /metrics を公開しない
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	MetricsAuth *config.MetricsConfig
	BodyLimit   string
}

// New はミドルウェアとルートを設定した Echo インスタンスを返す
func New(eventHandler *handler.EventHandler, healthHandler *handler.HealthHandler, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	middleware.SetupMiddleware(e, opts.Metrics, opts.BodyLimit)

	e.GET("/health", healthHandler.Check)
	if opts.Metrics != nil {
		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
			middleware.MetricsBasicAuth(opts.MetricsAuth))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/events", eventHandler.Create)
	v1.GET("/events", eventHandler.List)
	v1.GET("/events/:id", eventHandler.GetByID)
	v1.PUT("/events/:id", eventHandler.Update)
	v1.DELETE("/events/:id", eventHandler.Delete)
	v1.POST("/events/:id/votes", eventHandler.Vote)

	return e
}
