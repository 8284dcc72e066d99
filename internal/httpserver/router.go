// Package httpserver exposes the approval callback plus health and metrics endpoints.
package httpserver

import (
	"context"
	"html"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"replygate/internal/approval"
	"replygate/internal/notifier"
)

// Approver is satisfied by *approval.Handler.
type Approver interface {
	Handle(ctx context.Context, action, token string) (approval.Outcome, error)
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerChecker is satisfied by *mq.Publisher.
type BrokerChecker interface {
	IsConnected() bool
}

type Router struct {
	Engine *gin.Engine
}

type routerOptions struct {
	broker BrokerChecker
}

type Option func(*routerOptions)

// WithBroker adds the event broker connection to /readyz.
func WithBroker(b BrokerChecker) Option {
	return func(o *routerOptions) { o.broker = b }
}

func NewRouter(approver Approver, cache Pinger, log *zap.Logger, opts ...Option) *Router {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := gin.New()
	r.Use(TraceMiddleware(), RecoveryMiddleware(log), LoggingMiddleware(log), MetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := cache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "cache_not_ready", "error": err.Error()})
			return
		}
		if o.broker != nil && !o.broker.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET(notifier.CallbackPath, NoLeakMiddleware(), callbackHandler(approver, log))

	return &Router{Engine: r}
}

func callbackHandler(approver Approver, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := approver.Handle(c.Request.Context(), c.Query("action"), c.Query("id"))
		if err != nil {
			log.Debug("callback finished with error", zap.Int("status", out.Status), zap.Error(err))
		}
		c.Data(out.Status, "text/html; charset=utf-8", []byte("<p>"+html.EscapeString(out.Message)+"</p>"))
	}
}

// Server wraps the engine in an http.Server so it can be shut down gracefully.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
