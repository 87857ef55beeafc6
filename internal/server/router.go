package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-cache/internal/fetcher"
)

// AssetFetcher describes the fetch capability the HTTP layer depends on. It
// allows injecting fake fetchers during tests.
type AssetFetcher interface {
	FetchNamed(ctx context.Context, key, cacheName string) *fetcher.Result
	Clear(ctx context.Context) error
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Fetcher    AssetFetcher
	Gatherer   prometheus.Gatherer
	ListenPort int
}

const contextKeyRequestID = "_assetcache_request_id"

// NewApp builds a Fiber application with request-id middleware, the fetch
// route and the diagnostics routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.Gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	app.Delete("/-/cache", clearHandler(opts))
	app.Get("/fetch", fetchHandler(opts))

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，并写回响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// fetchHandler 通过 Fetcher 获取 url 参数指定的资源并流式返回；可选的 name 参数指定缓存名。
func fetchHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		requestID := RequestID(c)
		key := strings.TrimSpace(c.Query("url"))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing_url",
			})
		}

		res := opts.Fetcher.FetchNamed(requestContext(c), key, strings.TrimSpace(c.Query("name")))
		if !res.Success {
			res.Close()
			logResult(opts.Logger, key, requestID, fiber.StatusBadGateway, false, started, errors.New(res.ErrorMessage))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   "fetch_failed",
				"message": res.ErrorMessage,
			})
		}

		if res.ContentType != "" {
			c.Set(fiber.HeaderContentType, res.ContentType)
		} else {
			c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		}
		c.Set("X-Asset-Cache-Hit", strconv.FormatBool(res.CacheHit))
		logResult(opts.Logger, key, requestID, fiber.StatusOK, res.CacheHit, started, nil)

		// fasthttp 边读边发送正文，发送结束或连接中断后调用 res.Close。
		return c.Status(fiber.StatusOK).SendStream(res)
	}
}

func clearHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := opts.Fetcher.Clear(requestContext(c)); err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "cache_clear",
				"request_id": RequestID(c),
			}).WithError(err).Error("cache_clear_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "cache_clear_failed",
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func logResult(logger *logrus.Logger, key, requestID string, status int, cacheHit bool, started time.Time, err error) {
	fields := logrus.Fields{
		"action":     "serve",
		"key":        key,
		"status":     status,
		"cache_hit":  cacheHit,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("serve_failed")
		return
	}
	logger.WithFields(fields).Info("serve_started")
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
