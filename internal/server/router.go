package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/blobcache/internal/cache"
)

// BlobCache is the subset of *cache.Cache[[]byte] the HTTP surface relies on.
// It allows injecting fake caches during tests.
type BlobCache interface {
	Fetch(key string, cb cache.Callback[[]byte])
	Remove(key string)
	Peek(key string) ([]byte, bool)
	Fetching(key string) bool
	FailedToFetch(key string) bool
	PersistCacheToDisk(ctx context.Context)
	ReduceDiskCache(maxCount int)
	Stats() cache.Stats
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Cache      BlobCache
	ListenPort int
	// FetchWait bounds how long GET /blobs waits for the cache callback.
	FetchWait time.Duration
}

// notifyMemoryPressure 可在测试中替换，避免清空其他缓存实例。
var notifyMemoryPressure = cache.NotifyMemoryPressure

const (
	contextKeyRequestID = "_blobcache_request_id"
	defaultFetchWait    = 30 * time.Second
)

// NewApp builds a Fiber application with request-id middleware, the blob
// routes and the diagnostics routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = defaultFetchWait
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	h := &handlers{
		cache:     opts.Cache,
		logger:    opts.Logger,
		fetchWait: opts.FetchWait,
	}

	app.Get("/blobs", h.getBlob)
	app.Delete("/blobs", h.deleteBlob)

	diag := app.Group("/-")
	diag.Get("/status", h.status)
	diag.Get("/stats", h.stats)
	diag.Post("/persist", h.persist)
	diag.Post("/reduce", h.reduce)
	diag.Post("/purge", h.purge)

	app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "route_not_found",
		})
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
