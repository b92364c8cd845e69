package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SiteHandler serves every non-diagnostic request. It allows injecting fake
// handlers during tests.
type SiteHandler interface {
	Handle(fiber.Ctx, *Site) error
}

// SiteHandlerFunc adapts a function to the SiteHandler interface.
type SiteHandlerFunc func(fiber.Ctx, *Site) error

// Handle makes SiteHandlerFunc satisfy SiteHandler.
func (f SiteHandlerFunc) Handle(c fiber.Ctx, site *Site) error {
	return f(c, site)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger  *logrus.Logger
	Site    *Site
	Handler SiteHandler
}

const contextKeyRequestID = "_folio_request_id"

// ManifestPath 由 routes 注册，不作为站点请求转发。
const ManifestPath = "/manifest.webmanifest"

// NewApp builds a Fiber application with request-id middleware and routes all
// site traffic to the handler. Diagnostics routes are registered afterwards
// by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Site == nil {
		return nil, errors.New("site is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("site handler is required")
	}
	if opts.Site.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.Site.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "folio",
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isLocalPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Handler.Handle(c, opts.Site)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
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

func isLocalPath(path string) bool {
	return strings.HasPrefix(path, "/-/") || path == ManifestPath
}
