package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/folio-hub/folio/internal/lifecycle"
	"github.com/folio-hub/folio/internal/logging"
	"github.com/folio-hub/folio/internal/server"
)

// Server 是 handler 依赖的 fetch 入口，*lifecycle.Registration 即满足该接口。
type Server interface {
	Serve(ctx context.Context, req *http.Request) (*lifecycle.Result, error)
}

// Handler 把站点请求转换成 fetch 事件：激活版本的缓存命中时直接返回，
// 否则由注册回落到网络。handler 本身不读写任何缓存。
type Handler struct {
	server Server
	logger *logrus.Logger
}

// NewHandler constructs a site handler backed by the registration.
func NewHandler(srv Server, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{server: srv, logger: logger}
}

// Handle 实现 server.SiteHandler。
func (h *Handler) Handle(c fiber.Ctx, site *server.Site) error {
	started := time.Now()
	requestID := server.RequestID(c)

	target, err := site.Target(string(c.Request().RequestURI()))
	if err != nil {
		h.logResult(c.Method(), string(c.Request().RequestURI()), nil, requestID, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request_uri")
	}

	ctx := c.Context()
	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bodyReader(c.Body()))
	if err != nil {
		h.logResult(c.Method(), target.String(), nil, requestID, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	// 缓存键按字面值匹配，避免 NewRequest 重新编码路径
	req.URL = target
	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")

	result, err := h.server.Serve(ctx, req)
	if err != nil {
		h.logResult(c.Method(), target.String(), nil, requestID, started, err)
		if errors.Is(err, lifecycle.ErrNetwork) {
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}
		return h.writeError(c, fiber.StatusInternalServerError, "fetch_failed")
	}

	h.writeResult(c, result)
	h.logResult(c.Method(), target.String(), result, requestID, started, nil)
	return nil
}

func (h *Handler) writeResult(c fiber.Ctx, result *lifecycle.Result) {
	resp := result.Response
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Set("X-Folio-Cache-Hit", strconv.FormatBool(result.Source == lifecycle.SourceCache))
	if result.CacheName != "" {
		c.Set("X-Folio-Cache", result.CacheName)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		return
	}
	c.Response().SetBodyRaw(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(method, url string, result *lifecycle.Result, requestID string, started time.Time, err error) {
	cacheName := ""
	cacheHit := false
	if result != nil {
		cacheName = result.CacheName
		cacheHit = result.Source == lifecycle.SourceCache
	}
	fields := logging.RequestFields(cacheName, method, url, cacheHit)
	fields["action"] = "proxy"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if result != nil {
		fields["status"] = result.Response.StatusCode
		fields["source"] = string(result.Source)
		if result.VersionID != "" {
			fields["version_id"] = result.VersionID
		}
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func bodyReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	for key, values := range c.GetReqHeaders() {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	return header
}
