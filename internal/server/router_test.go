package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/folio-hub/folio/internal/config"
)

func TestRouterHandsSiteRequestsToHandler(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("GET", "http://localhost/about.html?tab=cv", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if app.recorder.target != "https://portfolio.example.com/about.html?tab=cv" {
		t.Fatalf("unexpected target %s", app.recorder.target)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterLeavesDiagnosticsToRoutes(t *testing.T) {
	app := newTestApp(t)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://localhost/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("diagnostics route not reached: %d %s", resp.StatusCode, body)
	}
	if app.recorder.calls != 0 {
		t.Fatalf("site handler should not see diagnostics paths")
	}

	resp, err = app.Test(httptest.NewRequest("GET", "http://localhost/-/missing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("unknown diagnostics path should be 404, got %d", resp.StatusCode)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	logger := logrus.New()
	site := &Site{ListenPort: 5000}
	handler := SiteHandlerFunc(func(c fiber.Ctx, _ *Site) error { return nil })

	cases := []AppOptions{
		{Site: site, Handler: handler},
		{Logger: logger, Handler: handler},
		{Logger: logger, Site: site},
		{Logger: logger, Site: &Site{}, Handler: handler},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestSiteTargetUsesOriginPrefix(t *testing.T) {
	cfg := &config.Config{Global: config.GlobalConfig{Origin: "https://example.com/portfolio", ListenPort: 5000}}
	site, err := NewSite(cfg)
	if err != nil {
		t.Fatalf("NewSite error: %v", err)
	}
	target, err := site.Target("/index.html")
	if err != nil {
		t.Fatalf("Target error: %v", err)
	}
	if target.String() != "https://example.com/portfolio/index.html" {
		t.Fatalf("unexpected target %s", target)
	}
	if _, err := site.Target("//evil.example/x"); err == nil {
		t.Fatalf("protocol-relative request URI should be rejected")
	}
	if _, err := NewSite(&config.Config{}); err == nil {
		t.Fatalf("missing origin should fail")
	}
}

type testApp struct {
	*fiber.App
	recorder *siteRecorder
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort: 5000,
			Origin:     "https://portfolio.example.com",
		},
	}
	site, err := NewSite(cfg)
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &siteRecorder{}
	app, err := NewApp(AppOptions{
		Logger:  logger,
		Site:    site,
		Handler: recorder,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type siteRecorder struct {
	calls  int
	target string
}

func (p *siteRecorder) Handle(c fiber.Ctx, site *Site) error {
	p.calls++
	target, err := site.Target(string(c.Request().RequestURI()))
	if err != nil {
		return err
	}
	p.target = target.String()
	return c.SendStatus(fiber.StatusNoContent)
}
