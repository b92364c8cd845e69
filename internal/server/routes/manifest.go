package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/folio-hub/folio/internal/server"
	"github.com/folio-hub/folio/internal/webmanifest"
)

// RegisterManifestRoute 在 /manifest.webmanifest 提供 PWA manifest。文档在注册时编码一次。
func RegisterManifestRoute(app *fiber.App, manifest webmanifest.Manifest) error {
	if app == nil {
		return nil
	}
	data, err := manifest.Encode()
	if err != nil {
		return err
	}
	app.Get(server.ManifestPath, func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, webmanifest.ContentType)
		return c.Send(data)
	})
	return nil
}
