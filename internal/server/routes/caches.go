package routes

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v3"

	"github.com/folio-hub/folio/internal/cache"
	"github.com/folio-hub/folio/internal/lifecycle"
	"github.com/folio-hub/folio/internal/version"
)

// StatusSource 提供当前激活版本信息，*lifecycle.Registration 即满足该接口。
type StatusSource interface {
	CacheName() string
	Status() lifecycle.Status
}

type bucketPayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

type entryPayload struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// RegisterCacheRoutes 暴露 /-/caches 与 /-/worker 诊断接口，供排查缓存版本与清理情况。
func RegisterCacheRoutes(app *fiber.App, storage cache.Storage, status StatusSource) {
	if app == nil || storage == nil || status == nil {
		return
	}

	app.Get("/-/caches", func(c fiber.Ctx) error {
		ctx := c.Context()
		names, err := storage.Keys(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		current := status.CacheName()
		buckets := make([]bucketPayload, 0, len(names))
		for _, name := range names {
			bucket, err := storage.Lookup(ctx, name)
			if errors.Is(err, cache.ErrNotFound) {
				// 列举之后被激活流程删除
				continue
			}
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_open_failed"})
			}
			keys, err := bucket.Keys(ctx)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_keys_failed"})
			}
			buckets = append(buckets, bucketPayload{Name: name, Entries: len(keys), Current: name == current})
		}
		return c.JSON(fiber.Map{
			"current": current,
			"caches":  buckets,
		})
	})

	app.Get("/-/caches/:name", func(c fiber.Ctx) error {
		ctx := c.Context()
		name, err := url.PathUnescape(c.Params("name"))
		if err != nil || name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_name_required"})
		}
		bucket, err := storage.Lookup(ctx, name)
		if errors.Is(err, cache.ErrInvalidName) || errors.Is(err, cache.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_not_found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_lookup_failed"})
		}
		keys, err := bucket.Keys(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_keys_failed"})
		}
		entries := make([]entryPayload, 0, len(keys))
		for _, key := range keys {
			entries = append(entries, entryPayload{Method: key.Method, URL: key.URL})
		}
		return c.JSON(fiber.Map{
			"name":    name,
			"current": name == status.CacheName(),
			"entries": entries,
		})
	})

	app.Get("/-/worker", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version":      version.Full(),
			"cache_name":   status.CacheName(),
			"registration": status.Status(),
		})
	})
}
