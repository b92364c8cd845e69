package routes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v3"

	"github.com/folio-hub/folio/internal/feed"
)

// RegisterFeedRoutes 暴露模拟行情：/-/feed 返回最新快照，/-/feed/stream 以 SSE 推送每个 tick。
func RegisterFeedRoutes(app *fiber.App, f *feed.Feed) {
	if app == nil || f == nil {
		return
	}

	app.Get("/-/feed", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(f.Latest())
	})

	app.Get("/-/feed/stream", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set("X-Accel-Buffering", "no")

		updates, cancel := f.Subscribe()
		first := f.Latest()
		return c.SendStreamWriter(func(w *bufio.Writer) {
			defer cancel()
			if err := writeEvent(w, first); err != nil {
				return
			}
			for snap := range updates {
				if err := writeEvent(w, snap); err != nil {
					return
				}
			}
		})
	})
}

// writeEvent 以 SSE 格式写出一个快照并立即 flush；flush 失败说明客户端已断开。
func writeEvent(w *bufio.Writer, snap feed.Snapshot) error {
	if err := encodeEvent(w, snap); err != nil {
		return err
	}
	return w.Flush()
}

func encodeEvent(w io.Writer, snap feed.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: tick\ndata: %s\n\n", snap.Tick, data)
	return err
}
