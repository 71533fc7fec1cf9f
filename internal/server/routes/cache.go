package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/jm2pdf/jm2pdf/internal/cache"
)

// RegisterCacheRoutes 暴露 /-/cache，按从旧到新列出缓存条目。
func RegisterCacheRoutes(app *fiber.App, index *cache.Index) {
	if app == nil || index == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		entries := index.Snapshot()
		if entries == nil {
			entries = []cache.Entry{}
		}
		return c.JSON(cachePayload{
			Capacity: index.Capacity(),
			Size:     len(entries),
			Entries:  entries,
		})
	})
}

type cachePayload struct {
	// Capacity 为 0 表示不限。
	Capacity int           `json:"capacity"`
	Size     int           `json:"size"`
	Entries  []cache.Entry `json:"entries"`
}
