package server

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/jm2pdf/jm2pdf/internal/comic"
	"github.com/jm2pdf/jm2pdf/internal/fetcher"
	"github.com/jm2pdf/jm2pdf/internal/logging"
)

// FetchFailedMessage 为下载失败时返回给请求方的提示。
const FetchFailedMessage = "下载时遇到错误，可能是网络问题或JM号不存在，使用调试模式查看更多日志信息"

// Downloader 为下载命令背后的服务，*comic.Service 实现了该接口。
type Downloader interface {
	Fetch(ctx context.Context, id int64) (*comic.Document, error)
}

func commandHandler(d Downloader, logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := RequestID(c)
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		doc, err := d.Fetch(ctx, id)
		if err != nil {
			return renderFetchError(c, logger, id, reqID, err)
		}
		defer doc.Close()

		return sendDocument(c, logger, doc, reqID)
	}
}

func sendDocument(c fiber.Ctx, logger *logrus.Logger, doc *comic.Document, reqID string) error {
	if doc.File == nil {
		logger.WithFields(logging.RequestFields(doc.ID, reqID, doc.CacheHit)).Error("comic_open_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "package_failed"})
	}

	c.Attachment(doc.Title)
	if doc.ContentType != "" {
		c.Set(fiber.HeaderContentType, doc.ContentType)
	}
	c.Set("X-Jm2pdf-Cache-Hit", strconv.FormatBool(doc.CacheHit))
	c.Status(fiber.StatusOK)

	written, err := io.Copy(c.Response().BodyWriter(), doc.File)
	fields := logging.RequestFields(doc.ID, reqID, doc.CacheHit)
	fields["title"] = doc.Title
	fields["bytes"] = written
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("comic_delivery_failed")
		return err
	}
	logger.WithFields(fields).Info("comic_delivered")
	return nil
}

func renderFetchError(c fiber.Ctx, logger *logrus.Logger, id int64, reqID string, err error) error {
	entry := logger.WithFields(logging.RequestFields(id, reqID, false)).WithError(err)
	switch {
	case errors.Is(err, comic.ErrInvalidID):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	case errors.Is(err, comic.ErrPackage):
		entry.Error("comic_package_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "package_failed"})
	case errors.Is(err, fetcher.ErrTimeout):
		entry.Warn("comic_fetch_timeout")
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error":   "fetch_timeout",
			"message": FetchFailedMessage,
		})
	default:
		entry.Warn("comic_fetch_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "fetch_failed",
			"message": FetchFailedMessage,
		})
	}
}
