package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/blobcache/internal/logging"
)

type handlers struct {
	cache     BlobCache
	logger    *logrus.Logger
	fetchWait time.Duration
}

type fetchResult struct {
	payload []byte
	ok      bool
}

// getBlob 通过缓存获取 blob，等待回调后返回内容；失败返回 502，超时返回 504。
func (h *handlers) getBlob(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return nil
	}
	requestID := RequestID(c)
	_, hit := h.cache.Peek(key)

	done := make(chan fetchResult, 1)
	h.cache.Fetch(key, func(_ string, payload []byte, ok bool) {
		done <- fetchResult{payload: payload, ok: ok}
	})

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(h.fetchWait)
	defer timer.Stop()

	var res fetchResult
	select {
	case res = <-done:
	case <-timer.C:
		h.logger.WithFields(logging.RequestFields(requestID, key, hit)).Warn("blob_fetch_timeout")
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "fetch_timeout"})
	case <-ctx.Done():
		return ctx.Err()
	}

	fields := logging.RequestFields(requestID, key, hit)
	if !res.ok {
		h.logger.WithFields(fields).Warn("blob_fetch_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "fetch_failed"})
	}

	h.logger.WithFields(fields).WithField("bytes", len(res.payload)).Debug("blob_served")
	c.Set("Content-Type", http.DetectContentType(res.payload))
	c.Set("X-Blobcache-Hit", strconv.FormatBool(hit))
	return c.Status(fiber.StatusOK).Send(res.payload)
}

func (h *handlers) deleteBlob(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return nil
	}
	h.cache.Remove(key)
	h.logger.WithFields(logging.RequestFields(RequestID(c), key, false)).Info("blob_removed")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) status(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return nil
	}
	_, resident := h.cache.Peek(key)
	return c.JSON(fiber.Map{
		"key":      key,
		"resident": resident,
		"fetching": h.cache.Fetching(key),
		"failed":   h.cache.FailedToFetch(key),
	})
}

func (h *handlers) stats(c fiber.Ctx) error {
	st := h.cache.Stats()
	return c.JSON(fiber.Map{
		"name":             st.Name,
		"memory_entries":   st.MemoryEntries,
		"loading_entries":  st.LoadingEntries,
		"disk_entries":     st.DiskEntries,
		"ttl_seconds":      int64(st.TimeToLive / time.Second),
		"memory_max_count": st.MemoryMaxCount,
	})
}

func (h *handlers) persist(c fiber.Ctx) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	h.cache.PersistCacheToDisk(ctx)
	return c.SendStatus(fiber.StatusNoContent)
}

// reduce 异步裁剪磁盘层，立即返回 202。
func (h *handlers) reduce(c fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("max"))
	maxCount, err := strconv.Atoi(raw)
	if err != nil || maxCount < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_max"})
	}
	h.cache.ReduceDiskCache(maxCount)
	h.logger.WithFields(logrus.Fields{
		"action":     "reduce_disk",
		"request_id": RequestID(c),
		"max":        maxCount,
	}).Info("disk_reduce_requested")
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *handlers) purge(c fiber.Ctx) error {
	notifyMemoryPressure()
	h.logger.WithField("request_id", RequestID(c)).Info("memory_pressure_signalled")
	return c.SendStatus(fiber.StatusNoContent)
}

func requireKey(c fiber.Ctx) (string, bool) {
	key := strings.TrimSpace(c.Query("url"))
	if key == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		return "", false
	}
	return key, true
}
