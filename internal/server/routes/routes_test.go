package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jm2pdf/jm2pdf/internal/cache"
	"github.com/jm2pdf/jm2pdf/internal/provision"
)

func TestStatusRoutePending(t *testing.T) {
	app := fiber.New()
	RegisterStatusRoutes(app, provision.NewStatus())

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["state"] != "pending" {
		t.Fatalf("unexpected state: %v", payload["state"])
	}
	if v, _ := payload["version"].(string); !strings.HasPrefix(v, "jm2pdf ") {
		t.Fatalf("unexpected version: %v", payload["version"])
	}
}

func TestStatusRouteFailed(t *testing.T) {
	status := provision.NewStatus()
	status.Fail(errors.New("pip install failed"))

	app := fiber.New()
	RegisterStatusRoutes(app, status)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "pip install failed") {
		t.Fatalf("expected failure message, got %s", body)
	}
}

func TestCacheRouteListsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	index, err := cache.NewIndex(dir, cache.Options{Capacity: 5})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	for _, name := range []string{"(2) B.pdf", "(1) A.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		id, _ := cache.ParseID(name)
		if err := index.Put(id, name); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	app := fiber.New()
	RegisterCacheRoutes(app, index)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("cache request failed: %v", err)
	}
	var payload struct {
		Capacity int `json:"capacity"`
		Size     int `json:"size"`
		Entries  []struct {
			ID       int64  `json:"id"`
			FileName string `json:"file_name"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Capacity != 5 || payload.Size != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Entries[0].ID != 2 || payload.Entries[1].FileName != "(1) A.pdf" {
		t.Fatalf("unexpected order: %+v", payload.Entries)
	}
}

func TestCacheRouteEmpty(t *testing.T) {
	index, err := cache.NewIndex(t.TempDir(), cache.Options{})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	app := fiber.New()
	RegisterCacheRoutes(app, index)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("cache request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"entries":[]`) {
		t.Fatalf("expected empty entries array, got %s", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "jm2pdf_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	app := fiber.New()
	RegisterMetricsRoutes(app, reg)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), "jm2pdf_test_total 3") {
		t.Fatalf("unexpected metrics response %d: %s", resp.StatusCode, body)
	}
}

func TestRegisterIgnoresNil(t *testing.T) {
	RegisterStatusRoutes(nil, provision.NewStatus())
	RegisterCacheRoutes(fiber.New(), nil)
	RegisterMetricsRoutes(fiber.New(), nil)
}
