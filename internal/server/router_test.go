package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/jm2pdf/jm2pdf/internal/comic"
	"github.com/jm2pdf/jm2pdf/internal/fetcher"
)

func TestCommandDeliversDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "(366517) Example.pdf")
	if err := os.WriteFile(path, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// 交付只读取已打开的句柄，缓存文件被淘汰也不影响。
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	stub := &stubDownloader{doc: &comic.Document{
		ID:          366517,
		Title:       "366517.pdf",
		Path:        path,
		File:        file,
		ContentType: "application/pdf",
		CacheHit:    true,
	}}
	app := newTestApp(t, stub)

	resp, err := app.Test(httptest.NewRequest("GET", "/jm/366517", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", resp.StatusCode, body)
	}
	if !bytes.Equal(body, []byte("%PDF-fake")) {
		t.Fatalf("unexpected body %q", body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="366517.pdf"`) {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if resp.Header.Get("X-Jm2pdf-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit header")
	}
	if resp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if stub.lastID != 366517 {
		t.Fatalf("downloader got id %d", stub.lastID)
	}
}

func TestCommandRejectsInvalidID(t *testing.T) {
	stub := &stubDownloader{}
	app := newTestApp(t, stub)

	for _, raw := range []string{"abc", "0", "-5", "1.5"} {
		resp, err := app.Test(httptest.NewRequest("GET", "/jm/"+raw, nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != fiber.StatusBadRequest || !bytes.Contains(body, []byte(`"invalid_id"`)) {
			t.Fatalf("%s: expected 400 invalid_id, got %d %s", raw, resp.StatusCode, body)
		}
	}
	if stub.calls != 0 {
		t.Fatalf("downloader must not be called for invalid ids")
	}
}

func TestCommandMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("%w: exit status 1", fetcher.ErrNoResult), status: fiber.StatusBadGateway, code: "fetch_failed"},
		{err: fmt.Errorf("%w after 1s", fetcher.ErrTimeout), status: fiber.StatusGatewayTimeout, code: "fetch_timeout"},
		{err: fmt.Errorf("%w: disk full", comic.ErrPackage), status: fiber.StatusInternalServerError, code: "package_failed"},
	}
	for _, tc := range cases {
		app := newTestApp(t, &stubDownloader{err: tc.err})
		resp, err := app.Test(httptest.NewRequest("GET", "/jm/1", nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, resp.StatusCode)
		}
		if !bytes.Contains(body, []byte(`"`+tc.code+`"`)) {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.code, body)
		}
		if strings.Contains(string(body), "exit status") || strings.Contains(string(body), "disk full") {
			t.Fatalf("internal detail leaked: %s", body)
		}
	}
}

func TestCommandFailureCarriesHint(t *testing.T) {
	app := newTestApp(t, &stubDownloader{err: errors.New("boom")})
	resp, err := app.Test(httptest.NewRequest("GET", "/jm/2", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(FetchFailedMessage)) {
		t.Fatalf("expected hint message, got %s", body)
	}
}

func TestCommandRouteAbsentWithoutDownloader(t *testing.T) {
	app := newTestApp(t, nil)
	resp, err := app.Test(httptest.NewRequest("GET", "/jm/1", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 without downloader, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{ListenPort: 5140}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("expected error without port")
	}
}

func newTestApp(t *testing.T, d Downloader) *fiber.App {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	opts := AppOptions{Logger: logger, ListenPort: 5140}
	if d != nil {
		opts.Downloader = d
	}
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

type stubDownloader struct {
	doc    *comic.Document
	err    error
	calls  int
	lastID int64
}

func (s *stubDownloader) Fetch(_ context.Context, id int64) (*comic.Document, error) {
	s.calls++
	s.lastID = id
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}
