package netx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUploadToPresignedURL(t *testing.T) {
	file := []byte("quarterly-report.pdf bytes")
	ctx := context.Background()

	t.Run("success 200 OK", func(t *testing.T) {
		var gotBody []byte
		var gotCT, gotMethod string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		err := UploadToPresignedURL(ctx, ts.Client(), ts.URL+"/obj?X-Amz-Signature=abc", "application/pdf", bytes.NewReader(file), int64(len(file)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotMethod != http.MethodPut {
			t.Fatalf("method = %q, want PUT", gotMethod)
		}
		if gotCT != "application/pdf" {
			t.Fatalf("Content-Type = %q, want application/pdf", gotCT)
		}
		if !bytes.Equal(gotBody, file) {
			t.Fatalf("body = %q, want %q", gotBody, file)
		}
	})

	t.Run("default content type", func(t *testing.T) {
		var gotCT string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotCT = r.Header.Get("Content-Type")
		}))
		defer ts.Close()

		if err := UploadToPresignedURL(ctx, nil, ts.URL, "", bytes.NewReader(file), int64(len(file))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotCT != "application/octet-stream" {
			t.Fatalf("Content-Type = %q", gotCT)
		}
	})

	t.Run("non-200 -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer ts.Close()

		err := UploadToPresignedURL(ctx, ts.Client(), ts.URL, "", bytes.NewReader(file), int64(len(file)))
		if err == nil || !strings.Contains(err.Error(), "upload failed: 403") {
			t.Fatalf("error = %v, want to contain 403", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := UploadToPresignedURL(cctx, ts.Client(), ts.URL, "", bytes.NewReader(file), int64(len(file)))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestDownloadFromPresignedURL(t *testing.T) {
	ctx := context.Background()

	t.Run("writes the body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("payload"))
		}))
		defer ts.Close()

		path := filepath.Join(t.TempDir(), "out.bin")
		n, err := DownloadFromPresignedURL(ctx, ts.Client(), ts.URL, path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := os.ReadFile(path)
		if n != 7 || string(got) != "payload" {
			t.Fatalf("got %d bytes %q", n, got)
		}
	})

	t.Run("non-200 leaves no file", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer ts.Close()

		path := filepath.Join(t.TempDir(), "out.bin")
		_, err := DownloadFromPresignedURL(ctx, ts.Client(), ts.URL, path)
		if err == nil || !strings.Contains(err.Error(), "download failed: 403") {
			t.Fatalf("error = %v, want to contain 403", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("file should not exist: %v", err)
		}
	})
}
