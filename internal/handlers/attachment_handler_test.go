package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eren-k/HomeProBack/internal/services"
	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/gofiber/fiber/v2"
)

type stubStorage struct {
	url         string
	contentType string
	err         error
	lastFolder  string
}

func (s *stubStorage) UploadFile(_ context.Context, _ multipart.File, _ string, folder string) (string, string, error) {
	s.lastFolder = folder
	return s.url, s.contentType, s.err
}

func newUploadApp(storage services.StorageService) *fiber.App {
	handler := NewAttachmentHandler(storage)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", chatproto.RoleHomeowner)
		c.Locals("user_id", "42")
		return c.Next()
	})
	app.Post("/api/v1/attachments", handler.Upload)
	return app
}

func uploadRequest(t *testing.T) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "pic.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte("fake image bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadReturnsStoredURL(t *testing.T) {
	storage := &stubStorage{url: "https://cdn.example/attachments/pic.jpg", contentType: "image/jpeg"}
	app := newUploadApp(storage)

	resp, err := app.Test(uploadRequest(t))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if storage.lastFolder != "attachments" {
		t.Fatalf("expected attachments folder, got %q", storage.lastFolder)
	}

	var body struct {
		URL      string `json:"url"`
		Type     string `json:"type"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.URL != storage.url || body.Type != "image/jpeg" || body.Filename != "pic.jpg" {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestUploadWithoutStorageIsUnavailable(t *testing.T) {
	app := newUploadApp(nil)

	resp, err := app.Test(uploadRequest(t))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestUploadMapsStorageUnavailableFromService(t *testing.T) {
	app := newUploadApp(&stubStorage{err: services.ErrStorageUnavailable})

	resp, err := app.Test(uploadRequest(t))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestUploadMapsUnexpectedStorageFailure(t *testing.T) {
	app := newUploadApp(&stubStorage{err: errors.New("bucket gone")})

	resp, err := app.Test(uploadRequest(t))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
