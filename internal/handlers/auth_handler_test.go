package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

// Validation happens before any store access, so these run with a nil repo.
func newAuthValidationApp() *fiber.App {
	handler := NewAuthHandler(nil, "secret")
	app := fiber.New()
	app.Post("/api/auth/register", handler.Register)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, payload string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	app := newAuthValidationApp()
	resp := postJSON(t, app, "/api/auth/register",
		`{"email":"not-an-email","password":"longenough","role":"homeowner","first_name":"Dana"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	app := newAuthValidationApp()
	resp := postJSON(t, app, "/api/auth/register",
		`{"email":"dana@example.com","password":"short","role":"homeowner","first_name":"Dana"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	app := newAuthValidationApp()
	resp := postJSON(t, app, "/api/auth/register",
		`{"email":"dana@example.com","password":"longenough","role":"admin","first_name":"Dana"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRegisterRequiresFirstName(t *testing.T) {
	app := newAuthValidationApp()
	resp := postJSON(t, app, "/api/auth/register",
		`{"email":"dana@example.com","password":"longenough","role":"homeowner","first_name":"  "}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
