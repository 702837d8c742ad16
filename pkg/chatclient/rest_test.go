package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoginReturnsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("Decode: %v", err)
		}
		if creds.Email != "pat@example.com" {
			t.Errorf("unexpected email %q", creds.Email)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "abc123"})
	}))
	defer server.Close()

	token, err := Login(context.Background(), server.URL, "pat@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("expected token abc123, got %q", token)
	}
}

func TestLoginReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
	}))
	defer server.Close()

	_, err := Login(context.Background(), server.URL, "pat@example.com", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoginHonorsContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Login(ctx, server.URL, "pat@example.com", "hunter22"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
