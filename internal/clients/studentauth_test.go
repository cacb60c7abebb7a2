package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStudentAuthLoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Account != "2023001" || req.Password != "pw" {
			t.Fatalf("unexpected credentials %+v", req)
		}
		_ = json.NewEncoder(w).Encode(loginResponse{
			Success: true,
			Data:    StudentProfile{Name: "Alice", AvatarURL: "http://img", Bio: "hi"},
		})
	}))
	defer srv.Close()

	c := NewStudentAuth(srv.URL, time.Second)
	profile, err := c.Login(context.Background(), "2023001", "pw")
	if err != nil {
		t.Fatalf("login error: %v", err)
	}
	if profile.Name != "Alice" || profile.AvatarURL != "http://img" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestStudentAuthLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewStudentAuth(srv.URL, time.Second)
	if _, err := c.Login(context.Background(), "2023001", "bad"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestStudentAuthLoginRejectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(loginResponse{Success: false, Message: "wrong password"})
	}))
	defer srv.Close()

	c := NewStudentAuth(srv.URL, time.Second)
	if _, err := c.Login(context.Background(), "2023001", "bad"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestStudentAuthTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewStudentAuth(srv.URL, time.Second)
	_, err := c.Login(context.Background(), "2023001", "pw")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
