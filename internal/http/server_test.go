package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ystemsrx/checkin-system/internal/clients"
	"github.com/ystemsrx/checkin-system/internal/config"
	"github.com/ystemsrx/checkin-system/internal/db"
)

const campusPassword = "campus-pw"

func openTestDB(t *testing.T) *db.Store {
	url := os.Getenv("CHECKIN_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("CHECKIN_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	if err := db.Migrate(context.Background(), url); err != nil {
		pool.Close()
		t.Fatalf("migrate error: %v", err)
	}
	return db.NewStore(pool)
}

// newTestServer wires the full router against the test database plus a
// stubbed campus auth service that accepts any account with the shared
// test password.
func newTestServer(t *testing.T, store *db.Store) (*httptest.Server, config.Config) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Account  string `json:"account"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != campusPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"name": "Student " + req.Account},
		})
	}))
	t.Cleanup(stub.Close)

	cfg := config.Config{
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
		AdminAccount:   "admin",
		AdminPassword:  "admin123",
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 10 << 20,
		CORSOrigins:    []string{"*"},
	}
	server := NewServer(cfg, store, clients.NewStudentAuth(stub.URL, 5*time.Second), zap.NewNop())
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app, cfg
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

func login(t *testing.T, appURL, account, password string) (string, int) {
	resp := doReq(t, http.MethodPost, appURL+"/api/auth/login", "", map[string]string{
		"account": account, "password": password,
	})
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return "", resp.StatusCode
	}
	var body struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &body)
	return body.Token, http.StatusOK
}

func mustLogin(t *testing.T, appURL, account, password string) string {
	token, status := login(t, appURL, account, password)
	if status != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d", account, status)
	}
	return token
}

func createActivity(t *testing.T, appURL, token string, body map[string]any) int64 {
	resp := doReq(t, http.MethodPost, appURL+"/api/activities", token, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create activity: expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, resp, &created)
	return created.ID
}

func TestAuthAndOrganizerLifecycle(t *testing.T) {
	store := openTestDB(t)
	if store == nil {
		return
	}
	defer store.Pool.Close()
	app, _ := newTestServer(t, store)

	adminToken := mustLogin(t, app.URL, "admin", "admin123")
	if _, status := login(t, app.URL, "admin", "wrong"); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad admin password, got %d", status)
	}

	username := fmt.Sprintf("org-%d", time.Now().UnixNano())
	resp := doReq(t, http.MethodPost, app.URL+"/api/auth/admin/organizers", adminToken, map[string]string{
		"username": username, "password": "first-pass", "name": "Lifecycle Organizer",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create organizer: expected 201, got %d", resp.StatusCode)
	}
	var organizer struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, resp, &organizer)

	resp = doReq(t, http.MethodPost, app.URL+"/api/auth/admin/organizers", adminToken, map[string]string{
		"username": username, "password": "first-pass",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate organizer: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	orgToken := mustLogin(t, app.URL, username, "first-pass")
	resp = doReq(t, http.MethodGet, app.URL+"/api/auth/me", orgToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Changing the password hands back a fresh token and revokes the rest.
	resp = doReq(t, http.MethodPut, app.URL+"/api/auth/password", orgToken, map[string]string{
		"oldPassword": "first-pass", "newPassword": "second-pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d", resp.StatusCode)
	}
	var changed struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &changed)

	resp = doReq(t, http.MethodGet, app.URL+"/api/auth/me", orgToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stale token: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = doReq(t, http.MethodGet, app.URL+"/api/auth/me", changed.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fresh token: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Deactivation kills the fresh token too.
	toggleURL := fmt.Sprintf("%s/api/auth/admin/organizers/%d/toggle-status", app.URL, organizer.ID)
	resp = doReq(t, http.MethodPost, toggleURL, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = doReq(t, http.MethodGet, app.URL+"/api/auth/me", changed.Token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deactivated: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if _, status := login(t, app.URL, username, "second-pass"); status != http.StatusUnauthorized {
		t.Fatalf("deactivated login: expected 401, got %d", status)
	}

	// Reactivate, reset the password, log back in.
	resp = doReq(t, http.MethodPost, toggleURL, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-toggle: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = doReq(t, http.MethodPost, fmt.Sprintf("%s/api/auth/admin/organizers/%d/password", app.URL, organizer.ID), adminToken, map[string]string{
		"password": "third-pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset password: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	mustLogin(t, app.URL, username, "third-pass")

	// Soft delete frees the username and blocks login.
	resp = doReq(t, http.MethodDelete, fmt.Sprintf("%s/api/auth/admin/organizers/%d", app.URL, organizer.ID), adminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if _, status := login(t, app.URL, username, "third-pass"); status != http.StatusUnauthorized {
		t.Fatalf("deleted login: expected 401, got %d", status)
	}
}

func TestRegistrationCapacityAndCheckIn(t *testing.T) {
	store := openTestDB(t)
	if store == nil {
		return
	}
	defer store.Pool.Close()
	app, _ := newTestServer(t, store)

	adminToken := mustLogin(t, app.URL, "admin", "admin123")
	orgName := fmt.Sprintf("org-%d", time.Now().UnixNano())
	resp := doReq(t, http.MethodPost, app.URL+"/api/auth/admin/organizers", adminToken, map[string]string{
		"username": orgName, "password": "org-pass", "name": "Flow Organizer",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create organizer: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	orgToken := mustLogin(t, app.URL, orgName, "org-pass")

	now := time.Now().UTC()
	capOne := createActivity(t, app.URL, orgToken, map[string]any{
		"title":                fmt.Sprintf("Capacity One %d", now.UnixNano()),
		"category":             "sports",
		"location":             "Gym",
		"startTime":            now.Add(time.Hour).Format(time.RFC3339),
		"endTime":              now.Add(2 * time.Hour).Format(time.RFC3339),
		"registrationDeadline": now.Add(30 * time.Minute).Format(time.RFC3339),
		"maxParticipants":      1,
		"subItems":             []map[string]any{{"name": "A", "capacity": 1}, {"name": "B"}},
	})

	stamp := time.Now().UnixNano()
	stu1 := fmt.Sprintf("stu1-%d", stamp)
	stu2 := fmt.Sprintf("stu2-%d", stamp)
	stu1Token := mustLogin(t, app.URL, stu1, campusPassword)
	stu2Token := mustLogin(t, app.URL, stu2, campusPassword)

	regURL := func(id int64) string { return fmt.Sprintf("%s/api/registrations/%d", app.URL, id) }

	resp = doReq(t, http.MethodPost, regURL(capOne), stu1Token, map[string]string{"subItem": "A"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first registration: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, regURL(capOne), stu1Token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate registration: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, regURL(capOne), stu2Token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("full activity: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, regURL(capOne), stu1Token, map[string]string{"subItem": "missing"})
	if resp.StatusCode != http.StatusConflict {
		// already registered wins before sub-item validation would matter
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Cancelling frees the slot for the other student.
	resp = doReq(t, http.MethodDelete, regURL(capOne), stu1Token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, regURL(capOne), stu2Token, map[string]string{"subItem": "A"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("freed slot: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, regURL(capOne), stu1Token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-register into full: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	var status struct {
		Registered bool   `json:"registered"`
		Status     string `json:"status"`
	}
	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/api/registrations/status/%d", app.URL, capOne), stu2Token, nil)
	decodeBody(t, resp, &status)
	if !status.Registered || status.Status != "registered" {
		t.Fatalf("unexpected status %+v", status)
	}
	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/api/registrations/status/%d", app.URL, capOne), stu1Token, nil)
	decodeBody(t, resp, &status)
	if status.Registered {
		t.Fatalf("cancelled registration should read as not registered")
	}

	// Code-based check-in.
	resp = doReq(t, http.MethodPost, fmt.Sprintf("%s/api/checkin/generate-code/%d", app.URL, capOne), orgToken, map[string]int{"duration": 10})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate code: expected 201, got %d", resp.StatusCode)
	}
	var generated struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &generated)

	resp = doReq(t, http.MethodPost, app.URL+"/api/checkin/code", stu2Token, map[string]any{
		"activityId": capOne, "code": "12345",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad code: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, app.URL+"/api/checkin/code", stu2Token, map[string]any{
		"activityId": capOne, "code": generated.Code,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code check-in: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, app.URL+"/api/checkin/code", stu2Token, map[string]any{
		"activityId": capOne, "code": generated.Code,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double check-in: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodDelete, regURL(capOne), stu2Token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel after check-in: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	var stats struct {
		Total     int     `json:"total"`
		CheckedIn int     `json:"checkedIn"`
		Rate      float64 `json:"rate"`
	}
	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/api/checkin/stats/%d", app.URL, capOne), orgToken, nil)
	decodeBody(t, resp, &stats)
	if stats.Total != 1 || stats.CheckedIn != 1 || stats.Rate != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// Expired codes and QR check-in on a second activity.
	capTwo := createActivity(t, app.URL, orgToken, map[string]any{
		"title":                fmt.Sprintf("Capacity Two %d", now.UnixNano()),
		"category":             "music",
		"location":             "Hall",
		"startTime":            now.Add(time.Hour).Format(time.RFC3339),
		"endTime":              now.Add(2 * time.Hour).Format(time.RFC3339),
		"registrationDeadline": now.Add(30 * time.Minute).Format(time.RFC3339),
		"maxParticipants":      2,
	})

	resp = doReq(t, http.MethodPost, regURL(capTwo), stu1Token, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second activity registration: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, fmt.Sprintf("%s/api/checkin/generate-code/%d", app.URL, capTwo), orgToken, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate code: expected 201, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &generated)

	var ended struct {
		UpdatedCount int64 `json:"updatedCount"`
	}
	resp = doReq(t, http.MethodPost, fmt.Sprintf("%s/api/checkin/end-checkin/%d", app.URL, capTwo), orgToken, nil)
	decodeBody(t, resp, &ended)
	if ended.UpdatedCount != 1 {
		t.Fatalf("end check-in: expected 1 expired code, got %d", ended.UpdatedCount)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/api/checkin/code", stu1Token, map[string]any{
		"activityId": capTwo, "code": generated.Code,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expired code: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, fmt.Sprintf("%s/api/checkin/generate-qr/%d", app.URL, capTwo), orgToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate qr: expected 200, got %d", resp.StatusCode)
	}
	var qr struct {
		QRData string `json:"qrData"`
	}
	decodeBody(t, resp, &qr)

	resp = doReq(t, http.MethodPost, app.URL+"/api/checkin/qrcode", stu1Token, map[string]any{
		"activityId": capOne, "qrData": qr.QRData,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched qr: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, app.URL+"/api/checkin/qrcode", stu1Token, map[string]any{
		"activityId": capTwo, "qrData": qr.QRData,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qr check-in: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doReq(t, http.MethodGet, app.URL+"/api/checkin/my-recent", stu1Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("my-recent: expected 200, got %d", resp.StatusCode)
	}
	var recent []map[string]any
	decodeBody(t, resp, &recent)
	if len(recent) == 0 {
		t.Fatalf("expected recent check-ins")
	}

	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/api/statistics/export/%d", app.URL, capTwo), orgToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Disposition"); got == "" {
		t.Fatalf("export: missing Content-Disposition")
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(body) == 0 {
		t.Fatalf("export: empty body")
	}
}

func TestUploads(t *testing.T) {
	store := openTestDB(t)
	if store == nil {
		return
	}
	defer store.Pool.Close()
	app, _ := newTestServer(t, store)

	stamp := time.Now().UnixNano()
	token := mustLogin(t, app.URL, fmt.Sprintf("upl-%d", stamp), campusPassword)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatalf("multipart error: %v", err)
	}
	// Minimal PNG header is enough; content is not validated.
	_, _ = part.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, app.URL+"/api/uploads/image", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", resp.StatusCode)
	}
	var uploaded struct {
		URL string `json:"url"`
	}
	decodeBody(t, resp, &uploaded)
	if uploaded.URL == "" {
		t.Fatalf("upload: missing url")
	}

	resp = doReq(t, http.MethodGet, app.URL+uploaded.URL, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("serve: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Disallowed extension.
	buf.Reset()
	mw = multipart.NewWriter(&buf)
	part, _ = mw.CreateFormFile("file", "script.sh")
	_, _ = part.Write([]byte("#!/bin/sh\n"))
	_ = mw.Close()
	req, _ = http.NewRequest(http.MethodPost, app.URL+"/api/uploads/image", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad extension: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
