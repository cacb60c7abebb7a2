package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidCredentials means the campus auth service answered and rejected
// the account/password pair. Any other failure is a transport problem and
// surfaces as a plain error.
var ErrInvalidCredentials = errors.New("invalid credentials")

type StudentProfile struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio"`
}

type StudentAuthClient struct {
	baseURL string
	client  *http.Client
}

func NewStudentAuth(baseURL string, timeout time.Duration) *StudentAuthClient {
	return &StudentAuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    StudentProfile `json:"data"`
}

// Login verifies a student account against the campus auth service.
func (c *StudentAuthClient) Login(ctx context.Context, account, password string) (StudentProfile, error) {
	body, err := json.Marshal(loginRequest{Account: account, Password: password})
	if err != nil {
		return StudentProfile{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return StudentProfile{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return StudentProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return StudentProfile{}, ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return StudentProfile{}, fmt.Errorf("student auth: unexpected status %d", resp.StatusCode)
	}

	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return StudentProfile{}, err
	}
	if !parsed.Success {
		return StudentProfile{}, ErrInvalidCredentials
	}
	return parsed.Data, nil
}
