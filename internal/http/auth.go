package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ystemsrx/checkin-system/internal/auth"
	"github.com/ystemsrx/checkin-system/internal/clients"
	"github.com/ystemsrx/checkin-system/internal/crypto"
	"github.com/ystemsrx/checkin-system/internal/db"
	"github.com/ystemsrx/checkin-system/internal/metrics"
	"github.com/ystemsrx/checkin-system/internal/model"
)

type loginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        int64  `json:"id"`
	AccountID string `json:"accountId"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type loginResponse struct {
	Token          string       `json:"token"`
	User           userResponse `json:"user"`
	FirstLoginTime *string      `json:"firstLoginTime,omitempty"`
	Bio            string       `json:"bio,omitempty"`
}

func mapUser(u model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		AccountID: u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Name:      u.DisplayName(),
		AvatarURL: u.Avatar,
		CreatedAt: fmtTime(u.CreatedAt),
	}
}

// handleLogin resolves the account through four doors in order: the admin
// sentinel, a local organizer, a cached student credential and finally the
// campus auth service.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	account := strings.TrimSpace(req.Account)
	if account == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	if account == s.cfg.AdminAccount {
		if req.Password != s.cfg.AdminPassword {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
			Role:  "admin",
			Admin: true,
		})
		if err != nil {
			s.serverError(w, err)
			return
		}
		metrics.Logins.Inc()
		writeJSON(w, http.StatusOK, loginResponse{
			Token: token,
			User:  userResponse{AccountID: account, Role: "admin", Name: "Administrator"},
		})
		return
	}

	organizer, err := s.store.GetLiveUserByUsername(r.Context(), account, model.RoleOrganizer)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		s.serverError(w, err)
		return
	}
	if err == nil {
		if crypto.CheckPassword(organizer.PasswordHash, req.Password) != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		if !organizer.IsActive {
			writeError(w, http.StatusUnauthorized, "account_disabled")
			return
		}
		s.respondWithToken(w, organizer, nil, "")
		return
	}

	credential, err := s.store.GetCredentialByAccountID(r.Context(), account)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		s.serverError(w, err)
		return
	}
	if err == nil && crypto.CheckPassword(credential.PasswordHash, req.Password) == nil {
		user, err := s.ensureStudentUser(r.Context(), account, req.Password, credential.Name)
		if err != nil {
			s.serverError(w, err)
			return
		}
		first := fmtTime(credential.CreatedAt)
		s.respondWithToken(w, user, &first, "")
		return
	}

	// A missing or stale cached credential means the campus auth service
	// decides. A verified password refreshes the cache.
	profile, err := s.studentAuth.Login(r.Context(), account, req.Password)
	if errors.Is(err, clients.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		s.log.Warn("student auth unreachable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "auth_service_unavailable")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, err)
		return
	}
	credential, err = s.store.UpsertCredential(r.Context(), account, hash, profile.Name)
	if err != nil {
		s.serverError(w, err)
		return
	}
	user, err := s.ensureStudentUser(r.Context(), account, req.Password, profile.Name)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if user.Avatar == "" && profile.AvatarURL != "" {
		user.Avatar = profile.AvatarURL
		if err := s.store.UpdateUserProfile(r.Context(), user.ID, user.Email, user.Avatar); err != nil {
			s.serverError(w, err)
			return
		}
	}
	first := fmtTime(credential.CreatedAt)
	s.respondWithToken(w, user, &first, profile.Bio)
}

func (s *Server) respondWithToken(w http.ResponseWriter, user model.User, firstLogin *string, bio string) {
	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:          user.ID,
		Role:            user.Role,
		PasswordVersion: user.PasswordVersion,
	})
	if err != nil {
		s.serverError(w, err)
		return
	}
	metrics.Logins.Inc()
	writeJSON(w, http.StatusOK, loginResponse{
		Token:          token,
		User:           mapUser(user),
		FirstLoginTime: firstLogin,
		Bio:            bio,
	})
}

// ensureStudentUser finds the local student row for a campus account,
// creating it on first login. A concurrent first login is resolved by the
// partial unique index on username.
func (s *Server) ensureStudentUser(ctx context.Context, account, password, name string) (model.User, error) {
	user, err := s.store.GetLiveUserByUsername(ctx, account, model.RoleStudent)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return model.User{}, err
	}
	id, err := s.store.CreateUser(ctx, model.User{
		Username:     account,
		Email:        fmt.Sprintf("%s@campus.local", account),
		PasswordHash: hash,
		Role:         model.RoleStudent,
		Name:         name,
		IsActive:     true,
	})
	if db.IsUniqueViolation(err) {
		return s.store.GetLiveUserByUsername(ctx, account, model.RoleStudent)
	}
	if err != nil {
		return model.User{}, err
	}
	return s.store.GetUserByID(ctx, id)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if ident.user == nil {
		writeJSON(w, http.StatusOK, userResponse{AccountID: s.cfg.AdminAccount, Role: "admin", Name: "Administrator"})
		return
	}
	writeJSON(w, http.StatusOK, mapUser(*ident.user))
}

// handleLogout exists for client symmetry; tokens are stateless and simply
// expire or get version-bumped away.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateProfileRequest struct {
	Email     *string `json:"email"`
	AvatarURL *string `json:"avatarUrl"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if ident.user == nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	user := *ident.user
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" && email != user.Email {
			inUse, err := s.store.EmailInUse(r.Context(), email, user.ID)
			if err != nil {
				s.serverError(w, err)
				return
			}
			if inUse {
				writeError(w, http.StatusConflict, "email_in_use")
				return
			}
		}
		user.Email = email
	}
	if req.AvatarURL != nil {
		user.Avatar = strings.TrimSpace(*req.AvatarURL)
	}

	if err := s.store.UpdateUserProfile(r.Context(), user.ID, user.Email, user.Avatar); err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapUser(user))
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// handleChangePassword bumps the password version, which kills every other
// outstanding token, and hands back a fresh one so this session survives.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if ident.user == nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if len(req.NewPassword) < 6 {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}
	if crypto.CheckPassword(ident.user.PasswordHash, req.OldPassword) != nil {
		writeError(w, http.StatusUnauthorized, "wrong_password")
		return
	}

	hash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		s.serverError(w, err)
		return
	}
	version, err := s.store.UpdateUserPassword(r.Context(), ident.user.ID, hash)
	if err != nil {
		s.serverError(w, err)
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:          ident.user.ID,
		Role:            ident.user.Role,
		PasswordVersion: version,
	})
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Admin: organizer management

type organizerResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt"`
}

func mapOrganizer(u model.User) organizerResponse {
	return organizerResponse{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.DisplayName(),
		IsActive:  u.IsActive,
		CreatedAt: fmtTime(u.CreatedAt),
	}
}

func (s *Server) handleListOrganizers(w http.ResponseWriter, r *http.Request) {
	organizers, err := s.store.ListOrganizers(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	out := make([]organizerResponse, 0, len(organizers))
	for _, o := range organizers {
		out = append(out, mapOrganizer(o))
	}
	writeJSON(w, http.StatusOK, out)
}

type createOrganizerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleCreateOrganizer(w http.ResponseWriter, r *http.Request) {
	var req createOrganizerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, err)
		return
	}
	id, err := s.store.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         model.RoleOrganizer,
		Name:         req.Name,
		IsActive:     true,
	})
	if db.IsUniqueViolation(err) {
		writeError(w, http.StatusConflict, "username_taken")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrganizer(user))
}

func (s *Server) handleToggleOrganizer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "organizerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_organizer_id")
		return
	}
	user, err := s.store.ToggleOrganizerStatus(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "organizer_not_found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrganizer(user))
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleResetOrganizerPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "organizerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_organizer_id")
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}
	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if err := s.store.SetOrganizerPassword(r.Context(), id, hash); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "organizer_not_found")
			return
		}
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteOrganizer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "organizerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_organizer_id")
		return
	}
	if err := s.store.SoftDeleteOrganizer(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "organizer_not_found")
			return
		}
		s.serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
