package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ystemsrx/checkin-system/internal/auth"
	"github.com/ystemsrx/checkin-system/internal/clients"
	"github.com/ystemsrx/checkin-system/internal/config"
	"github.com/ystemsrx/checkin-system/internal/db"
	"github.com/ystemsrx/checkin-system/internal/metrics"
	"github.com/ystemsrx/checkin-system/internal/model"
	"github.com/ystemsrx/checkin-system/internal/observability"
)

type Server struct {
	cfg         config.Config
	store       *db.Store
	studentAuth *clients.StudentAuthClient
	log         *zap.Logger
}

func NewServer(cfg config.Config, store *db.Store, studentAuth *clients.StudentAuthClient, logger *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		studentAuth: studentAuth,
		log:         logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))
	r.Use(s.recoverMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.With(s.authMiddleware).Get("/me", s.handleMe)
		r.With(s.authMiddleware).Post("/logout", s.handleLogout)
		r.With(s.authMiddleware).Put("/profile", s.handleUpdateProfile)
		r.With(s.authMiddleware).Put("/password", s.handleChangePassword)
		r.Route("/admin/organizers", func(r chi.Router) {
			r.Use(s.authMiddleware, s.requireAdmin)
			r.Get("/", s.handleListOrganizers)
			r.Post("/", s.handleCreateOrganizer)
			r.Post("/{organizerID}/toggle-status", s.handleToggleOrganizer)
			r.Post("/{organizerID}/password", s.handleResetOrganizerPassword)
			r.Delete("/{organizerID}", s.handleDeleteOrganizer)
		})
	})

	r.Route("/api/activities", func(r chi.Router) {
		r.Get("/", s.handleListActivities)
		r.Get("/categories", s.handleListCategories)
		r.Get("/{activityID}", s.handleGetActivity)
		r.With(s.authMiddleware, s.requireOrganizer).Get("/my", s.handleMyActivities)
		r.With(s.authMiddleware, s.requireOrganizer).Post("/", s.handleCreateActivity)
		r.With(s.authMiddleware, s.requireOrganizer).Put("/{activityID}", s.handleUpdateActivity)
		r.With(s.authMiddleware, s.requireOrganizer).Delete("/{activityID}", s.handleDeleteActivity)
	})

	r.Route("/api/registrations", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireStudent).Post("/{activityID}", s.handleRegister)
		r.With(s.requireStudent).Delete("/{activityID}", s.handleCancelRegistration)
		r.With(s.requireStudent).Get("/my", s.handleMyRegistrations)
		r.With(s.requireOrganizer).Get("/activity/{activityID}", s.handleActivityRegistrations)
		r.Get("/status/{activityID}", s.handleRegistrationStatus)
	})

	r.Route("/api/checkin", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireStudent).Post("/qrcode", s.handleCheckInQRCode)
		r.With(s.requireStudent).Post("/code", s.handleCheckInCode)
		r.With(s.requireStudent).Get("/my-recent", s.handleMyRecentCheckIns)
		r.With(s.requireOrganizer).Post("/generate-qr/{activityID}", s.handleGenerateQR)
		r.With(s.requireOrganizer).Post("/generate-code/{activityID}", s.handleGenerateCode)
		r.With(s.requireOrganizer).Post("/end-checkin/{activityID}", s.handleEndCheckIn)
		r.With(s.requireOrganizer).Get("/activity/{activityID}", s.handleActivityCheckIns)
		r.With(s.requireOrganizer).Get("/stats/{activityID}", s.handleCheckInStats)
	})

	r.Route("/api/statistics", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireOrganizer)
		r.Get("/activity/{activityID}", s.handleActivityStatistics)
		r.Get("/organizer", s.handleOrganizerStatistics)
		r.Get("/trend", s.handleOrganizerTrend)
		r.Get("/export/{activityID}", s.handleExportActivity)
	})

	r.Route("/api/uploads", func(r chi.Router) {
		r.With(s.authMiddleware).Post("/image", s.handleUploadImage)
		r.With(s.authMiddleware).Post("/images", s.handleUploadImages)
		r.Get("/images/{filename}", s.handleServeImage)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.store.Pool.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database_unavailable")
		return
	}
	metrics.ObserveDBPing(time.Since(start))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Auth middleware

// identity is the resolved caller: parsed claims plus, for regular users,
// the freshly loaded row the claims were verified against. The admin
// sentinel has no row and user stays nil.
type identity struct {
	claims *auth.Claims
	user   *model.User
}

type identityKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ident := identity{claims: claims}
		if !claims.Admin {
			user, err := s.store.GetUserByID(r.Context(), claims.UserID)
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, http.StatusNotFound, "user_not_found")
				return
			}
			if err != nil {
				s.serverError(w, err)
				return
			}
			if user.IsDeleted || !user.IsActive {
				writeError(w, http.StatusUnauthorized, "account_disabled")
				return
			}
			if claims.TokenVersion() != user.PasswordVersion {
				writeError(w, http.StatusUnauthorized, "credentials_expired")
				return
			}
			ident.user = &user
		}

		ctx := context.WithValue(r.Context(), identityKey{}, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(identity)
	return ident, ok
}

func (s *Server) requireStudent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if ident.user == nil || ident.user.Role != model.RoleStudent {
			writeError(w, http.StatusForbidden, "student_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireOrganizer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if ident.user == nil || ident.user.Role != model.RoleOrganizer {
			writeError(w, http.StatusForbidden, "organizer_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if !ident.claims.Admin {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Infrastructure middleware

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err, ok := rec.(error)
				if !ok {
					err = errors.New(http.StatusText(http.StatusInternalServerError))
				}
				observability.CaptureErr(err)
				s.log.Error("panic in handler", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "server_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// serverError reports an unexpected failure and answers with a generic 500.
func (s *Server) serverError(w http.ResponseWriter, err error) {
	observability.CaptureErr(err)
	s.log.Error("handler error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error")
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	if status >= http.StatusInternalServerError {
		metrics.HandlerErrors.Inc()
	}
	writeJSON(w, status, map[string]string{"error": code})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

const maxPageSize = 100

func parsePagination(r *http.Request, defaultSize int) (page, pageSize int) {
	page = 1
	pageSize = defaultSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 {
		pageSize = v
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func totalPages(total, pageSize int) int {
	if total == 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

type pageResponse struct {
	Items      any `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := fmtTime(*t)
	return &v
}
