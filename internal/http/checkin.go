package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ystemsrx/checkin-system/internal/crypto"
	"github.com/ystemsrx/checkin-system/internal/db"
	"github.com/ystemsrx/checkin-system/internal/metrics"
	"github.com/ystemsrx/checkin-system/internal/model"
)

const (
	codeLength         = 6
	minCodeValidity    = 5 * time.Minute
	maxCodeValidity    = 30 * time.Minute
	defaultCodeMinutes = 15
	codeRetryLimit     = 100
)

// loadOwnedActivity parses the activity path parameter, loads the activity
// and enforces that the caller organizes it. On failure the response has
// already been written.
func (s *Server) loadOwnedActivity(w http.ResponseWriter, r *http.Request) (model.Activity, bool) {
	ident, _ := identityFromContext(r.Context())
	activityID, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return model.Activity{}, false
	}
	activity, err := s.store.GetActivityByID(r.Context(), activityID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "activity_not_found")
		return model.Activity{}, false
	}
	if err != nil {
		s.serverError(w, err)
		return model.Activity{}, false
	}
	if ident.user == nil || activity.OrganizerID != ident.user.ID {
		writeError(w, http.StatusForbidden, "forbidden")
		return model.Activity{}, false
	}
	return activity, true
}

type qrPayload struct {
	ActivityID int64  `json:"activityId"`
	Timestamp  string `json:"timestamp"`
}

// parseQRPayload validates the scanned payload against the activity being
// checked into. The payload is unsigned; the only integrity check is the
// activity id equality.
func parseQRPayload(qrData string, activityID int64) (string, bool) {
	var payload qrPayload
	if err := json.Unmarshal([]byte(qrData), &payload); err != nil {
		return "invalid_qr_payload", false
	}
	if payload.ActivityID == 0 {
		return "invalid_qr_payload", false
	}
	if payload.ActivityID != activityID {
		return "qr_activity_mismatch", false
	}
	return "", true
}

type qrCheckInRequest struct {
	ActivityID int64  `json:"activityId"`
	QRData     string `json:"qrData"`
}

func (s *Server) handleCheckInQRCode(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())

	var req qrCheckInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.ActivityID == 0 || strings.TrimSpace(req.QRData) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if code, ok := parseQRPayload(req.QRData, req.ActivityID); !ok {
		writeError(w, http.StatusBadRequest, code)
		return
	}
	s.completeCheckIn(w, r, req.ActivityID, ident.user.ID, model.CheckInMethodQRCode)
}

type codeCheckInRequest struct {
	ActivityID int64  `json:"activityId"`
	Code       string `json:"code"`
}

func (s *Server) handleCheckInCode(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())

	var req codeCheckInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	code := strings.TrimSpace(req.Code)
	if req.ActivityID == 0 || code == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	record, err := s.store.GetCheckInCodeByCode(r.Context(), code)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusBadRequest, "invalid_code")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	if record.ActivityID != req.ActivityID {
		writeError(w, http.StatusBadRequest, "invalid_code")
		return
	}
	if time.Now().UTC().After(record.ExpiresAt) {
		writeError(w, http.StatusBadRequest, "code_expired")
		return
	}
	s.completeCheckIn(w, r, req.ActivityID, ident.user.ID, model.CheckInMethodCode)
}

// completeCheckIn flips the registration to checked_in and appends the
// audit record in one transaction.
func (s *Server) completeCheckIn(w http.ResponseWriter, r *http.Request, activityID, userID int64, method string) {
	reg, err := s.store.GetRegistration(r.Context(), activityID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusConflict, "not_registered")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	switch reg.Status {
	case model.RegistrationCancelled:
		writeError(w, http.StatusConflict, "not_registered")
		return
	case model.RegistrationCheckedIn:
		writeError(w, http.StatusConflict, "already_checked_in")
		return
	}

	now := time.Now().UTC()
	err = s.store.WithTx(r.Context(), func(tx *db.Store) error {
		flipped, txErr := tx.MarkCheckedIn(r.Context(), reg.ID, now)
		if txErr != nil {
			return txErr
		}
		if !flipped {
			return errAlreadyCheckedIn
		}
		_, txErr = tx.InsertCheckIn(r.Context(), activityID, userID, method, now)
		return txErr
	})
	if errors.Is(err, errAlreadyCheckedIn) {
		writeError(w, http.StatusConflict, "already_checked_in")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	metrics.CheckIns.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"activityId":  activityID,
		"method":      method,
		"checkedInAt": fmtTime(now),
	})
}

var errAlreadyCheckedIn = errors.New("already checked in")

func (s *Server) handleGenerateQR(w http.ResponseWriter, r *http.Request) {
	activity, ok := s.loadOwnedActivity(w, r)
	if !ok {
		return
	}
	payload, err := json.Marshal(qrPayload{
		ActivityID: activity.ID,
		Timestamp:  fmtTime(time.Now().UTC()),
	})
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qrData": string(payload)})
}

// clampCodeValidity keeps requested code lifetimes inside [5, 30] minutes.
// Zero or negative means "use the default".
func clampCodeValidity(minutes int) time.Duration {
	if minutes <= 0 {
		minutes = defaultCodeMinutes
	}
	d := time.Duration(minutes) * time.Minute
	if d < minCodeValidity {
		return minCodeValidity
	}
	if d > maxCodeValidity {
		return maxCodeValidity
	}
	return d
}

type generateCodeRequest struct {
	Duration int `json:"duration"`
}

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	activity, ok := s.loadOwnedActivity(w, r)
	if !ok {
		return
	}

	var req generateCodeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	validity := clampCodeValidity(req.Duration)
	expiresAt := time.Now().UTC().Add(validity)

	// Codes are globally unique among all codes ever issued; retry on
	// collision.
	for attempt := 0; attempt < codeRetryLimit; attempt++ {
		code, err := crypto.NewNumericCode(codeLength)
		if err != nil {
			s.serverError(w, err)
			return
		}
		record, err := s.store.InsertCheckInCode(r.Context(), activity.ID, code, expiresAt)
		if db.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			s.serverError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"code":            record.Code,
			"expiresAt":       fmtTime(record.ExpiresAt),
			"validitySeconds": int(validity.Seconds()),
		})
		return
	}
	s.serverError(w, errors.New("check-in code space exhausted"))
}

func (s *Server) handleEndCheckIn(w http.ResponseWriter, r *http.Request) {
	activity, ok := s.loadOwnedActivity(w, r)
	if !ok {
		return
	}
	count, err := s.store.ExpireActivityCodes(r.Context(), activity.ID, time.Now().UTC())
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updatedCount": count})
}

func (s *Server) handleActivityCheckIns(w http.ResponseWriter, r *http.Request) {
	activity, ok := s.loadOwnedActivity(w, r)
	if !ok {
		return
	}
	entries, err := s.store.ListActivityCheckIns(r.Context(), activity.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"id":          e.CheckIn.ID,
			"userId":      e.CheckIn.UserID,
			"userName":    e.UserName,
			"method":      e.CheckIn.Method,
			"checkedInAt": fmtTime(e.CheckIn.CheckedInAt),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCheckInStats(w http.ResponseWriter, r *http.Request) {
	activity, ok := s.loadOwnedActivity(w, r)
	if !ok {
		return
	}
	total, err := s.store.CountActiveRegistrations(r.Context(), activity.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	checkedIn, err := s.store.CountCheckedIn(r.Context(), activity.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"checkedIn": checkedIn,
		"rate":      checkInRate(checkedIn, total),
	})
}

func checkInRate(checkedIn, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(checkedIn) / float64(total)
}

func (s *Server) handleMyRecentCheckIns(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	entries, err := s.store.ListRecentUserCheckIns(r.Context(), ident.user.ID, 10)
	if err != nil {
		s.serverError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"activityId":    e.CheckIn.ActivityID,
			"activityTitle": e.ActivityTitle,
			"method":        e.CheckIn.Method,
			"checkedInAt":   fmtTime(e.CheckIn.CheckedInAt),
		})
	}
	writeJSON(w, http.StatusOK, items)
}
