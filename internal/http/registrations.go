package http

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ystemsrx/checkin-system/internal/db"
	"github.com/ystemsrx/checkin-system/internal/metrics"
	"github.com/ystemsrx/checkin-system/internal/model"
)

var (
	errActivityFull = errors.New("activity full")
	errSubItemFull  = errors.New("sub item full")
)

type registrationResponse struct {
	ID           int64   `json:"id"`
	ActivityID   int64   `json:"activityId"`
	UserID       int64   `json:"userId"`
	Status       string  `json:"status"`
	SubItem      string  `json:"subItem,omitempty"`
	RegisteredAt string  `json:"registeredAt"`
	CheckedInAt  *string `json:"checkedInAt,omitempty"`
}

func mapRegistration(reg model.Registration) registrationResponse {
	return registrationResponse{
		ID:           reg.ID,
		ActivityID:   reg.ActivityID,
		UserID:       reg.UserID,
		Status:       reg.Status,
		SubItem:      reg.SubItem,
		RegisteredAt: fmtTime(reg.RegisteredAt),
		CheckedInAt:  fmtTimePtr(reg.CheckedInAt),
	}
}

type registerRequest struct {
	SubItem string `json:"subItem"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	activityID, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	subItem := strings.TrimSpace(req.SubItem)

	activity, err := s.store.GetActivityByID(r.Context(), activityID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "activity_not_found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	existing, err := s.store.GetRegistration(r.Context(), activityID, ident.user.ID)
	hasExisting := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		s.serverError(w, err)
		return
	}
	if hasExisting && existing.Status != model.RegistrationCancelled {
		writeError(w, http.StatusConflict, "already_registered")
		return
	}

	if time.Now().UTC().After(activity.RegistrationDeadline) {
		writeError(w, http.StatusConflict, "registration_closed")
		return
	}

	var subCapacity *int
	if subItem != "" {
		found := false
		for _, item := range activity.SubItems {
			if item.Name == subItem {
				found = true
				subCapacity = item.Capacity
				break
			}
		}
		if !found {
			writeError(w, http.StatusBadRequest, "invalid_sub_item")
			return
		}
	}

	var reg model.Registration
	err = s.store.WithTx(r.Context(), func(tx *db.Store) error {
		// The conditional increment is the capacity gate; everything after
		// it rolls back together if the registration row cannot be placed.
		claimed, txErr := tx.TryIncrementParticipants(r.Context(), activityID)
		if txErr != nil {
			return txErr
		}
		if !claimed {
			return errActivityFull
		}
		if subCapacity != nil {
			taken, txErr := tx.CountActiveSubItemRegistrations(r.Context(), activityID, subItem)
			if txErr != nil {
				return txErr
			}
			if taken >= *subCapacity {
				return errSubItemFull
			}
		}
		if hasExisting {
			reg, txErr = tx.ReactivateRegistration(r.Context(), existing.ID, subItem)
		} else {
			reg, txErr = tx.InsertRegistration(r.Context(), activityID, ident.user.ID, subItem)
		}
		return txErr
	})
	switch {
	case errors.Is(err, errActivityFull):
		writeError(w, http.StatusConflict, "activity_full")
		return
	case errors.Is(err, errSubItemFull):
		writeError(w, http.StatusConflict, "sub_item_full")
		return
	case db.IsUniqueViolation(err), errors.Is(err, pgx.ErrNoRows):
		// Lost a race against a concurrent registration by the same user.
		writeError(w, http.StatusConflict, "already_registered")
		return
	case err != nil:
		s.serverError(w, err)
		return
	}

	metrics.Registrations.Inc()
	writeJSON(w, http.StatusCreated, mapRegistration(reg))
}

func (s *Server) handleCancelRegistration(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	activityID, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return
	}

	reg, err := s.store.GetRegistration(r.Context(), activityID, ident.user.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "registration_not_found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	switch reg.Status {
	case model.RegistrationCancelled:
		writeError(w, http.StatusNotFound, "registration_not_found")
		return
	case model.RegistrationCheckedIn:
		writeError(w, http.StatusConflict, "cannot_cancel_checked_in")
		return
	}

	err = s.store.WithTx(r.Context(), func(tx *db.Store) error {
		if txErr := tx.CancelRegistration(r.Context(), reg.ID); txErr != nil {
			return txErr
		}
		return tx.DecrementParticipants(r.Context(), activityID)
	})
	if errors.Is(err, db.ErrNotFound) {
		// The registration changed state under us.
		writeError(w, http.StatusConflict, "cannot_cancel_checked_in")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type myRegistrationResponse struct {
	registrationResponse
	Activity struct {
		ID         int64  `json:"id"`
		Title      string `json:"title"`
		Category   string `json:"category"`
		Status     string `json:"status"`
		StartTime  string `json:"startTime"`
		EndTime    string `json:"endTime"`
		Location   string `json:"location"`
		CoverImage string `json:"coverImage,omitempty"`
	} `json:"activity"`
}

func (s *Server) handleMyRegistrations(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	page, pageSize := parsePagination(r, 10)

	rows, total, err := s.store.ListUserRegistrations(r.Context(), ident.user.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		s.serverError(w, err)
		return
	}
	now := time.Now().UTC()
	items := make([]myRegistrationResponse, 0, len(rows))
	for _, row := range rows {
		item := myRegistrationResponse{registrationResponse: mapRegistration(row.Registration)}
		item.Activity.ID = row.ActivityID
		item.Activity.Title = row.Title
		item.Activity.Category = row.Category
		item.Activity.Status = model.Activity{
			Cancelled: row.Cancelled, StartTime: row.StartTime, EndTime: row.EndTime,
		}.StatusAt(now)
		item.Activity.StartTime = fmtTime(row.StartTime)
		item.Activity.EndTime = fmtTime(row.EndTime)
		item.Activity.Location = row.Location
		item.Activity.CoverImage = row.CoverImage
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize),
	})
}

type registrantResponse struct {
	registrationResponse
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail,omitempty"`
}

func (s *Server) handleActivityRegistrations(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	activityID, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return
	}
	activity, err := s.store.GetActivityByID(r.Context(), activityID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "activity_not_found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	if activity.OrganizerID != ident.user.ID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	page, pageSize := parsePagination(r, 20)
	rows, total, err := s.store.ListActivityRegistrants(r.Context(), activityID, pageSize, (page-1)*pageSize)
	if err != nil {
		s.serverError(w, err)
		return
	}
	items := make([]registrantResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, registrantResponse{
			registrationResponse: mapRegistration(row.Registration),
			UserName:             row.UserName,
			UserEmail:            row.UserEmail,
		})
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize),
	})
}

func (s *Server) handleRegistrationStatus(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	activityID, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return
	}
	if ident.user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"registered": false})
		return
	}

	reg, err := s.store.GetRegistration(r.Context(), activityID, ident.user.ID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && reg.Status == model.RegistrationCancelled) {
		writeJSON(w, http.StatusOK, map[string]any{"registered": false})
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registered":   true,
		"status":       reg.Status,
		"subItem":      reg.SubItem,
		"registeredAt": fmtTime(reg.RegisteredAt),
		"checkedInAt":  fmtTimePtr(reg.CheckedInAt),
	})
}
