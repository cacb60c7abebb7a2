package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ystemsrx/checkin-system/internal/db"
	"github.com/ystemsrx/checkin-system/internal/model"
)

type subItemResponse struct {
	Name                string `json:"name"`
	Capacity            *int   `json:"capacity,omitempty"`
	CurrentParticipants int    `json:"currentParticipants"`
}

type activityResponse struct {
	ID                   int64             `json:"id"`
	OrganizerID          int64             `json:"organizerId"`
	OrganizerName        string            `json:"organizerName"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	Category             string            `json:"category"`
	Status               string            `json:"status"`
	StartTime            string            `json:"startTime"`
	EndTime              string            `json:"endTime"`
	Location             string            `json:"location"`
	MaxParticipants      int               `json:"maxParticipants"`
	CurrentParticipants  int               `json:"currentParticipants"`
	RegistrationDeadline string            `json:"registrationDeadline"`
	CoverImage           string            `json:"coverImage,omitempty"`
	Images               []string          `json:"images"`
	Tags                 []string          `json:"tags"`
	SubItems             []subItemResponse `json:"subItems"`
	CreatedAt            string            `json:"createdAt"`
	UpdatedAt            string            `json:"updatedAt"`
}

func mapActivity(a model.Activity, now time.Time) activityResponse {
	images := a.Images
	if images == nil {
		images = []string{}
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	subItems := make([]subItemResponse, 0, len(a.SubItems))
	for _, item := range a.SubItems {
		subItems = append(subItems, subItemResponse{
			Name:                item.Name,
			Capacity:            item.Capacity,
			CurrentParticipants: item.CurrentParticipants,
		})
	}
	return activityResponse{
		ID:                   a.ID,
		OrganizerID:          a.OrganizerID,
		OrganizerName:        a.OrganizerName,
		Title:                a.Title,
		Description:          a.Description,
		Category:             a.Category,
		Status:               a.StatusAt(now),
		StartTime:            fmtTime(a.StartTime),
		EndTime:              fmtTime(a.EndTime),
		Location:             a.Location,
		MaxParticipants:      a.MaxParticipants,
		CurrentParticipants:  a.CurrentParticipants,
		RegistrationDeadline: fmtTime(a.RegistrationDeadline),
		CoverImage:           a.CoverImage,
		Images:               images,
		Tags:                 tags,
		SubItems:             subItems,
		CreatedAt:            fmtTime(a.CreatedAt),
		UpdatedAt:            fmtTime(a.UpdatedAt),
	}
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r, 10)
	filter := db.ActivityFilter{
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Status:   strings.TrimSpace(r.URL.Query().Get("status")),
		Keyword:  strings.TrimSpace(r.URL.Query().Get("keyword")),
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	}
	if raw := r.URL.Query().Get("startDate"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date")
			return
		}
		filter.StartDate = &parsed
	}

	activities, total, err := s.store.ListActivities(r.Context(), filter)
	if err != nil {
		s.serverError(w, err)
		return
	}
	now := time.Now().UTC()
	items := make([]activityResponse, 0, len(activities))
	for _, a := range activities {
		items = append(items, mapActivity(a, now))
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize),
	})
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return
	}
	activity, err := s.store.GetActivityByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "activity_not_found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapActivity(activity, time.Now().UTC()))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleMyActivities(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	page, pageSize := parsePagination(r, 10)
	activities, total, err := s.store.ListActivities(r.Context(), db.ActivityFilter{
		OrganizerID: ident.user.ID,
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	})
	if err != nil {
		s.serverError(w, err)
		return
	}
	now := time.Now().UTC()
	items := make([]activityResponse, 0, len(activities))
	for _, a := range activities {
		items = append(items, mapActivity(a, now))
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize),
	})
}

type subItemRequest struct {
	Name     string `json:"name"`
	Capacity *int   `json:"capacity"`
}

type activityRequest struct {
	Title                *string           `json:"title"`
	Description          *string           `json:"description"`
	Category             *string           `json:"category"`
	StartTime            *string           `json:"startTime"`
	EndTime              *string           `json:"endTime"`
	Location             *string           `json:"location"`
	MaxParticipants      *int              `json:"maxParticipants"`
	RegistrationDeadline *string           `json:"registrationDeadline"`
	CoverImage           *string           `json:"coverImage"`
	Images               *[]string         `json:"images"`
	Tags                 *[]string         `json:"tags"`
	SubItems             *[]subItemRequest `json:"subItems"`
	Cancelled            *bool             `json:"cancelled"`
}

func parseRFC3339(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func mapSubItemRequests(items []subItemRequest) ([]model.SubItem, bool) {
	out := make([]model.SubItem, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" || seen[name] {
			return nil, false
		}
		if item.Capacity != nil && *item.Capacity <= 0 {
			return nil, false
		}
		seen[name] = true
		out = append(out, model.SubItem{Name: name, Capacity: item.Capacity})
	}
	return out, true
}

func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())

	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" ||
		req.StartTime == nil || req.EndTime == nil || req.RegistrationDeadline == nil ||
		req.MaxParticipants == nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if *req.MaxParticipants <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_max_participants")
		return
	}

	start, err := parseRFC3339(*req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time")
		return
	}
	end, err := parseRFC3339(*req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time")
		return
	}
	deadline, err := parseRFC3339(*req.RegistrationDeadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time")
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "invalid_time_range")
		return
	}

	activity := model.Activity{
		OrganizerID:          ident.user.ID,
		Title:                strings.TrimSpace(*req.Title),
		StartTime:            start,
		EndTime:              end,
		MaxParticipants:      *req.MaxParticipants,
		RegistrationDeadline: deadline,
		Images:               []string{},
		Tags:                 []string{},
	}
	if req.Description != nil {
		activity.Description = *req.Description
	}
	if req.Category != nil {
		activity.Category = strings.TrimSpace(*req.Category)
	}
	if req.Location != nil {
		activity.Location = strings.TrimSpace(*req.Location)
	}
	if req.Images != nil {
		activity.Images = *req.Images
	}
	if req.Tags != nil {
		activity.Tags = *req.Tags
	}
	if req.CoverImage != nil {
		activity.CoverImage = *req.CoverImage
	}
	if activity.CoverImage == "" && len(activity.Images) > 0 {
		activity.CoverImage = activity.Images[0]
	}
	if req.SubItems != nil {
		items, ok := mapSubItemRequests(*req.SubItems)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_sub_items")
			return
		}
		activity.SubItems = items
	}

	var id int64
	err = s.store.WithTx(r.Context(), func(tx *db.Store) error {
		var txErr error
		id, txErr = tx.CreateActivity(r.Context(), activity)
		return txErr
	})
	if err != nil {
		s.serverError(w, err)
		return
	}

	created, err := s.store.GetActivityByID(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapActivity(created, time.Now().UTC()))
}

func (s *Server) handleUpdateActivity(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	id, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return
	}
	activity, err := s.store.GetActivityByID(r.Context(), id)
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

	now := time.Now().UTC()
	switch activity.StatusAt(now) {
	case model.ActivityOngoing:
		writeError(w, http.StatusConflict, "activity_ongoing")
		return
	case model.ActivityCompleted:
		writeError(w, http.StatusConflict, "activity_ended")
		return
	}

	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		activity.Title = title
	}
	if req.Description != nil {
		activity.Description = *req.Description
	}
	if req.Category != nil {
		activity.Category = strings.TrimSpace(*req.Category)
	}
	if req.Location != nil {
		activity.Location = strings.TrimSpace(*req.Location)
	}
	if req.StartTime != nil {
		start, err := parseRFC3339(*req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time")
			return
		}
		activity.StartTime = start
	}
	if req.EndTime != nil {
		end, err := parseRFC3339(*req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time")
			return
		}
		activity.EndTime = end
	}
	if !activity.EndTime.After(activity.StartTime) {
		writeError(w, http.StatusBadRequest, "invalid_time_range")
		return
	}
	if req.RegistrationDeadline != nil {
		deadline, err := parseRFC3339(*req.RegistrationDeadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time")
			return
		}
		activity.RegistrationDeadline = deadline
	}
	if req.MaxParticipants != nil {
		if *req.MaxParticipants <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_max_participants")
			return
		}
		if *req.MaxParticipants < activity.CurrentParticipants {
			writeError(w, http.StatusBadRequest, "max_below_current")
			return
		}
		activity.MaxParticipants = *req.MaxParticipants
	}
	if req.Images != nil {
		activity.Images = *req.Images
	}
	if req.Tags != nil {
		activity.Tags = *req.Tags
	}
	if req.CoverImage != nil {
		activity.CoverImage = *req.CoverImage
	}
	if activity.CoverImage == "" && len(activity.Images) > 0 {
		activity.CoverImage = activity.Images[0]
	}

	var subItems []model.SubItem
	if req.SubItems != nil {
		items, ok := mapSubItemRequests(*req.SubItems)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_sub_items")
			return
		}
		subItems = items
	}

	err = s.store.WithTx(r.Context(), func(tx *db.Store) error {
		if txErr := tx.UpdateActivity(r.Context(), activity); txErr != nil {
			return txErr
		}
		if req.Cancelled != nil {
			if txErr := tx.SetActivityCancelled(r.Context(), activity.ID, *req.Cancelled); txErr != nil {
				return txErr
			}
		}
		if req.SubItems != nil {
			return tx.ReplaceSubItems(r.Context(), activity.ID, subItems)
		}
		return nil
	})
	if err != nil {
		s.serverError(w, err)
		return
	}

	updated, err := s.store.GetActivityByID(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapActivity(updated, time.Now().UTC()))
}

func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	id, err := pathID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_activity_id")
		return
	}
	activity, err := s.store.GetActivityByID(r.Context(), id)
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
	if activity.StatusAt(time.Now().UTC()) == model.ActivityOngoing {
		writeError(w, http.StatusConflict, "activity_ongoing")
		return
	}

	if err := s.store.DeleteActivity(r.Context(), id); err != nil {
		s.serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
