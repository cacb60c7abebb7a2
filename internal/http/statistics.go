package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ystemsrx/checkin-system/internal/db"
	"github.com/ystemsrx/checkin-system/internal/export"
	"github.com/ystemsrx/checkin-system/internal/model"
)

type trendPointResponse struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

func mapTrend(points []db.TrendPoint) []trendPointResponse {
	out := make([]trendPointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, trendPointResponse{Date: p.Date, Count: p.Count})
	}
	return out
}

func (s *Server) handleActivityStatistics(w http.ResponseWriter, r *http.Request) {
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
	trend, err := s.store.RegistrationTrend(r.Context(), activity.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activityId":        activity.ID,
		"title":             activity.Title,
		"status":            activity.StatusAt(time.Now().UTC()),
		"totalRegistered":   total,
		"totalCheckedIn":    checkedIn,
		"checkInRate":       checkInRate(checkedIn, total),
		"registrationTrend": mapTrend(trend),
	})
}

func (s *Server) handleOrganizerStatistics(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())
	totals, err := s.store.GetOrganizerTotals(r.Context(), ident.user.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	recent, err := s.store.ListRecentOrganizerActivities(r.Context(), ident.user.ID, 5)
	if err != nil {
		s.serverError(w, err)
		return
	}
	now := time.Now().UTC()
	recentItems := make([]activityResponse, 0, len(recent))
	for _, a := range recent {
		recentItems = append(recentItems, mapActivity(a, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalActivities":    totals.Activities,
		"totalRegistrations": totals.Registrations,
		"totalCheckIns":      totals.CheckIns,
		"recentActivities":   recentItems,
	})
}

func (s *Server) handleOrganizerTrend(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromContext(r.Context())

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30).Truncate(24 * time.Hour)
	to := now
	if raw := r.URL.Query().Get("startDate"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("endDate"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date")
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "invalid_date_range")
		return
	}

	trend, err := s.store.OrganizerRegistrationTrend(r.Context(), ident.user.ID, from, to)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapTrend(trend))
}

// handleExportActivity streams an xlsx attachment. Completed activities
// export the check-in roster; everything else exports the registration
// list.
func (s *Server) handleExportActivity(w http.ResponseWriter, r *http.Request) {
	activity, ok := s.loadOwnedActivity(w, r)
	if !ok {
		return
	}
	registrants, err := s.store.AllActivityRegistrants(r.Context(), activity.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}

	now := time.Now().UTC()
	completed := activity.StatusAt(now) == model.ActivityCompleted

	var sheet export.SheetSpec
	var suffix string
	if completed {
		suffix = "checkins"
		sheet = export.SheetSpec{
			Title:  "Check-ins",
			Header: []string{"#", "Name", "Email", "Sub-item", "Registered At", "Checked In At", "Status"},
		}
		for i, reg := range registrants {
			checkedIn := ""
			if reg.Registration.CheckedInAt != nil {
				checkedIn = fmtTime(*reg.Registration.CheckedInAt)
			}
			sheet.Rows = append(sheet.Rows, []string{
				strconv.Itoa(i + 1),
				reg.UserName,
				reg.UserEmail,
				reg.Registration.SubItem,
				fmtTime(reg.Registration.RegisteredAt),
				checkedIn,
				reg.Registration.Status,
			})
		}
	} else {
		suffix = "registrations"
		sheet = export.SheetSpec{
			Title:  "Registrations",
			Header: []string{"#", "Name", "Email", "Sub-item", "Registered At", "Status"},
		}
		for i, reg := range registrants {
			sheet.Rows = append(sheet.Rows, []string{
				strconv.Itoa(i + 1),
				reg.UserName,
				reg.UserEmail,
				reg.Registration.SubItem,
				fmtTime(reg.Registration.RegisteredAt),
				reg.Registration.Status,
			})
		}
	}

	wb, err := export.NewWorkbook([]export.SheetSpec{sheet})
	if err != nil {
		s.serverError(w, err)
		return
	}

	filename := export.BuildExportFilename(activity.Title, suffix, now)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename*=UTF-8''%s`, url.PathEscape(filename)))
	if err := wb.WriteTo(w); err != nil {
		s.log.Error("export write failed", zap.Error(err))
	}
}
