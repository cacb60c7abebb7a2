package db

import (
	"context"
	"time"

	"github.com/ystemsrx/checkin-system/internal/model"
)

type TrendPoint struct {
	Date  string
	Count int
}

// RegistrationTrend counts live registrations per calendar day (UTC) for a
// single activity.
func (s *Store) RegistrationTrend(ctx context.Context, activityID int64) ([]TrendPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(registered_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		FROM registrations
		WHERE activity_id = $1 AND status <> 'cancelled'
		GROUP BY day
		ORDER BY day`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrend(rows)
}

// OrganizerRegistrationTrend counts live registrations per day across all
// of an organizer's activities inside [from, to].
func (s *Store) OrganizerRegistrationTrend(ctx context.Context, organizerID int64, from, to time.Time) ([]TrendPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(r.registered_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		FROM registrations r
		JOIN activities a ON a.id = r.activity_id
		WHERE a.organizer_id = $1 AND r.status <> 'cancelled'
			AND r.registered_at >= $2 AND r.registered_at < $3
		GROUP BY day
		ORDER BY day`, organizerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrend(rows)
}

func scanTrend(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]TrendPoint, error) {
	var out []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Date, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type OrganizerTotals struct {
	Activities    int
	Registrations int
	CheckIns      int
}

func (s *Store) GetOrganizerTotals(ctx context.Context, organizerID int64) (OrganizerTotals, error) {
	var t OrganizerTotals
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM activities a WHERE a.organizer_id = $1),
			(SELECT COUNT(*) FROM registrations r JOIN activities a ON a.id = r.activity_id
				WHERE a.organizer_id = $1 AND r.status <> 'cancelled'),
			(SELECT COUNT(*) FROM checkins ci JOIN activities a ON a.id = ci.activity_id
				WHERE a.organizer_id = $1)`, organizerID,
	).Scan(&t.Activities, &t.Registrations, &t.CheckIns)
	return t, err
}

func (s *Store) ListRecentOrganizerActivities(ctx context.Context, organizerID int64, limit int) ([]model.Activity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+activityColumns+`
		FROM activities a JOIN users u ON u.id = a.organizer_id
		WHERE a.organizer_id = $1
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $2`, organizerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
