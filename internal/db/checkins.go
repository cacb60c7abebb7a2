package db

import (
	"context"
	"time"

	"github.com/ystemsrx/checkin-system/internal/model"
)

func (s *Store) InsertCheckIn(ctx context.Context, activityID, userID int64, method string, at time.Time) (model.CheckIn, error) {
	var c model.CheckIn
	err := s.db.QueryRow(ctx, `
		INSERT INTO checkins (activity_id, user_id, method, checked_in_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, activity_id, user_id, method, checked_in_at`,
		activityID, userID, method, at,
	).Scan(&c.ID, &c.ActivityID, &c.UserID, &c.Method, &c.CheckedInAt)
	return c, err
}

// CheckInEntry is a check-in joined with the attendee's display data.
type CheckInEntry struct {
	CheckIn  model.CheckIn
	UserName string
}

func (s *Store) ListActivityCheckIns(ctx context.Context, activityID int64) ([]CheckInEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ci.id, ci.activity_id, ci.user_id, ci.method, ci.checked_in_at,
			COALESCE(NULLIF(u.name, ''), NULLIF(c.name, ''), u.username)
		FROM checkins ci
		JOIN users u ON u.id = ci.user_id
		LEFT JOIN credentials c ON c.account_id = u.username AND u.role = 'student'
		WHERE ci.activity_id = $1
		ORDER BY ci.checked_in_at DESC, ci.id DESC`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckInEntry
	for rows.Next() {
		var e CheckInEntry
		if err := rows.Scan(&e.CheckIn.ID, &e.CheckIn.ActivityID, &e.CheckIn.UserID, &e.CheckIn.Method, &e.CheckIn.CheckedInAt, &e.UserName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentCheckIn carries the activity title alongside the audit record.
type RecentCheckIn struct {
	CheckIn       model.CheckIn
	ActivityTitle string
}

func (s *Store) ListRecentUserCheckIns(ctx context.Context, userID int64, limit int) ([]RecentCheckIn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ci.id, ci.activity_id, ci.user_id, ci.method, ci.checked_in_at, a.title
		FROM checkins ci
		JOIN activities a ON a.id = ci.activity_id
		WHERE ci.user_id = $1
		ORDER BY ci.checked_in_at DESC, ci.id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecentCheckIn
	for rows.Next() {
		var e RecentCheckIn
		if err := rows.Scan(&e.CheckIn.ID, &e.CheckIn.ActivityID, &e.CheckIn.UserID, &e.CheckIn.Method, &e.CheckIn.CheckedInAt, &e.ActivityTitle); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountCheckedIn(ctx context.Context, activityID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM registrations
		WHERE activity_id = $1 AND status = 'checked_in'`, activityID).Scan(&n)
	return n, err
}

// Check-in codes

func (s *Store) GetCheckInCodeByCode(ctx context.Context, code string) (model.CheckInCode, error) {
	var c model.CheckInCode
	err := s.db.QueryRow(ctx, `
		SELECT id, activity_id, code, expires_at, created_at
		FROM checkin_codes WHERE code = $1`, code,
	).Scan(&c.ID, &c.ActivityID, &c.Code, &c.ExpiresAt, &c.CreatedAt)
	return c, err
}

func (s *Store) InsertCheckInCode(ctx context.Context, activityID int64, code string, expiresAt time.Time) (model.CheckInCode, error) {
	var c model.CheckInCode
	err := s.db.QueryRow(ctx, `
		INSERT INTO checkin_codes (activity_id, code, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, activity_id, code, expires_at, created_at`,
		activityID, code, expiresAt,
	).Scan(&c.ID, &c.ActivityID, &c.Code, &c.ExpiresAt, &c.CreatedAt)
	return c, err
}

// ExpireActivityCodes force-expires every still-valid code for an activity
// and returns how many rows were touched.
func (s *Store) ExpireActivityCodes(ctx context.Context, activityID int64, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE checkin_codes SET expires_at = $2
		WHERE activity_id = $1 AND expires_at > $2`, activityID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
