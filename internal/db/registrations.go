package db

import (
	"context"
	"time"

	"github.com/ystemsrx/checkin-system/internal/model"
)

const registrationColumns = `r.id, r.activity_id, r.user_id, r.status, r.sub_item, r.registered_at, r.checked_in_at`

const registrationReturning = `id, activity_id, user_id, status, sub_item, registered_at, checked_in_at`

func scanRegistration(row interface{ Scan(dest ...any) error }) (model.Registration, error) {
	var reg model.Registration
	err := row.Scan(&reg.ID, &reg.ActivityID, &reg.UserID, &reg.Status, &reg.SubItem, &reg.RegisteredAt, &reg.CheckedInAt)
	return reg, err
}

func (s *Store) GetRegistration(ctx context.Context, activityID, userID int64) (model.Registration, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations r
		WHERE r.activity_id = $1 AND r.user_id = $2`, activityID, userID)
	return scanRegistration(row)
}

func (s *Store) InsertRegistration(ctx context.Context, activityID, userID int64, subItem string) (model.Registration, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO registrations (activity_id, user_id, status, sub_item)
		VALUES ($1, $2, 'registered', $3)
		RETURNING `+registrationReturning, activityID, userID, subItem)
	return scanRegistration(row)
}

// ReactivateRegistration flips a cancelled registration back to registered
// with a fresh timestamp, keeping the one-row-per-user invariant intact.
func (s *Store) ReactivateRegistration(ctx context.Context, id int64, subItem string) (model.Registration, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE registrations
		SET status = 'registered', sub_item = $2, registered_at = now(), checked_in_at = NULL
		WHERE id = $1 AND status = 'cancelled'
		RETURNING `+registrationReturning, id, subItem)
	return scanRegistration(row)
}

func (s *Store) CancelRegistration(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE registrations SET status = 'cancelled'
		WHERE id = $1 AND status = 'registered'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCheckedIn succeeds only while the registration is still in the
// registered state, which makes double check-in a no-op at the row level.
func (s *Store) MarkCheckedIn(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE registrations SET status = 'checked_in', checked_in_at = $2
		WHERE id = $1 AND status = 'registered'`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CountActiveRegistrations(ctx context.Context, activityID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM registrations
		WHERE activity_id = $1 AND status <> 'cancelled'`, activityID).Scan(&n)
	return n, err
}

func (s *Store) CountActiveSubItemRegistrations(ctx context.Context, activityID int64, subItem string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM registrations
		WHERE activity_id = $1 AND sub_item = $2 AND status <> 'cancelled'`, activityID, subItem).Scan(&n)
	return n, err
}

// RegistrationWithActivity pairs a student's registration with enough of
// the activity to render a list entry.
type RegistrationWithActivity struct {
	Registration model.Registration
	ActivityID   int64
	Title        string
	Category     string
	Cancelled    bool
	StartTime    time.Time
	EndTime      time.Time
	Location     string
	CoverImage   string
}

func (s *Store) ListUserRegistrations(ctx context.Context, userID int64, limit, offset int) ([]RegistrationWithActivity, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM registrations r
		WHERE r.user_id = $1 AND r.status <> 'cancelled'`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+registrationColumns+`,
			a.id, a.title, a.category, a.cancelled, a.start_time, a.end_time, a.location, a.cover_image
		FROM registrations r
		JOIN activities a ON a.id = r.activity_id
		WHERE r.user_id = $1 AND r.status <> 'cancelled'
		ORDER BY r.registered_at DESC, r.id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []RegistrationWithActivity
	for rows.Next() {
		var item RegistrationWithActivity
		reg := &item.Registration
		if err := rows.Scan(&reg.ID, &reg.ActivityID, &reg.UserID, &reg.Status, &reg.SubItem, &reg.RegisteredAt, &reg.CheckedInAt,
			&item.ActivityID, &item.Title, &item.Category, &item.Cancelled, &item.StartTime, &item.EndTime, &item.Location, &item.CoverImage); err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

// Registrant is a registration joined with the attendee's display data.
// Students logged in through the campus auth service carry their cached
// credential name.
type Registrant struct {
	Registration model.Registration
	UserName     string
	UserEmail    string
}

const registrantQuery = `
	SELECT ` + registrationColumns + `,
		COALESCE(NULLIF(u.name, ''), NULLIF(c.name, ''), u.username),
		u.email
	FROM registrations r
	JOIN users u ON u.id = r.user_id
	LEFT JOIN credentials c ON c.account_id = u.username AND u.role = 'student'
	WHERE r.activity_id = $1 AND r.status <> 'cancelled'
	ORDER BY r.registered_at, r.id`

func (s *Store) ListActivityRegistrants(ctx context.Context, activityID int64, limit, offset int) ([]Registrant, int, error) {
	total, err := s.CountActiveRegistrations(ctx, activityID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, registrantQuery+` LIMIT $2 OFFSET $3`, activityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := scanRegistrants(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AllActivityRegistrants returns every live registration for an activity,
// oldest first. Used by the export path.
func (s *Store) AllActivityRegistrants(ctx context.Context, activityID int64) ([]Registrant, error) {
	rows, err := s.db.Query(ctx, registrantQuery, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRegistrants(rows)
}

func scanRegistrants(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Registrant, error) {
	var out []Registrant
	for rows.Next() {
		var item Registrant
		reg := &item.Registration
		if err := rows.Scan(&reg.ID, &reg.ActivityID, &reg.UserID, &reg.Status, &reg.SubItem, &reg.RegisteredAt, &reg.CheckedInAt,
			&item.UserName, &item.UserEmail); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
