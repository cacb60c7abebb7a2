package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ystemsrx/checkin-system/internal/model"
)

const activityColumns = `a.id, a.organizer_id, COALESCE(NULLIF(u.name, ''), u.username),
	a.title, a.description, a.category, a.cancelled, a.start_time, a.end_time,
	a.location, a.max_participants, a.current_participants, a.registration_deadline,
	a.cover_image, a.images, a.tags, a.created_at, a.updated_at`

func scanActivity(row interface{ Scan(dest ...any) error }) (model.Activity, error) {
	var a model.Activity
	err := row.Scan(&a.ID, &a.OrganizerID, &a.OrganizerName,
		&a.Title, &a.Description, &a.Category, &a.Cancelled, &a.StartTime, &a.EndTime,
		&a.Location, &a.MaxParticipants, &a.CurrentParticipants, &a.RegistrationDeadline,
		&a.CoverImage, &a.Images, &a.Tags, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) CreateActivity(ctx context.Context, a model.Activity) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO activities (organizer_id, title, description, category, start_time, end_time,
			location, max_participants, registration_deadline, cover_image, images, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		a.OrganizerID, a.Title, a.Description, a.Category, a.StartTime, a.EndTime,
		a.Location, a.MaxParticipants, a.RegistrationDeadline, a.CoverImage, a.Images, a.Tags,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, s.ReplaceSubItems(ctx, id, a.SubItems)
}

func (s *Store) UpdateActivity(ctx context.Context, a model.Activity) error {
	_, err := s.db.Exec(ctx, `
		UPDATE activities SET title = $2, description = $3, category = $4, start_time = $5,
			end_time = $6, location = $7, max_participants = $8, registration_deadline = $9,
			cover_image = $10, images = $11, tags = $12, updated_at = now()
		WHERE id = $1`,
		a.ID, a.Title, a.Description, a.Category, a.StartTime,
		a.EndTime, a.Location, a.MaxParticipants, a.RegistrationDeadline,
		a.CoverImage, a.Images, a.Tags)
	return err
}

func (s *Store) SetActivityCancelled(ctx context.Context, id int64, cancelled bool) error {
	_, err := s.db.Exec(ctx, `UPDATE activities SET cancelled = $2, updated_at = now() WHERE id = $1`, id, cancelled)
	return err
}

func (s *Store) DeleteActivity(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM activities WHERE id = $1`, id)
	return err
}

func (s *Store) GetActivityByID(ctx context.Context, id int64) (model.Activity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+activityColumns+`
		FROM activities a JOIN users u ON u.id = a.organizer_id
		WHERE a.id = $1`, id)
	a, err := scanActivity(row)
	if err != nil {
		return model.Activity{}, err
	}
	if err := s.attachSubItems(ctx, []*model.Activity{&a}); err != nil {
		return model.Activity{}, err
	}
	return a, nil
}

type ActivityFilter struct {
	Category    string
	Status      string
	Keyword     string
	StartDate   *time.Time
	OrganizerID int64
	Limit       int
	Offset      int
}

func (s *Store) ListActivities(ctx context.Context, f ActivityFilter) ([]model.Activity, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Category != "" {
		add("a.category = $%d", f.Category)
	}
	if f.Keyword != "" {
		args = append(args, "%"+f.Keyword+"%")
		where = append(where, fmt.Sprintf("(a.title ILIKE $%d OR a.description ILIKE $%d)", len(args), len(args)))
	}
	if f.StartDate != nil {
		add("a.start_time >= $%d", *f.StartDate)
	}
	if f.OrganizerID != 0 {
		add("a.organizer_id = $%d", f.OrganizerID)
	}
	switch f.Status {
	case model.ActivityUpcoming:
		where = append(where, "NOT a.cancelled AND a.start_time > now()")
	case model.ActivityOngoing:
		where = append(where, "NOT a.cancelled AND a.start_time <= now() AND a.end_time >= now()")
	case model.ActivityCompleted:
		where = append(where, "NOT a.cancelled AND a.end_time < now()")
	case model.ActivityCancelled:
		where = append(where, "a.cancelled")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM activities a WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT `+activityColumns+`
		FROM activities a JOIN users u ON u.id = a.organizer_id
		WHERE %s
		ORDER BY a.start_time DESC, a.id DESC
		LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	refs := make([]*model.Activity, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.attachSubItems(ctx, refs); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT category FROM activities WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Sub-items

func (s *Store) ReplaceSubItems(ctx context.Context, activityID int64, items []model.SubItem) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM activity_sub_items WHERE activity_id = $1`, activityID); err != nil {
		return err
	}
	for i, item := range items {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO activity_sub_items (activity_id, name, capacity, position)
			VALUES ($1, $2, $3, $4)`,
			activityID, item.Name, item.Capacity, i); err != nil {
			return err
		}
	}
	return nil
}

// attachSubItems loads sub-items plus their live registration counts for a
// batch of activities in one round trip.
func (s *Store) attachSubItems(ctx context.Context, activities []*model.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	ids := make([]int64, len(activities))
	byID := make(map[int64]*model.Activity, len(activities))
	for i, a := range activities {
		ids[i] = a.ID
		byID[a.ID] = a
	}
	rows, err := s.db.Query(ctx, `
		SELECT si.id, si.activity_id, si.name, si.capacity, si.position, COALESCE(c.n, 0)
		FROM activity_sub_items si
		LEFT JOIN (
			SELECT activity_id, sub_item, COUNT(*) AS n
			FROM registrations
			WHERE status <> 'cancelled'
			GROUP BY activity_id, sub_item
		) c ON c.activity_id = si.activity_id AND c.sub_item = si.name
		WHERE si.activity_id = ANY($1)
		ORDER BY si.activity_id, si.position, si.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item model.SubItem
		if err := rows.Scan(&item.ID, &item.ActivityID, &item.Name, &item.Capacity, &item.Position, &item.CurrentParticipants); err != nil {
			return err
		}
		if a, ok := byID[item.ActivityID]; ok {
			a.SubItems = append(a.SubItems, item)
		}
	}
	return rows.Err()
}

// Capacity

// TryIncrementParticipants claims one capacity slot. The conditional update
// is the single point where the participant limit is enforced, so two
// concurrent registrations can never both win the last slot.
func (s *Store) TryIncrementParticipants(ctx context.Context, activityID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE activities SET current_participants = current_participants + 1
		WHERE id = $1 AND current_participants < max_participants`, activityID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DecrementParticipants(ctx context.Context, activityID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE activities SET current_participants = GREATEST(current_participants - 1, 0)
		WHERE id = $1`, activityID)
	return err
}
