package model

import "time"

const (
	RoleStudent   = "student"
	RoleOrganizer = "organizer"
)

const (
	RegistrationRegistered = "registered"
	RegistrationCheckedIn  = "checked_in"
	RegistrationCancelled  = "cancelled"
)

const (
	CheckInMethodQRCode = "qrcode"
	CheckInMethodCode   = "code"
)

const (
	ActivityUpcoming  = "upcoming"
	ActivityOngoing   = "ongoing"
	ActivityCompleted = "completed"
	ActivityCancelled = "cancelled"
)

type User struct {
	ID              int64
	Username        string
	Email           string
	PasswordHash    string
	Role            string
	Name            string
	Avatar          string
	IsActive        bool
	IsDeleted       bool
	PasswordVersion int
	CreatedAt       time.Time
}

// DisplayName falls back to the username when no real name is recorded.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// Credential caches a student account verified against the campus auth
// service so later logins do not need the remote round trip.
type Credential struct {
	ID           int64
	AccountID    string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Activity struct {
	ID                   int64
	OrganizerID          int64
	OrganizerName        string
	Title                string
	Description          string
	Category             string
	Cancelled            bool
	StartTime            time.Time
	EndTime              time.Time
	Location             string
	MaxParticipants      int
	CurrentParticipants  int
	RegistrationDeadline time.Time
	CoverImage           string
	Images               []string
	Tags                 []string
	SubItems             []SubItem
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StatusAt derives the lifecycle status from the stored window. Only the
// cancelled flag is persisted; everything else is a function of time.
func (a Activity) StatusAt(now time.Time) string {
	if a.Cancelled {
		return ActivityCancelled
	}
	if now.Before(a.StartTime) {
		return ActivityUpcoming
	}
	if now.After(a.EndTime) {
		return ActivityCompleted
	}
	return ActivityOngoing
}

type SubItem struct {
	ID                  int64
	ActivityID          int64
	Name                string
	Capacity            *int
	Position            int
	CurrentParticipants int
}

type Registration struct {
	ID           int64
	ActivityID   int64
	UserID       int64
	Status       string
	SubItem      string
	RegisteredAt time.Time
	CheckedInAt  *time.Time
}

type CheckIn struct {
	ID          int64
	ActivityID  int64
	UserID      int64
	Method      string
	CheckedInAt time.Time
}

type CheckInCode struct {
	ID         int64
	ActivityID int64
	Code       string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
