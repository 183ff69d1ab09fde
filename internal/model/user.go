package model

import (
	"fmt"
	"time"
)

// Role is a named permission group.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleStaff         Role = "staff"
	RoleAccountant    Role = "accountant"
	RoleContractor    Role = "contractor"
)

// User is a person that can be assigned tasks and receive notifications.
type User struct {
	ID             string  `json:"id" db:"id"`
	Name           string  `json:"name" db:"name"`
	Email          string  `json:"email" db:"email"`
	TelegramChatID *string `json:"telegram_chat_id,omitempty" db:"telegram_chat_id"`
	Active         bool    `json:"active" db:"active"`

	EmailEnabled    bool `json:"email_enabled" db:"email_enabled"`
	TelegramEnabled bool `json:"telegram_enabled" db:"telegram_enabled"`

	// Quiet hours are "HH:MM" wall-clock bounds in Timezone. A window
	// whose start is after its end wraps midnight.
	QuietHoursEnabled bool   `json:"quiet_hours_enabled" db:"quiet_hours_enabled"`
	QuietHoursStart   string `json:"quiet_hours_start" db:"quiet_hours_start"`
	QuietHoursEnd     string `json:"quiet_hours_end" db:"quiet_hours_end"`

	// Timezone is an IANA zone name; empty means the service default.
	Timezone string `json:"timezone" db:"timezone"`

	// Roles is populated by store lookups.
	Roles []Role `json:"roles,omitempty" db:"-"`
}

// HasRole reports whether the user holds any of the given roles.
func (u User) HasRole(roles ...Role) bool {
	for _, have := range u.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Location resolves the user's timezone, falling back to def.
func (u User) Location(def *time.Location) *time.Location {
	if def == nil {
		def = time.Local
	}
	if u.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return def
	}
	return loc
}

// QuietHoursUntil returns the instant the user's quiet window ends if now
// falls inside it. The second result is false when now is outside the
// window or quiet hours are disabled.
func (u User) QuietHoursUntil(now time.Time, def *time.Location) (time.Time, bool) {
	if !u.QuietHoursEnabled {
		return time.Time{}, false
	}
	start, err := parseClock(u.QuietHoursStart)
	if err != nil {
		return time.Time{}, false
	}
	end, err := parseClock(u.QuietHoursEnd)
	if err != nil || start == end {
		return time.Time{}, false
	}

	local := now.In(u.Location(def))
	minute := local.Hour()*60 + local.Minute()
	endToday := time.Date(local.Year(), local.Month(), local.Day(),
		end/60, end%60, 0, 0, local.Location())

	if start < end {
		if minute >= start && minute < end {
			return endToday, true
		}
		return time.Time{}, false
	}

	// Window wraps midnight, e.g. 22:00-07:00.
	switch {
	case minute >= start:
		return endToday.AddDate(0, 0, 1), true
	case minute < end:
		return endToday, true
	default:
		return time.Time{}, false
	}
}

// parseClock converts "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parsing clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
