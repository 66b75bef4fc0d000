package domain

import (
	"strings"
	"time"
)

// Gender is a free self-description with a handful of well-known values.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderThird       Gender = "third"
	GenderUnspecified Gender = "unspecified"
)

// Profile stores one user's descriptive fields and the set of activities they
// registered for. Profiles are created lazily on first interaction.
type Profile struct {
	UserID      string
	TenantID    string
	DisplayName string
	Email       string
	Gender      Gender
	// Attending holds activity keys in registration order and never contains
	// duplicates. The coordinator performs the duplicate check before Add.
	Attending []ActivityKey
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProfile constructs a profile with defaults derived from the caller's
// identity: display name from the email local-part, gender unspecified.
func NewProfile(tenantID, userID, email string, now time.Time) *Profile {
	return &Profile{
		UserID:      userID,
		TenantID:    tenantID,
		DisplayName: displayNameFromEmail(email),
		Email:       email,
		Gender:      GenderUnspecified,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Update overwrites the fields whose pointers are non-nil and leaves the rest
// untouched.
func (p *Profile) Update(displayName *string, gender *Gender, now time.Time) {
	if displayName != nil {
		p.DisplayName = *displayName
	}
	if gender != nil {
		p.Gender = *gender
	}
	p.UpdatedAt = now
}

// IsAttending reports whether the profile holds a registration for key.
func (p *Profile) IsAttending(key ActivityKey) bool {
	for _, k := range p.Attending {
		if k == key {
			return true
		}
	}
	return false
}

// AddAttendance appends the key without deduplicating. Callers must check
// IsAttending first; the registration coordinator does this inside the same
// transaction.
func (p *Profile) AddAttendance(key ActivityKey, now time.Time) {
	p.Attending = append(p.Attending, key)
	p.UpdatedAt = now
}

// RemoveAttendance drops the key from the attendance list.
func (p *Profile) RemoveAttendance(key ActivityKey, now time.Time) error {
	for i, k := range p.Attending {
		if k == key {
			p.Attending = append(p.Attending[:i], p.Attending[i+1:]...)
			p.UpdatedAt = now
			return nil
		}
	}
	return Faultf(FaultConflict, "not registered for activity %s/%d", key.OwnerID, key.LocalID)
}

func displayNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at >= 0 {
		return email[:at]
	}
	return email
}
