package domain

import (
	"fmt"
	"strings"
	"time"
)

const defaultLocation = "Default Location"

var defaultTopics = []string{"Default", "Topic"}

// ActivityKey addresses one activity inside its owner's partition. OwnerID is
// the owning profile's user id; LocalID is unique within that partition only.
type ActivityKey struct {
	OwnerID string
	LocalID int64
}

// Activity stores one event's capacity and descriptive fields. An activity row
// lives in its owner's storage partition, which is what allows the activity and
// a profile to be mutated inside a single transaction.
type Activity struct {
	ID          int64
	OwnerID     string
	TenantID    string
	Name        string
	Description string
	Topics      []string
	Location    string
	Start       *time.Time
	End         *time.Time
	// StartMonth is derived from Start for month-range filtering. Zero when
	// Start is nil.
	StartMonth     int
	MaxSeats       int
	AvailableSeats int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key returns the composite key for this activity.
func (a *Activity) Key() ActivityKey {
	return ActivityKey{OwnerID: a.OwnerID, LocalID: a.ID}
}

// AllocatedSeats returns the number of seats currently booked.
func (a *Activity) AllocatedSeats() int {
	return a.MaxSeats - a.AvailableSeats
}

// ActivityForm carries the mutable activity fields supplied by a caller.
// Nil Start/End mean "no schedule yet", not "leave unchanged".
type ActivityForm struct {
	Name        string
	Description string
	Topics      []string
	Location    string
	Start       *time.Time
	End         *time.Time
	MaxSeats    int
}

// NewActivity builds an activity from the form. The id must have been
// allocated beforehand so that a retried transaction reuses the same key.
func NewActivity(id int64, tenantID, ownerID string, form ActivityForm, now time.Time) (*Activity, error) {
	activity := &Activity{
		ID:        id,
		OwnerID:   ownerID,
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := activity.ApplyForm(form, now); err != nil {
		return nil, err
	}
	return activity, nil
}

// ApplyForm recomputes every mutable field from the form, both at creation and
// on update. Seats already allocated survive a capacity change; shrinking
// MaxSeats below the allocated count fails and leaves the activity unmodified.
func (a *Activity) ApplyForm(form ActivityForm, now time.Time) error {
	if form.Name == "" {
		return Faultf(FaultInvalid, "the name is required")
	}
	if form.MaxSeats < 0 {
		return Faultf(FaultInvalid, "maxSeats must not be negative")
	}
	allocated := a.AllocatedSeats()
	if form.MaxSeats < allocated {
		return Faultf(FaultConflict,
			"%d seats are already allocated, but you tried to set maxSeats to %d",
			allocated, form.MaxSeats)
	}

	a.Name = form.Name
	a.Description = form.Description
	if len(form.Topics) == 0 {
		a.Topics = append([]string(nil), defaultTopics...)
	} else {
		a.Topics = append([]string(nil), form.Topics...)
	}
	if form.Location == "" {
		a.Location = defaultLocation
	} else {
		a.Location = form.Location
	}

	a.Start = copyTime(form.Start)
	a.End = copyTime(form.End)
	if a.Start != nil {
		a.StartMonth = int(a.Start.Month())
	} else {
		a.StartMonth = 0
	}

	a.MaxSeats = form.MaxSeats
	a.AvailableSeats = a.MaxSeats - allocated
	a.UpdatedAt = now
	return nil
}

// BookSeats removes n seats from the available pool.
func (a *Activity) BookSeats(n int) error {
	if a.AvailableSeats < n {
		if a.AvailableSeats > 0 {
			return Faultf(FaultConflict, "there are only %d seats available", a.AvailableSeats)
		}
		return Faultf(FaultConflict, "there are no seats available")
	}
	a.AvailableSeats -= n
	return nil
}

// ReleaseSeats returns n seats to the available pool. The pool can never grow
// past MaxSeats.
func (a *Activity) ReleaseSeats(n int) error {
	if a.AvailableSeats+n > a.MaxSeats {
		return Faultf(FaultConflict, "the number of seats would exceed the capacity")
	}
	a.AvailableSeats += n
	return nil
}

// Summary renders a plain-text snapshot of the activity for confirmation
// mails. Empty fields are omitted.
func (a *Activity) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", a.Name)
	if a.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", a.Location)
	}
	if len(a.Topics) > 0 {
		b.WriteString("Topics:\n")
		for _, topic := range a.Topics {
			fmt.Fprintf(&b, "\t%s\n", topic)
		}
	}
	if a.Start != nil {
		fmt.Fprintf(&b, "Start: %s\n", a.Start.Format(time.RFC1123))
	}
	if a.End != nil {
		fmt.Fprintf(&b, "End: %s\n", a.End.Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "Max seats: %d\n", a.MaxSeats)
	return b.String()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
