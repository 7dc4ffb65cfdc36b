package types

import "time"

// Medicine represents one treatment a user needs to take, with its daily
// reminder schedule and per-slot taken state.
type Medicine struct {
	// ID is the unique identifier of the medicine, assigned by the store.
	ID int `json:"id" db:"id"`

	// UserID references the owning user. It is nil for medicines created
	// without an authenticated caller; ownership is assigned once at
	// creation and never reassigned.
	UserID *int `json:"user" db:"user_id"`

	// Name is the human-readable name of the medicine.
	Name string `json:"name" db:"name"`

	// Times is the ordered list of reminder times within a single day,
	// e.g. ["07:00", "12:00", "18:00"]. The same schedule repeats daily
	// for the treatment duration.
	Times []string `json:"times" db:"times"`

	// Posology is a free-text dosage description, e.g. "1 tablet".
	Posology string `json:"posology" db:"posology"`

	// Duration is how many days the treatment lasts. Always positive.
	Duration int `json:"duration" db:"duration"`

	// StartDate is the day the treatment began. Set once at creation,
	// immutable thereafter.
	StartDate Date `json:"start_date" db:"start_date"`

	// TakenTimes maps a time slot to whether its dose was taken. The map
	// is sparse: an absent key means not taken.
	TakenTimes map[string]bool `json:"taken_times" db:"taken_times"`

	// LastNotified maps a time slot to the last time an external notifier
	// reminded the user about it. Dose operations never touch it.
	LastNotified map[string]time.Time `json:"last_notified" db:"last_notified"`

	// Completed marks the whole treatment as finished. Once true it is
	// never reset by any exposed operation.
	Completed bool `json:"completed" db:"completed"`

	// CreatedAt is the timestamp at which the medicine was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the medicine.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
