package appointment

import (
	"errors"
	"time"
)

var (
	ErrCorrupt = errors.New("appointment store is corrupt")
	ErrOverlap = errors.New("appointment overlaps an existing one on the same agenda")
)

// Repository is the local cache of booked appointments. Implementations
// persist the whole set on every write; a failed write leaves the previous
// set in place.
type Repository interface {
	FindByDate(date time.Time) ([]Appointment, error)
	FindByPatient(ref PatientRef) ([]Appointment, error)
	All() ([]Appointment, error)

	Insert(a Appointment) (Appointment, error)
	Update(match Predicate, mutate func(*Appointment)) (int, error)
	Delete(match Predicate) (int, error)

	// Replace overwrites the cache, used after a full remote extraction.
	Replace(list []Appointment) error
	PruneBefore(date time.Time) (int, error)
	// LastRebuilt is the time of the latest Replace by any process.
	LastRebuilt() (time.Time, error)
}
