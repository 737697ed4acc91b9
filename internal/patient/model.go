package patient

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound    = errors.New("patient not found")
	ErrAmbiguous   = errors.New("several patients match")
	ErrDuplicateID = errors.New("patient identifier already registered")
	ErrInvalid     = errors.New("invalid patient record")
)

// Record is one row of the clinic's patient directory. ID is the national
// identifier and is unique.
type Record struct {
	ID         string `json:"id" validate:"required"`
	GivenName  string `json:"given_name" validate:"required"`
	FamilyName string `json:"family_name" validate:"required"`
	Email      string `json:"email" validate:"required,contains=@"`
	Phone      string `json:"phone" validate:"required"`
}

// FullName is the display name used on agenda bookings.
func (r Record) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(r.GivenName) + " " + strings.TrimSpace(r.FamilyName))
}

func (r Record) normalized() Record {
	return Record{
		ID:         strings.TrimSpace(r.ID),
		GivenName:  strings.TrimSpace(r.GivenName),
		FamilyName: strings.TrimSpace(r.FamilyName),
		Email:      strings.TrimSpace(r.Email),
		Phone:      strings.TrimSpace(r.Phone),
	}
}

// Candidate is one entry of a disambiguation list. Index is 1-based.
type Candidate struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
}

// AmbiguousError lists the patients sharing a lookup token. Callers must
// ask the operator to pick one; see Choose.
type AmbiguousError struct {
	Token   string
	Matches []Record
}

func (e *AmbiguousError) Error() string {
	ids := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		ids[i] = m.ID
	}
	return fmt.Sprintf("%d patients match %q: %s", len(e.Matches), e.Token, strings.Join(ids, ", "))
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguous }

// Candidates returns the disambiguation list shown to the operator.
func (e *AmbiguousError) Candidates() []Candidate {
	out := make([]Candidate, len(e.Matches))
	for i, m := range e.Matches {
		out[i] = Candidate{Index: i + 1, ID: m.ID}
	}
	return out
}

// Choose resolves an ambiguity from the operator's answer: a 1-based index
// or an exact identifier.
func Choose(amb *AmbiguousError, selection string) (Record, error) {
	selection = strings.TrimSpace(selection)
	if n, err := strconv.Atoi(selection); err == nil {
		if n >= 1 && n <= len(amb.Matches) {
			return amb.Matches[n-1], nil
		}
	}
	for _, m := range amb.Matches {
		if strings.EqualFold(m.ID, selection) {
			return m, nil
		}
	}
	return Record{}, fmt.Errorf("%w: no candidate %q", ErrNotFound, selection)
}
