// Package patient is the clinic's patient directory.
package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Source stores directory records.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
	Add(ctx context.Context, r Record) error
}

// Directory looks patients up by identifier or email. Lookups never pick
// between patients sharing an email.
type Directory struct {
	src      Source
	validate *validator.Validate
	logger   *zap.Logger
}

func NewDirectory(src Source, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{src: src, validate: validator.New(), logger: logger}
}

// Lookup returns every record whose identifier or email equals token,
// ignoring case. No match is not an error.
func (d *Directory) Lookup(ctx context.Context, token string) ([]Record, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	all, err := d.src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	var out []Record
	for _, r := range all {
		if strings.EqualFold(r.ID, token) || strings.EqualFold(r.Email, token) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Find returns the single patient for token, ErrNotFound, or an
// *AmbiguousError.
func (d *Directory) Find(ctx context.Context, token string) (Record, error) {
	matches, err := d.Lookup(ctx, token)
	if err != nil {
		return Record{}, err
	}
	switch len(matches) {
	case 0:
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, token)
	case 1:
		return matches[0], nil
	default:
		return Record{}, &AmbiguousError{Token: token, Matches: matches}
	}
}

// Register validates r and adds it. A shared email is allowed and reported
// back as a warning; a repeated identifier is rejected.
func (d *Directory) Register(ctx context.Context, r Record) (warnings []string, err error) {
	r = r.normalized()
	if err := d.validate.Struct(r); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}

	all, err := d.src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for _, existing := range all {
		if strings.EqualFold(existing.ID, r.ID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		if strings.EqualFold(existing.Email, r.Email) {
			warnings = append(warnings, fmt.Sprintf("email %s is already used by patient %s", r.Email, existing.ID))
		}
	}

	if err := d.src.Add(ctx, r); err != nil {
		return nil, fmt.Errorf("add patient: %w", err)
	}
	d.logger.Info("patient registered",
		zap.String("patient_id", r.ID),
		zap.Int("warnings", len(warnings)),
	)
	return warnings, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "contains":
			msgs = append(msgs, fe.Field()+" is not an email address")
		default:
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
		}
	}
	return strings.Join(msgs, ", ")
}
