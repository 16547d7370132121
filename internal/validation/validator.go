// Package validation checks book records using the validator/v10 library and
// converts failures into domain validation errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/listenupapp/bookstream/internal/domain"
	domainerrors "github.com/listenupapp/bookstream/internal/errors"
)

// ErrNoChanges is returned by ValidateUpdate when the input carries no fields.
var ErrNoChanges = domainerrors.Validation("at least one field must be provided")

// ErrInvalidID is returned for empty book ids.
var ErrInvalidID = domainerrors.Validation("book id is required")

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock used for the publication year upper bound.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a validator configured for book records.
func New(opts ...Option) *Validator {
	out := &Validator{v: validator.New(), now: time.Now}
	for _, opt := range opts {
		opt(out)
	}

	// Use JSON tag names in error messages.
	out.v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// Upper bound for publication years moves with the calendar.
	_ = out.v.RegisterValidation("maxyear", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() <= int64(out.maxYear())
	})

	return out
}

func (v *Validator) maxYear() int {
	return v.now().Year() + domain.PublishedYearLead
}

// createRules mirrors domain.BookInput for create requests.
type createRules struct {
	Title         string `json:"title" validate:"required,max=200"`
	Author        string `json:"author" validate:"required,max=100"`
	Description   string `json:"description" validate:"max=2000"`
	PublishedYear int32  `json:"published_year" validate:"omitempty,gte=1000,maxyear"`
}

// updateRules mirrors domain.BookInput for update requests; absent fields are skipped.
type updateRules struct {
	Title         *string `json:"title" validate:"omitempty,min=1,max=200"`
	Author        *string `json:"author" validate:"omitempty,min=1,max=100"`
	Description   *string `json:"description" validate:"omitempty,max=2000"`
	PublishedYear *int32  `json:"published_year" validate:"omitempty,gte=1000,maxyear"`
}

// Validate validates a struct and returns a domain error.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// ValidateCreate trims the input and checks it as a new record. Title and
// author are required.
func (v *Validator) ValidateCreate(in domain.BookInput) (domain.BookInput, error) {
	in = in.Normalize()

	rules := createRules{
		Title:       deref(in.Title),
		Author:      deref(in.Author),
		Description: deref(in.Description),
	}
	if in.PublishedYear != nil {
		rules.PublishedYear = *in.PublishedYear
	}
	if err := v.Validate(rules); err != nil {
		return domain.BookInput{}, err
	}
	return in, nil
}

// ValidateUpdate trims the input and checks each provided field. At least one
// field must be present.
func (v *Validator) ValidateUpdate(in domain.BookInput) (domain.BookInput, error) {
	in = in.Normalize()
	if in.IsEmpty() {
		return domain.BookInput{}, ErrNoChanges
	}

	rules := updateRules{
		Title:         in.Title,
		Author:        in.Author,
		Description:   in.Description,
		PublishedYear: in.PublishedYear,
	}
	// omitempty would skip an explicitly provided empty title or author.
	if in.Title != nil && *in.Title == "" {
		return domain.BookInput{}, domainerrors.ValidationWithDetails("validation failed", map[string]string{"title": "is required"})
	}
	if in.Author != nil && *in.Author == "" {
		return domain.BookInput{}, domainerrors.ValidationWithDetails("validation failed", map[string]string{"author": "is required"})
	}
	if err := v.Validate(rules); err != nil {
		return domain.BookInput{}, err
	}
	return in, nil
}

// ValidateID checks a book id. Ids are opaque; only emptiness is rejected.
func (v *Validator) ValidateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatError converts validator errors to domain errors.
func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string)
	for _, e := range validationErrs {
		fieldErrors[e.Field()] = v.friendlyMessage(e)
	}

	return domainerrors.ValidationWithDetails("validation failed", fieldErrors)
}

func (v *Validator) friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "maxyear":
		return fmt.Sprintf("must not be later than %d", v.maxYear())
	default:
		return "is invalid"
	}
}
