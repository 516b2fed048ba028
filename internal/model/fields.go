package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ReportFields holds the user-entered content of a new report, as collected
// by a form or the CLI.
type ReportFields struct {
	Title       string `validate:"required,max=255"`
	Description string `validate:"max=4000"`
	AreaID      int64  `validate:"required,gt=0"`
	SeverityID  int64  `validate:"required,gt=0"`
	// StatusID defaults to DefaultStatusID when zero.
	StatusID int64 `validate:"gte=0"`
}

// ValidationError reports which fields of a ReportFields value are invalid.
type ValidationError struct {
	Fields []string
	err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid report fields: %s", strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return e.err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize trims whitespace and applies the default status.
func (f *ReportFields) Normalize() {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	if f.StatusID == 0 {
		f.StatusID = DefaultStatusID
	}
}

// Validate checks the struct tags on f and returns a *ValidationError naming
// the offending fields.
func (f *ReportFields) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating report fields: %w", err)
	}
	ve := &ValidationError{err: err}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return ve
}
