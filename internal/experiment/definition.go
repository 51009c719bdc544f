package experiment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Definition is the caller-supplied shape of a new test.
type Definition struct {
	ID             string              `json:"id"`
	Name           string              `json:"name" validate:"required"`
	Description    string              `json:"description"`
	Variants       []VariantDefinition `json:"variants" validate:"required,min=1,dive"`
	Metrics        []string            `json:"metrics" validate:"required,min=1,dive,required"`
	Priority       int                 `json:"priority"`
	ControlVariant string              `json:"control_variant"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        time.Time           `json:"end_date"`
}

type VariantDefinition struct {
	ID     string         `json:"id" validate:"required"`
	Name   string         `json:"name"`
	Weight int            `json:"weight" validate:"gt=0"`
	Config map[string]any `json:"config"`
}

var validate = validator.New()

// Validate checks field constraints plus the cross-field rules the struct
// tags can't express. All failures wrap ErrInvalidDefinition.
func (d Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	seen := make(map[string]bool, len(d.Variants))
	for _, v := range d.Variants {
		if seen[v.ID] {
			return fmt.Errorf("%w: duplicate variant id %q", ErrInvalidDefinition, v.ID)
		}
		seen[v.ID] = true
	}

	if d.ControlVariant != "" && !seen[d.ControlVariant] {
		return fmt.Errorf("%w: control variant %q is not one of the variants", ErrInvalidDefinition, d.ControlVariant)
	}

	for _, m := range d.Metrics {
		if !IsKnownMetric(m) {
			return fmt.Errorf("%w: unknown metric %q (known: %s)", ErrInvalidDefinition, m, strings.Join(KnownMetrics(), ", "))
		}
	}

	if !d.StartDate.IsZero() && !d.EndDate.IsZero() && !d.EndDate.After(d.StartDate) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidDefinition)
	}

	return nil
}
