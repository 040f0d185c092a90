// File: internal/processor/validator.go
package processor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// maxClockSkew is how far a reading may lie in the future
const maxClockSkew = 5 * time.Minute

// ReadingValidator checks decoded readings
type ReadingValidator struct {
	validate *validator.Validate
	now      func() time.Time
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []*ValidationError `json:"errors,omitempty"`
}

// NewReadingValidator creates a validator with the reading rules registered
func NewReadingValidator() *ReadingValidator {
	rv := &ReadingValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	_ = rv.validate.RegisterValidation("notfuture", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		if !ok {
			return false
		}
		return !t.After(rv.now().Add(maxClockSkew))
	})
	return rv
}

// ValidateReading validates a reading and combines all failures into one
// AppError
func (rv *ReadingValidator) ValidateReading(r *models.GlucoseReading) error {
	result := rv.ValidateReadingDetailed(r)
	if result.Valid {
		return nil
	}

	var messages []string
	for _, e := range result.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return utils.NewAppError(utils.ErrCodeValidation, "Reading validation failed", strings.Join(messages, "; "))
}

// ValidateReadingDetailed returns every failing field
func (rv *ReadingValidator) ValidateReadingDetailed(r *models.GlucoseReading) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if r == nil {
		result.Valid = false
		result.Errors = append(result.Errors, &ValidationError{Field: "reading", Type: "required", Message: "reading is nil"})
		return result
	}

	err := rv.validate.Struct(r)
	if err == nil {
		return result
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		result.Valid = false
		result.Errors = append(result.Errors, &ValidationError{Field: "reading", Type: "invalid", Message: err.Error()})
		return result
	}

	result.Valid = false
	for _, fe := range verrs {
		result.Errors = append(result.Errors, &ValidationError{
			Field:   fe.Field(),
			Type:    fe.Tag(),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return result
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notfuture":
		return "lies in the future"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "is longer than " + fe.Param()
	}
	return "failed " + fe.Tag()
}
