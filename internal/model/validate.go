package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidAlert is wrapped by every ValidationError.
var ErrInvalidAlert = errors.New("invalid alert")

// ValidationError reports the first field of an alert that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAlert }

// TimeLayout is the 24-hour clock format alerts are stored in.
const TimeLayout = "15:04"

type alertRules struct {
	UserID    string  `validate:"required,number"`
	Route     *string `validate:"omitempty,min=1,max=32,singleline"`
	Time      *string `validate:"omitempty,clock"`
	Direction *string `validate:"omitempty,oneof=in out"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func alertValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(TimeLayout, fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
			return !strings.ContainsAny(fl.Field().String(), "\r\n")
		})
		validate = v
	})
	return validate
}

// ValidateAlert checks that an alert conforms before it is persisted.
func ValidateAlert(a Alert) error {
	rules := alertRules{UserID: a.UserID, Route: a.Route, Time: a.Time}
	if a.Direction != nil {
		d := string(*a.Direction)
		rules.Direction = &d
	}

	err := alertValidator().Struct(rules)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidAlert, err)
}

// ParseDirection parses a direction case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionIn:
		return DirectionIn, nil
	case DirectionOut:
		return DirectionOut, nil
	}
	return "", &ValidationError{Field: "direction", Message: fmt.Sprintf("%q is not IN or OUT", s)}
}
