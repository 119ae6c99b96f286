package event

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Input is untrusted event data from either the API or the admin editor.
// The API path sends Date as "YYYY-MM-DD" and Time as "HH:MM".
// The editor path sets DateValue from a calendar widget and Time as "h:mm AM/PM".
type Input struct {
	Title       string    `json:"title" validate:"required,max=100"`
	Date        string    `json:"date" validate:"event_date"`
	DateValue   time.Time `json:"-"`
	Time        string    `json:"time" validate:"event_time"`
	Description string    `json:"description" validate:"required,max=500"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "event_date", func(fl validator.FieldLevel) bool {
		if in, ok := fl.Parent().Interface().(Input); ok && !in.DateValue.IsZero() {
			return true
		}
		return IsCanonicalDate(fl.Field().String())
	})
	mustRegister(v, "event_time", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return IsDisplayTime(s) || IsCanonicalTime(s)
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Validate checks every field of in and returns the canonical payload.
// PRE: none
// POST: returns a Payload in canonical form, or a *ValidationError listing every violation
func Validate(in Input) (Payload, error) {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Payload{}, err
		}
		out := &ValidationError{}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, fieldError(fe))
		}
		return Payload{}, out
	}

	date := in.Date
	if !in.DateValue.IsZero() {
		date = ToCanonicalDate(in.DateValue)
	}
	clock, err := NormalizeTime(in.Time)
	if err != nil {
		return Payload{}, fmt.Errorf("normalize validated time: %w", err)
	}
	return Payload{
		Title:       in.Title,
		Date:        date,
		Time:        clock,
		Description: in.Description,
	}, nil
}

func fieldError(fe validator.FieldError) FieldError {
	field := fe.Field()
	empty := fe.Value() == ""
	switch {
	case field == "title" && fe.Tag() == "required":
		return FieldError{Field: field, Code: CodeRequired, Message: "Title is required"}
	case field == "title":
		return FieldError{Field: field, Code: CodeTooLong, Message: fmt.Sprintf("Title must be %d characters or less", MaxTitleLength)}
	case field == "description" && fe.Tag() == "required":
		return FieldError{Field: field, Code: CodeRequired, Message: "Description is required"}
	case field == "description":
		return FieldError{Field: field, Code: CodeTooLong, Message: fmt.Sprintf("Description must be %d characters or less", MaxDescriptionLength)}
	case field == "date" && empty:
		return FieldError{Field: field, Code: CodeRequired, Message: "A date is required"}
	case field == "date":
		return FieldError{Field: field, Code: CodeInvalidFormat, Message: "Invalid date format"}
	case field == "time" && empty:
		return FieldError{Field: field, Code: CodeRequired, Message: "A time is required"}
	default:
		return FieldError{Field: field, Code: CodeInvalidFormat, Message: "Invalid time format"}
	}
}
