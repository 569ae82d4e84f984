// Package validate installs go-playground/validator as the echo validator.
package validate

import (
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var timeOfDayPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var messages = map[string]string{
	"required":      "is required",
	"uuid":          "must be a UUID",
	"oneof":         "must be one of: %s",
	"min":           "must be at least %s",
	"max":           "must be at most %s",
	"url":           "must be a URL",
	"time_of_day":   "must be a time in HH:MM format",
	"calendar_date": "must be a date in YYYY-MM-DD format",
}

// Validator adapts *validator.Validate to echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("time_of_day", func(fl validator.FieldLevel) bool {
		return timeOfDayPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("calendar_date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
	return &Validator{v: v}
}

// Validate returns a 400 echo.HTTPError describing the first failing field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	first := verrs[0]
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
		"error":   "validation_error",
		"field":   first.Field(),
		"message": first.Field() + " " + Message(first),
	})
}

// Message renders a human readable reason for one field error.
func Message(fe validator.FieldError) string {
	msg, ok := messages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		param := fe.Param()
		if fe.Tag() == "oneof" {
			param = strings.Join(strings.Fields(param), ", ")
		}
		msg = strings.Replace(msg, "%s", param, 1)
	}
	return msg
}
