package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/go-playground/validator/v10"
)

// CreateInput is a meeting request as extracted by the front end.
type CreateInput struct {
	RequesterName   string `json:"requester_name" validate:"required,max=200"`
	RequesterEmail  string `json:"requester_email" validate:"required,email,max=254"`
	MeetingDate     string `json:"meeting_date" validate:"required,datetime=2006-01-02"`
	MeetingTime     string `json:"meeting_time" validate:"required,len=5,datetime=15:04"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1"`
	Purpose         string `json:"purpose" validate:"max=2000"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (in *CreateInput) normalize() {
	in.RequesterName = strings.TrimSpace(in.RequesterName)
	in.RequesterEmail = strings.TrimSpace(in.RequesterEmail)
	in.MeetingDate = strings.TrimSpace(in.MeetingDate)
	in.MeetingTime = strings.TrimSpace(in.MeetingTime)
	in.Purpose = strings.TrimSpace(in.Purpose)
}

// validateCreate checks every field and derives the meeting interval.
// No external call happens unless this returns nil.
func (s *BookingService) validateCreate(in CreateInput) (time.Time, time.Time, error) {
	verr := &domain.ValidationError{}

	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return time.Time{}, time.Time{}, fmt.Errorf("validate input: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), reason(fe))
		}
	}

	if in.DurationMinutes > s.cfg.MaxDurationMinutes {
		verr.Add("duration_minutes", fmt.Sprintf("must be at most %d", s.cfg.MaxDurationMinutes))
	}

	if verr.HasErrors() {
		return time.Time{}, time.Time{}, verr
	}

	req := models.BookingRequest{MeetingDate: in.MeetingDate, MeetingTime: in.MeetingTime, DurationMinutes: in.DurationMinutes}
	start, end, err := req.Interval(s.cfg.Location)
	if err != nil {
		verr.Add("meeting_time", "cannot be interpreted")
		return time.Time{}, time.Time{}, verr
	}
	// Wall-clock times skipped by a DST change normalize to a different hour.
	if start.Format(models.DateTimeLayout) != in.MeetingDate+" "+in.MeetingTime {
		verr.Add("meeting_time", "does not exist in "+s.cfg.Location.String())
		return time.Time{}, time.Time{}, verr
	}

	return start, end, nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "datetime":
		if fe.Param() == "15:04" {
			return "must be HH:MM"
		}
		return "must be YYYY-MM-DD"
	case "len":
		return "must be HH:MM"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
