package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"meetbook/internal/domain"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarService answers free/busy queries and creates events.
type CalendarService struct {
	service  *calendar.Service
	timezone string
}

func NewCalendarService(ctx context.Context, timezone string, opts ...option.ClientOption) (*CalendarService, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return &CalendarService{service: srv, timezone: timezone}, nil
}

// IsFree reports whether calendarID has no busy block overlapping [start, end).
// A calendar the API could not read is an error, never free.
func (c *CalendarService) IsFree(ctx context.Context, calendarID string, start, end time.Time) (bool, error) {
	req := &calendar.FreeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: c.timezone,
		Items:    []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}

	resp, err := c.service.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return false, fmt.Errorf("freebusy response has no calendar %q", calendarID)
	}
	if len(cal.Errors) > 0 {
		reasons := make([]string, 0, len(cal.Errors))
		for _, e := range cal.Errors {
			reasons = append(reasons, e.Reason)
		}
		return false, fmt.Errorf("freebusy calendar %q: %s", calendarID, strings.Join(reasons, ", "))
	}

	return len(cal.Busy) == 0, nil
}

// CreateEvent inserts the event and invites the attendee.
func (c *CalendarService) CreateEvent(ctx context.Context, calendarID string, event domain.EventRequest) (string, error) {
	body := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
	}
	if event.AttendeeEmail != "" {
		body.Attendees = []*calendar.EventAttendee{{Email: event.AttendeeEmail}}
	}

	created, err := c.service.Events.Insert(calendarID, body).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}
