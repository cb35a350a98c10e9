// Package booking ingests meeting events from the scheduling provider's
// webhook.
package booking

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	// ErrMissingExternalID is returned when no booking identifier can be found.
	ErrMissingExternalID = errors.New("booking: missing external id")

	// ErrInvalidBody is returned for deliveries that are not JSON.
	ErrInvalidBody = errors.New("booking: invalid JSON body")
)

// Candidate paths, tried in order. Providers nest the booking under
// "payload" or "data" depending on version.
var (
	externalIDPaths   = []string{"payload.uid", "payload.bookingId", "payload.id", "data.uid", "data.id", "uid", "bookingId", "id"}
	startPaths        = []string{"payload.startTime", "payload.start_time", "payload.start", "data.startTime", "startTime", "start_time", "start"}
	endPaths          = []string{"payload.endTime", "payload.end_time", "payload.end", "data.endTime", "endTime", "end_time", "end"}
	attendeeEmailPath = []string{"payload.attendees.0.email", "payload.attendee.email", "payload.email", "data.attendees.0.email", "attendees.0.email", "attendee.email", "email"}
	attendeeNamePath  = []string{"payload.attendees.0.name", "payload.attendee.name", "payload.name", "data.attendees.0.name", "attendees.0.name", "attendee.name", "name"}
	titlePaths        = []string{"payload.title", "payload.eventTitle", "data.title", "title"}
	statusPaths       = []string{"payload.status", "data.status", "status"}
	triggerPaths      = []string{"triggerEvent", "trigger_event", "event", "type"}
)

// Event is the normalized content of a webhook delivery.
type Event struct {
	ExternalID    string
	TriggerEvent  string
	Title         string
	Status        string
	StartTime     *time.Time
	EndTime       *time.Time
	AttendeeEmail string
	AttendeeName  string
}

// Extract pulls booking fields from a webhook body. Only the external id is
// required.
func Extract(body []byte) (*Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidBody
	}
	doc := gjson.ParseBytes(body)

	ev := &Event{
		ExternalID:    firstString(doc, externalIDPaths),
		TriggerEvent:  firstString(doc, triggerPaths),
		Title:         firstString(doc, titlePaths),
		Status:        firstString(doc, statusPaths),
		StartTime:     firstTime(doc, startPaths),
		EndTime:       firstTime(doc, endPaths),
		AttendeeEmail: strings.ToLower(firstString(doc, attendeeEmailPath)),
		AttendeeName:  firstString(doc, attendeeNamePath),
	}
	if ev.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	return ev, nil
}

func firstString(doc gjson.Result, paths []string) string {
	for _, p := range paths {
		v := doc.Get(p)
		if !v.Exists() {
			continue
		}
		switch v.Type {
		case gjson.String, gjson.Number:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstTime(doc gjson.Result, paths []string) *time.Time {
	for _, p := range paths {
		v := doc.Get(p)
		if !v.Exists() {
			continue
		}
		if t, ok := parseTime(v); ok {
			return &t
		}
	}
	return nil
}

func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UTC(), true
			}
		}
	case gjson.Number:
		n := v.Int()
		if n > 1e12 { // milliseconds
			return time.UnixMilli(n).UTC(), true
		}
		if n > 0 {
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// SecretMatches compares the provided secret to the configured one in
// constant time.
func SecretMatches(configured, provided string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) == 1
}
