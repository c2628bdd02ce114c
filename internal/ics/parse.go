package ics

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

// ErrParse marks a structurally invalid ICS document. A corrupt calendar
// document cannot be partially trusted, so the whole sync aborts on it.
var ErrParse = errors.New("ics parse failed")

// ParsedEvent is the normalized representation of one VEVENT. Start/end are
// expressed both as instants in the target timezone and as the wall-clock
// (date, time, all-day) triple the store persists.
type ParsedEvent struct {
	UID          string
	SyntheticUID bool // true when the feed omitted UID; not stable across syncs

	Title       string
	Description string
	Location    string

	Start     time.Time
	End       time.Time
	StartDate string // 2006-01-02
	StartTime string // 15:04:05
	EndDate   string
	EndTime   string
	AllDay    bool

	Categories   []string
	LastModified *time.Time
	SourceTZ     string

	// Cancelled is set for STATUS:CANCELLED events or when the enclosing
	// calendar carries METHOD:CANCEL.
	Cancelled bool
}

// Parser turns raw ICS text into normalized events. All timestamps are
// reprojected into Location.
type Parser struct {
	Location *time.Location
}

// NewParser creates a Parser normalizing into loc.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{Location: loc}
}

// Parse decodes icsText into a sequence of ParsedEvents. Malformed
// individual properties are tolerated (logged and defaulted); a document
// that does not decode at all fails with ErrParse.
func (p *Parser) Parse(icsText string) ([]ParsedEvent, error) {
	cal, err := ical.NewDecoder(strings.NewReader(icsText)).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	methodCancel := false
	if method := cal.Props.Get("METHOD"); method != nil {
		methodCancel = strings.EqualFold(strings.TrimSpace(method.Value), "CANCEL")
	}

	var events []ParsedEvent
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		event, err := p.parseVEvent(comp, methodCancel)
		if err != nil {
			// Skip this event but keep parsing the rest.
			log.Printf("Warning: skipping unparseable VEVENT: %v", err)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func (p *Parser) parseVEvent(vevent *ical.Component, methodCancel bool) (ParsedEvent, error) {
	event := ParsedEvent{Cancelled: methodCancel}

	if uid := vevent.Props.Get(ical.PropUID); uid != nil && uid.Value != "" {
		event.UID = uid.Value
	} else {
		event.UID = uuid.NewString()
		event.SyntheticUID = true
	}

	event.Title = "No title"
	if summary := vevent.Props.Get(ical.PropSummary); summary != nil && summary.Value != "" {
		event.Title = summary.Value
	}
	if desc := vevent.Props.Get(ical.PropDescription); desc != nil {
		event.Description = desc.Value
	}
	if loc := vevent.Props.Get(ical.PropLocation); loc != nil {
		event.Location = loc.Value
	}

	if status := vevent.Props.Get(ical.PropStatus); status != nil {
		if strings.EqualFold(strings.TrimSpace(status.Value), "CANCELLED") {
			event.Cancelled = true
		}
	}

	// CATEGORIES may repeat and each occurrence may hold a comma list.
	for _, prop := range vevent.Props.Values(ical.PropCategories) {
		for _, name := range strings.Split(prop.Value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				event.Categories = append(event.Categories, name)
			}
		}
	}

	if lm := vevent.Props.Get(ical.PropLastModified); lm != nil {
		// LAST-MODIFIED is UTC per RFC 5545; tolerate anything else.
		if t, err := lm.DateTime(time.UTC); err == nil {
			lastModified := t.In(p.Location)
			event.LastModified = &lastModified
		}
	}

	dtstart := vevent.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return event, errors.New("missing DTSTART")
	}
	if tz := dtstart.Params.Get(ical.ParamTimezoneID); tz != "" {
		event.SourceTZ = tz
	}

	start, allDay, err := p.resolveDateTime(dtstart)
	if err != nil {
		return event, fmt.Errorf("bad DTSTART: %w", err)
	}
	event.Start = start
	event.AllDay = allDay

	end := start
	if dtend := vevent.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		if t, _, err := p.resolveDateTime(dtend); err == nil {
			end = t
		} else {
			log.Printf("Warning: bad DTEND on %q, using DTSTART: %v", event.Title, err)
		}
	}
	event.End = end

	event.StartDate = event.Start.Format("2006-01-02")
	event.EndDate = event.End.Format("2006-01-02")
	if allDay {
		// All-day events store midnight; past-checks treat the effective
		// end as 23:59:59.
		event.StartTime = "00:00:00"
		event.EndTime = "00:00:00"
	} else {
		event.StartTime = event.Start.Format("15:04:05")
		event.EndTime = event.End.Format("15:04:05")
	}

	return event, nil
}

// resolveDateTime turns a DTSTART/DTEND property into an instant in the
// target timezone. Zone-less and UTC values are read as UTC wall-clock and
// then reprojected; values with an explicit TZID keep their zone's instant.
func (p *Parser) resolveDateTime(prop *ical.Prop) (time.Time, bool, error) {
	if strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE") || !strings.Contains(prop.Value, "T") {
		t, err := time.ParseInLocation("20060102", strings.TrimSpace(prop.Value), p.Location)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}

	t, err := prop.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.In(p.Location), false, nil
}
