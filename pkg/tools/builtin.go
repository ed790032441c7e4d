package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
)

// Clock lets tests pin the notion of now
type Clock func() time.Time

// Builtin constructs the standard tool set wired to the given services
func Builtin(logger *logrus.Logger, calendar Calendar, messenger Messenger, bookings Bookings, control CallControl, now Clock) []Tool {
	if now == nil {
		now = time.Now
	}
	return []Tool{
		&checkAvailabilityTool{calendar: calendar, now: now},
		&bookMeetingTool{logger: logger, calendar: calendar, messenger: messenger, now: now},
		&sendBookingLinkTool{logger: logger, bookings: bookings, messenger: messenger, now: now},
		&requestCallbackTool{now: now},
		&endCallTool{},
		&addNoteTool{},
		&transferCallTool{control: control},
	}
}

type checkAvailabilityTool struct {
	calendar Calendar
	now      Clock
}

type checkAvailabilityArgs struct {
	Day string `json:"day"`
}

func (t *checkAvailabilityTool) Name() string { return "check_availability" }

func (t *checkAvailabilityTool) Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error) {
	var in checkAvailabilityArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", errors.Wrap(err, "invalid check_availability arguments")
	}
	if in.Day == "" {
		in.Day = "tomorrow"
	}

	date := parseDay(t.now(), in.Day)
	info, err := t.calendar.AvailabilityInfo(ctx, date)
	if err != nil {
		// Degrade to a conversational nudge instead of derailing the call
		return "I can check availability - what day works best for you?", nil
	}

	dayName := date.Format("Monday, January 2")
	if len(info.Available) == 0 {
		if len(info.Busy) > 0 {
			return fmt.Sprintf("No available slots on %s. Already booked: %s. Try another day.",
				dayName, formatBusy(info.Busy, false)), nil
		}
		return fmt.Sprintf("No available slots on %s. Try another day.", dayName), nil
	}

	slots := make([]string, 0, 6)
	for i, slot := range info.Available {
		if i == 6 {
			break
		}
		slots = append(slots, slot.Format("3:04 PM"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CALENDAR FOR %s:\n", dayName)
	if len(info.Busy) > 0 {
		fmt.Fprintf(&b, "BUSY: %s\n", formatBusy(info.Busy, true))
	} else {
		b.WriteString("BUSY: Nothing scheduled\n")
	}
	fmt.Fprintf(&b, "AVAILABLE: %s", strings.Join(slots, ", "))
	if extra := len(info.Available) - 6; extra > 0 {
		fmt.Fprintf(&b, " (and %d more slots)", extra)
	}
	return b.String(), nil
}

func formatBusy(busy []BusySlot, withTitle bool) string {
	parts := make([]string, 0, len(busy))
	for _, slot := range busy {
		if withTitle {
			parts = append(parts, fmt.Sprintf("%s-%s (%s)", slot.Start, slot.End, slot.Title))
		} else {
			parts = append(parts, fmt.Sprintf("%s-%s", slot.Start, slot.End))
		}
	}
	return strings.Join(parts, ", ")
}

type bookMeetingTool struct {
	logger    *logrus.Logger
	calendar  Calendar
	messenger Messenger
	now       Clock
}

type bookMeetingArgs struct {
	Day          string `json:"day"`
	Time         string `json:"time"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
}

func (t *bookMeetingTool) Name() string { return "book_meeting" }

func (t *bookMeetingTool) Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error) {
	var in bookMeetingArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", errors.Wrap(err, "invalid book_meeting arguments")
	}

	meetingTime := ParseMeetingTime(t.now(), in.Day, in.Time)

	call.SetContact(in.ContactName, in.ContactEmail)
	call.SetMeetingTime(meetingTime)
	call.SetOutcome(OutcomeMeetingBooked)
	call.AddNote(fmt.Sprintf("Meeting booked: %s at %s with %s (%s)", in.Day, in.Time, in.ContactName, in.ContactEmail))

	eventID, err := t.calendar.CreateMeeting(ctx, Meeting{
		Title:         "Intro Call - " + in.ContactName,
		Start:         meetingTime,
		Duration:      15 * time.Minute,
		AttendeeName:  in.ContactName,
		AttendeeEmail: in.ContactEmail,
		Description:   fmt.Sprintf("Discovery call with %s from %s.", in.ContactName, call.Business),
	})
	if err != nil {
		// The verbal commitment stands even if the invite fails
		t.logger.WithField("error", err).Warn("Calendar event creation failed")
	} else {
		call.AddNote("Calendar event created: " + eventID)
	}

	timeStr := meetingTime.Format("Monday, January 2 at 3:04 PM")
	sms := fmt.Sprintf("Hi %s! Your meeting is confirmed for %s. A calendar invite is on its way to %s.",
		in.ContactName, timeStr, in.ContactEmail)
	if err := t.messenger.SendSMS(ctx, call.PhoneNumber, sms); err != nil {
		t.logger.WithField("error", err).Warn("Confirmation SMS failed")
	} else {
		call.AddNote("SMS confirmation sent")
	}

	return fmt.Sprintf("Meeting successfully booked for %s at %s. Calendar invite will be sent to %s.",
		in.Day, in.Time, in.ContactEmail), nil
}

type sendBookingLinkTool struct {
	logger    *logrus.Logger
	bookings  Bookings
	messenger Messenger
	now       Clock
}

type sendBookingLinkArgs struct {
	Day         string `json:"day"`
	Time        string `json:"time"`
	ContactName string `json:"contact_name"`
}

func (t *sendBookingLinkTool) Name() string { return "send_booking_link" }

func (t *sendBookingLinkTool) Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error) {
	var in sendBookingLinkArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", errors.Wrap(err, "invalid send_booking_link arguments")
	}

	proposed := ParseMeetingTime(t.now(), in.Day, in.Time)

	link, err := t.bookings.CreatePendingBooking(ctx, call.CallSID, call.PhoneNumber, proposed)
	if err != nil {
		return "", errors.Wrap(err, "failed to create booking link")
	}

	timeStr := proposed.Format("Monday at 3:04 PM")
	sms := fmt.Sprintf("Hi %s! Here's your booking link for our meeting on %s: %s. Just pop in your email and you're all set.",
		in.ContactName, timeStr, link.URL)
	if err := t.messenger.SendSMS(ctx, call.PhoneNumber, sms); err != nil {
		return "I had trouble sending the link. Let me get your email instead.", nil
	}

	call.AddNote("Booking link sent: " + link.ID)
	call.SetOutcome(OutcomeMeetingBooked)

	return "Booking link sent! Tell them to check their phone.", nil
}

type requestCallbackTool struct {
	now Clock
}

type requestCallbackArgs struct {
	Day    string `json:"day"`
	Time   string `json:"time"`
	Reason string `json:"reason"`
}

func (t *requestCallbackTool) Name() string { return "request_callback" }

func (t *requestCallbackTool) Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error) {
	var in requestCallbackArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", errors.Wrap(err, "invalid request_callback arguments")
	}

	callbackTime := ParseMeetingTime(t.now(), in.Day, in.Time)
	call.SetCallbackTime(callbackTime)
	call.SetOutcome(OutcomeCallbackRequested)

	note := fmt.Sprintf("Callback requested: %s at %s", in.Day, in.Time)
	if in.Reason != "" {
		note += " - " + in.Reason
	}
	call.AddNote(note)

	return fmt.Sprintf("Callback scheduled for %s at %s.", in.Day, in.Time), nil
}

type endCallTool struct{}

type endCallArgs struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

func (t *endCallTool) Name() string { return "end_call" }

func (t *endCallTool) Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error) {
	var in endCallArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", errors.Wrap(err, "invalid end_call arguments")
	}

	if !ValidOutcome(in.Outcome) {
		in.Outcome = OutcomeNotInterested
	}

	call.SetOutcome(in.Outcome)
	call.MarkEnded()
	if in.Notes != "" {
		call.AddNote(in.Notes)
	}

	return "Call ended with outcome: " + in.Outcome, nil
}

type transferCallTool struct {
	control CallControl
}

type transferCallArgs struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

func (t *transferCallTool) Name() string { return "transfer_call" }

func (t *transferCallTool) Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error) {
	var in transferCallArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", errors.Wrap(err, "invalid transfer_call arguments")
	}
	if in.Target == "" {
		return "", errors.New("transfer target is required")
	}

	if err := t.control.Transfer(ctx, call.CallSID, in.Target); err != nil {
		return "", errors.Wrap(err, "transfer failed")
	}

	note := "Call transferred to " + in.Target
	if in.Reason != "" {
		note += " - " + in.Reason
	}
	call.AddNote(note)
	call.MarkEnded()

	return "Transferring the call now.", nil
}

type addNoteTool struct{}

type addNoteArgs struct {
	Note string `json:"note"`
}

func (t *addNoteTool) Name() string { return "add_note" }

func (t *addNoteTool) Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error) {
	var in addNoteArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", errors.Wrap(err, "invalid add_note arguments")
	}

	call.AddNote(in.Note)
	return "Note recorded.", nil
}
