package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BusySlot is an existing calendar booking
type BusySlot struct {
	Start string
	End   string
	Title string
}

// Availability describes one day on the calendar
type Availability struct {
	Available []time.Time
	Busy      []BusySlot
}

// Meeting is a calendar event to create
type Meeting struct {
	Title         string
	Start         time.Time
	Duration      time.Duration
	AttendeeName  string
	AttendeeEmail string
	Description   string
}

// Calendar provides availability checks and event creation
type Calendar interface {
	AvailabilityInfo(ctx context.Context, date time.Time) (Availability, error)
	CreateMeeting(ctx context.Context, meeting Meeting) (string, error)
}

// Messenger sends text messages to the prospect's phone
type Messenger interface {
	SendSMS(ctx context.Context, to, body string) error
}

// BookingLink is a short-lived form the prospect fills in with their email
type BookingLink struct {
	ID  string
	URL string
}

// Bookings creates pending booking forms for link-based scheduling
type Bookings interface {
	CreatePendingBooking(ctx context.Context, callSID, phoneNumber string, proposed time.Time) (BookingLink, error)
}

// CallControl manipulates the live call leg at the telephony provider
type CallControl interface {
	Transfer(ctx context.Context, callSID, target string) error
}

// MockCalendar serves canned availability for testing and for runs without
// calendar credentials
type MockCalendar struct {
	mu      sync.Mutex
	created []Meeting
}

// NewMockCalendar creates a mock calendar
func NewMockCalendar() *MockCalendar {
	return &MockCalendar{}
}

// AvailabilityInfo returns four fixed slots with lunch blocked out
func (m *MockCalendar) AvailabilityInfo(ctx context.Context, date time.Time) (Availability, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return Availability{
		Available: []time.Time{
			day.Add(9 * time.Hour),
			day.Add(10*time.Hour + 30*time.Minute),
			day.Add(14 * time.Hour),
			day.Add(15*time.Hour + 30*time.Minute),
		},
		Busy: []BusySlot{
			{Start: "12:00 PM", End: "1:00 PM", Title: "Lunch"},
		},
	}, nil
}

// CreateMeeting records the meeting and returns a synthetic event id
func (m *MockCalendar) CreateMeeting(ctx context.Context, meeting Meeting) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, meeting)
	return fmt.Sprintf("mock_event_%d", len(m.created)), nil
}

// Created returns the meetings created so far
func (m *MockCalendar) Created() []Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Meeting, len(m.created))
	copy(out, m.created)
	return out
}

// MockMessenger records outbound messages
type MockMessenger struct {
	mu   sync.Mutex
	sent []string
	err  error
}

// NewMockMessenger creates a mock messenger
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{}
}

// Fail makes subsequent sends return err
func (m *MockMessenger) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SendSMS records the message body
func (m *MockMessenger) SendSMS(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	return nil
}

// Sent returns the message bodies sent so far
func (m *MockMessenger) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// MockBookings issues synthetic booking links
type MockBookings struct {
	mu    sync.Mutex
	count int
}

// NewMockBookings creates a mock booking service
func NewMockBookings() *MockBookings {
	return &MockBookings{}
}

// CreatePendingBooking returns a synthetic link
func (m *MockBookings) CreatePendingBooking(ctx context.Context, callSID, phoneNumber string, proposed time.Time) (BookingLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	id := fmt.Sprintf("booking_%d", m.count)
	return BookingLink{ID: id, URL: "https://example.test/book/" + id}, nil
}

// MockCallControl records transfer requests
type MockCallControl struct {
	mu        sync.Mutex
	transfers []string
	err       error
}

// NewMockCallControl creates a mock call controller
func NewMockCallControl() *MockCallControl {
	return &MockCallControl{}
}

// Fail makes subsequent transfers return err
func (m *MockCallControl) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Transfer records the requested target
func (m *MockCallControl) Transfer(ctx context.Context, callSID, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.transfers = append(m.transfers, target)
	return nil
}

// Transfers returns the targets requested so far
func (m *MockCallControl) Transfers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.transfers))
	copy(out, m.transfers)
	return out
}
