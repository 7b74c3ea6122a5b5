package models

import (
	"fmt"
	"time"
)

// RideStatus is the lifecycle state of a ride offer.
type RideStatus string

const (
	RideActive    RideStatus = "active"
	RidePending   RideStatus = "pending" // draft awaiting owner activation
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

// RequestStatus is the lifecycle state of a join request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestRejected || s == RequestCancelled
}

// Outstanding reports whether the request still counts against the
// one-outstanding-request-per-rider rule. Accepted requests do: the rider
// holds a seat until the request reaches Rejected or Cancelled.
func (s RequestStatus) Outstanding() bool {
	return s == RequestPending || s == RequestAccepted
}

// User is the identity supplied by the session provider.
type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	OfficeLocation string `json:"office_location,omitempty"`
}

// Ride is an offered carpool trip, one-off or daily-recurring.
// Version backs optimistic concurrency: every store mutation increments it.
type Ride struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	OwnerName      string     `json:"owner_name,omitempty"`
	OwnerPhone     string     `json:"owner_phone,omitempty"`
	StartLocation  string     `json:"start_location"`
	Destination    string     `json:"destination"`
	DepartureTime  string     `json:"departure_time"`       // "HH:MM" time of day
	DepartsAt      *time.Time `json:"departs_at,omitempty"` // full timestamp, one-off rides only
	IsRecurring    bool       `json:"is_recurring"`
	TotalSeats     int        `json:"total_seats"`
	AvailableSeats int        `json:"available_seats"`
	PricePerSeat   *float64   `json:"price_per_seat,omitempty"`
	Rating         float64    `json:"rating,omitempty"` // 0..5, 0 means unrated
	Notes          string     `json:"notes,omitempty"`
	Status         RideStatus `json:"status"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// JoinRequest is a seeker's claim on one seat of a ride.
type JoinRequest struct {
	ID          string        `json:"id"`
	RideID      string        `json:"ride_id"`
	RequesterID string        `json:"requester_id"`
	Status      RequestStatus `json:"status"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"` // first-come-first-served tie-break
	UpdatedAt   time.Time     `json:"updated_at"`
}

// RideDraft is the ride-offer submission payload.
type RideDraft struct {
	StartLocation string   `json:"start_location"`
	Destination   string   `json:"destination"`
	DepartureTime string   `json:"departure_time"`           // "HH:MM"
	DepartureDate string   `json:"departure_date,omitempty"` // "2006-01-02", one-off rides
	TotalSeats    int      `json:"total_seats"`
	IsRecurring   bool     `json:"is_recurring"`
	PricePerSeat  *float64 `json:"price_per_seat,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
	maxSeats    = 8
)

// Validate checks the draft against the creation rules and, for one-off
// rides, resolves the full departure timestamp (date defaults to today).
func (d RideDraft) Validate(now time.Time) (*time.Time, error) {
	if d.StartLocation == "" {
		return nil, &ValidationError{Field: "start_location", Reason: "must not be empty"}
	}
	if d.Destination == "" {
		return nil, &ValidationError{Field: "destination", Reason: "must not be empty"}
	}
	if d.DepartureTime == "" {
		return nil, &ValidationError{Field: "departure_time", Reason: "must not be empty"}
	}
	clock, err := time.Parse(clockLayout, d.DepartureTime)
	if err != nil {
		return nil, &ValidationError{Field: "departure_time", Reason: "must be HH:MM"}
	}
	if d.TotalSeats < 1 || d.TotalSeats > maxSeats {
		return nil, &ValidationError{Field: "total_seats", Reason: fmt.Sprintf("must be between 1 and %d", maxSeats)}
	}
	if d.PricePerSeat != nil && *d.PricePerSeat < 0 {
		return nil, &ValidationError{Field: "price_per_seat", Reason: "must not be negative"}
	}
	if d.IsRecurring {
		return nil, nil
	}
	day := now
	if d.DepartureDate != "" {
		day, err = time.ParseInLocation(dateLayout, d.DepartureDate, now.Location())
		if err != nil {
			return nil, &ValidationError{Field: "departure_date", Reason: "must be YYYY-MM-DD"}
		}
	}
	departs := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !departs.After(now) {
		return nil, &ValidationError{Field: "departure_time", Reason: "departure is in the past"}
	}
	return &departs, nil
}

// SearchQuery holds the optional ride discovery filters. MaxPrice stays raw:
// a value that does not parse as a number is ignored, never an error.
type SearchQuery struct {
	StartLocation string `json:"start_location,omitempty"`
	Destination   string `json:"destination,omitempty"`
	DepartureTime string `json:"departure_time,omitempty"`
	MaxPrice      string `json:"max_price,omitempty"`
}

// Ride lifecycle event types published to Kafka.
const (
	EventRideCreated   = "ride_created"
	EventRideUpdated   = "ride_updated"
	EventRideCancelled = "ride_cancelled"
	EventRideCompleted = "ride_completed"
)

// RideEvent is the message shape on the ride-events topic.
type RideEvent struct {
	Type string    `json:"type"`
	Ride Ride      `json:"ride"`
	At   time.Time `json:"at"`
}

// Notification is pushed to connected users over websocket.
type Notification struct {
	Type      string `json:"type"`
	RideID    string `json:"ride_id"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

// ValidationError reports a malformed field on create/submit input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
