package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jssehgal/ride-share-office/internal/models"
)

var (
	// ErrNotFound is returned for a dangling ride or request reference.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by CompareAndUpdate when the stored version
	// no longer matches the caller's expectation.
	ErrConflict = errors.New("version conflict")

	// ErrDuplicate is returned by RequestStore.Create when the rider
	// already holds an outstanding request on the ride.
	ErrDuplicate = errors.New("duplicate outstanding request")
)

// StoreError wraps infrastructure failures (connection loss, bad rows) so
// callers can tell "the system is unavailable" apart from business errors.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// RideStore is the authoritative mapping from ride id to ride record.
// Every mutation increments the record version; capacity and status changes
// must go through CompareAndUpdate so concurrent writers cannot lose updates.
type RideStore interface {
	// Create validates the draft, assigns an id, and stores the ride as
	// Active with AvailableSeats == TotalSeats.
	Create(ctx context.Context, owner models.User, draft models.RideDraft) (*models.Ride, error)
	Get(ctx context.Context, id string) (*models.Ride, error)
	// List returns all rides in insertion order.
	List(ctx context.Context) ([]models.Ride, error)
	// CompareAndUpdate applies mutate only if the stored version equals
	// expectedVersion, else fails with ErrConflict.
	CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*models.Ride) error) (*models.Ride, error)
}

// RequestStore holds join requests keyed by id.
type RequestStore interface {
	// Create assigns an id and timestamps and stores the request as Pending.
	// The uniqueness check and the insert are one atomic step: when the
	// rider already has a Pending or Accepted request on the ride, Create
	// fails with ErrDuplicate no matter how calls interleave.
	Create(ctx context.Context, rideID, requesterID string) (*models.JoinRequest, error)
	Get(ctx context.Context, id string) (*models.JoinRequest, error)
	// ListByRide returns the ride's requests in creation order.
	ListByRide(ctx context.Context, rideID string) ([]models.JoinRequest, error)
	ListByRequester(ctx context.Context, requesterID string) ([]models.JoinRequest, error)
	// FindOutstanding returns the Pending or Accepted request for the pair,
	// or ErrNotFound when the rider has no live request on the ride.
	FindOutstanding(ctx context.Context, rideID, requesterID string) (*models.JoinRequest, error)
	CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*models.JoinRequest) error) (*models.JoinRequest, error)
}
