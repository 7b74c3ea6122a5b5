package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jssehgal/ride-share-office/internal/models"
	"github.com/jssehgal/ride-share-office/internal/observability"
	"github.com/jssehgal/ride-share-office/internal/store"
)

var (
	ErrSelfRequest       = errors.New("cannot request a seat on your own ride")
	ErrDuplicateRequest  = errors.New("an outstanding request for this ride already exists")
	ErrRideUnavailable   = errors.New("ride is not accepting requests")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotAuthorized     = errors.New("actor is not allowed to perform this action")
)

// Policy holds the optional lifecycle behaviours.
type Policy struct {
	// AutoAcceptOnRelease accepts the oldest pending request automatically
	// when a previously accepted request frees a seat.
	AutoAcceptOnRelease bool
	// RetryAttempts bounds the compare-and-update retry loop for
	// capacity-affecting mutations.
	RetryAttempts int
}

const defaultRetryAttempts = 3

// Controller enforces the ride and join-request state machine. All seat
// capacity changes go through the ride store's CompareAndUpdate with a
// bounded retry, so two acceptances racing for the last seat cannot both
// win.
type Controller struct {
	rides    store.RideStore
	requests store.RequestStore
	logger   *slog.Logger
	policy   Policy
	now      func() time.Time
}

func NewController(rides store.RideStore, requests store.RequestStore, logger *slog.Logger, policy Policy) *Controller {
	if policy.RetryAttempts <= 0 {
		policy.RetryAttempts = defaultRetryAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{rides: rides, requests: requests, logger: logger, policy: policy, now: time.Now}
}

// CreateRide validates and stores a new ride offer. An empty destination
// falls back to the owner's office location.
func (c *Controller) CreateRide(ctx context.Context, owner models.User, draft models.RideDraft) (*models.Ride, error) {
	if draft.Destination == "" {
		draft.Destination = owner.OfficeLocation
	}
	r, err := c.rides.Create(ctx, owner, draft)
	if err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	c.logger.Info("ride created", "ride_id", r.ID, "owner_id", r.OwnerID, "seats", r.TotalSeats)
	return r, nil
}

// SubmitRequest creates a pending join request after the authoritative
// availability checks. Search results are advisory; this is where stale
// snapshots get caught.
func (c *Controller) SubmitRequest(ctx context.Context, rideID, requesterID string) (*models.JoinRequest, error) {
	ride, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if requesterID == ride.OwnerID {
		return nil, ErrSelfRequest
	}
	if ride.Status != models.RideActive || ride.AvailableSeats <= 0 {
		return nil, ErrRideUnavailable
	}
	if _, err := c.requests.FindOutstanding(ctx, rideID, requesterID); err == nil {
		return nil, ErrDuplicateRequest
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	// the pre-check above is advisory; Create's atomic uniqueness guard is
	// what holds under concurrent submissions for the same pair
	req, err := c.requests.Create(ctx, rideID, requesterID)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrDuplicateRequest
	}
	if err != nil {
		return nil, err
	}
	observability.RequestsSubmitted.Inc()
	c.logger.Info("join request submitted", "request_id", req.ID, "ride_id", rideID, "requester_id", requesterID)
	return req, nil
}

// Accept moves a pending request to Accepted and takes one seat. Only the
// ride owner may accept.
func (c *Controller) Accept(ctx context.Context, requestID, actorID string) (*models.JoinRequest, error) {
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ride, err := c.rides.Get(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if actorID != ride.OwnerID {
		return nil, ErrNotAuthorized
	}
	if req.Status != models.RequestPending {
		return nil, ErrInvalidTransition
	}
	return c.accept(ctx, req)
}

func (c *Controller) accept(ctx context.Context, req *models.JoinRequest) (*models.JoinRequest, error) {
	if _, err := c.updateRide(ctx, req.RideID, takeSeat); err != nil {
		return nil, err
	}
	updated, err := c.requests.CompareAndUpdate(ctx, req.ID, req.Version, func(r *models.JoinRequest) error {
		if r.Status != models.RequestPending {
			return ErrInvalidTransition
		}
		r.Status = models.RequestAccepted
		return nil
	})
	if err != nil {
		// the request moved under us: hand the seat back
		if _, rerr := c.updateRide(ctx, req.RideID, releaseSeat); rerr != nil {
			c.logger.Error("seat rollback failed", "ride_id", req.RideID, "error", rerr)
		}
		return nil, err
	}
	observability.RequestsAccepted.Inc()
	c.logger.Info("join request accepted", "request_id", updated.ID, "ride_id", updated.RideID)
	return updated, nil
}

// Reject moves a pending request to Rejected. Capacity is untouched.
func (c *Controller) Reject(ctx context.Context, requestID, actorID string) (*models.JoinRequest, error) {
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ride, err := c.rides.Get(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if actorID != ride.OwnerID {
		return nil, ErrNotAuthorized
	}
	if req.Status != models.RequestPending {
		return nil, ErrInvalidTransition
	}
	return c.requests.CompareAndUpdate(ctx, req.ID, req.Version, func(r *models.JoinRequest) error {
		if r.Status != models.RequestPending {
			return ErrInvalidTransition
		}
		r.Status = models.RequestRejected
		return nil
	})
}

// CancelRequest cancels a pending or accepted request. The requester or the
// ride owner may cancel. Cancelling an already-cancelled request is a no-op;
// cancelling an accepted request releases its seat while the ride is still
// active.
func (c *Controller) CancelRequest(ctx context.Context, requestID, actorID string) (*models.JoinRequest, error) {
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == models.RequestCancelled {
		return req, nil
	}
	ride, err := c.rides.Get(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if actorID != req.RequesterID && actorID != ride.OwnerID {
		return nil, ErrNotAuthorized
	}
	if req.Status == models.RequestRejected {
		return nil, ErrInvalidTransition
	}
	wasAccepted := req.Status == models.RequestAccepted
	updated, err := c.requests.CompareAndUpdate(ctx, req.ID, req.Version, func(r *models.JoinRequest) error {
		if !r.Status.Outstanding() {
			return ErrInvalidTransition
		}
		r.Status = models.RequestCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wasAccepted {
		if _, rerr := c.updateRide(ctx, req.RideID, releaseSeat); rerr != nil {
			c.logger.Error("seat release failed", "ride_id", req.RideID, "error", rerr)
		} else if c.policy.AutoAcceptOnRelease {
			c.autoAccept(ctx, req.RideID)
		}
	}
	c.logger.Info("join request cancelled", "request_id", updated.ID, "ride_id", updated.RideID, "actor_id", actorID)
	return updated, nil
}

// autoAccept promotes the oldest pending request after a seat frees.
func (c *Controller) autoAccept(ctx context.Context, rideID string) {
	reqs, err := c.requests.ListByRide(ctx, rideID)
	if err != nil {
		c.logger.Error("auto-accept list failed", "ride_id", rideID, "error", err)
		return
	}
	for i := range reqs {
		if reqs[i].Status != models.RequestPending {
			continue
		}
		if _, err := c.accept(ctx, &reqs[i]); err != nil {
			c.logger.Warn("auto-accept skipped", "request_id", reqs[i].ID, "error", err)
		}
		return
	}
}

// CancelRide cancels an active ride and force-cancels every outstanding
// request against it. Only the owner may cancel. A second cancel is a no-op.
func (c *Controller) CancelRide(ctx context.Context, rideID, actorID string) (*models.Ride, error) {
	ride, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if actorID != ride.OwnerID {
		return nil, ErrNotAuthorized
	}
	if ride.Status == models.RideCancelled {
		return ride, nil
	}
	if ride.Status == models.RideCompleted {
		return nil, ErrInvalidTransition
	}
	updated, err := c.updateRide(ctx, rideID, func(r *models.Ride) error {
		if r.Status.Terminal() {
			return ErrInvalidTransition
		}
		r.Status = models.RideCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.cancelOutstanding(ctx, rideID)
	c.logger.Info("ride cancelled", "ride_id", rideID)
	return updated, nil
}

func (c *Controller) cancelOutstanding(ctx context.Context, rideID string) {
	reqs, err := c.requests.ListByRide(ctx, rideID)
	if err != nil {
		c.logger.Error("listing requests for cancel failed", "ride_id", rideID, "error", err)
		return
	}
	for _, req := range reqs {
		if !req.Status.Outstanding() {
			continue
		}
		_, err := c.requests.CompareAndUpdate(ctx, req.ID, req.Version, func(r *models.JoinRequest) error {
			if !r.Status.Outstanding() {
				return ErrInvalidTransition
			}
			r.Status = models.RequestCancelled
			return nil
		})
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			c.logger.Error("force-cancel failed", "request_id", req.ID, "error", err)
		}
	}
}

// CompleteRide marks an active ride done. Only the owner may complete.
func (c *Controller) CompleteRide(ctx context.Context, rideID, actorID string) (*models.Ride, error) {
	ride, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if actorID != ride.OwnerID {
		return nil, ErrNotAuthorized
	}
	if ride.Status == models.RideCompleted {
		return ride, nil
	}
	if ride.Status != models.RideActive {
		return nil, ErrInvalidTransition
	}
	updated, err := c.updateRide(ctx, rideID, func(r *models.Ride) error {
		if r.Status != models.RideActive {
			return ErrInvalidTransition
		}
		r.Status = models.RideCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("ride completed", "ride_id", rideID)
	return updated, nil
}

// CompleteElapsed marks one-off active rides whose departure has passed as
// completed. Meant to be driven by the server's sweep ticker; the engine
// itself runs no background work.
func (c *Controller) CompleteElapsed(ctx context.Context, now time.Time) (int, error) {
	rides, err := c.rides.List(ctx)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, r := range rides {
		if r.Status != models.RideActive || r.IsRecurring || r.DepartsAt == nil || r.DepartsAt.After(now) {
			continue
		}
		_, err := c.updateRide(ctx, r.ID, func(ride *models.Ride) error {
			if ride.Status != models.RideActive {
				return ErrInvalidTransition
			}
			ride.Status = models.RideCompleted
			return nil
		})
		if err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				c.logger.Error("elapsed completion failed", "ride_id", r.ID, "error", err)
			}
			continue
		}
		completed++
	}
	return completed, nil
}

// updateRide re-reads the ride and retries CompareAndUpdate on version
// conflicts, surfacing store.ErrConflict only after the attempts run out.
// Errors from the mutator itself are final.
func (c *Controller) updateRide(ctx context.Context, rideID string, mutate func(*models.Ride) error) (*models.Ride, error) {
	var lastErr error
	for i := 0; i < c.policy.RetryAttempts; i++ {
		r, err := c.rides.Get(ctx, rideID)
		if err != nil {
			return nil, err
		}
		updated, err := c.rides.CompareAndUpdate(ctx, rideID, r.Version, mutate)
		if errors.Is(err, store.ErrConflict) {
			observability.SeatConflicts.Inc()
			lastErr = err
			continue
		}
		return updated, err
	}
	return nil, lastErr
}

func takeSeat(r *models.Ride) error {
	if r.Status != models.RideActive || r.AvailableSeats <= 0 {
		return ErrRideUnavailable
	}
	r.AvailableSeats--
	return nil
}

// releaseSeat hands a seat back. Terminal rides are left untouched and an
// increment never exceeds TotalSeats.
func releaseSeat(r *models.Ride) error {
	if r.Status != models.RideActive {
		return nil
	}
	if r.AvailableSeats < r.TotalSeats {
		r.AvailableSeats++
	}
	return nil
}
