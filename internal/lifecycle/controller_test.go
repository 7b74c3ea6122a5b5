package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jssehgal/ride-share-office/internal/models"
	"github.com/jssehgal/ride-share-office/internal/store"
)

func newTestController(policy Policy) (*Controller, store.RideStore, store.RequestStore) {
	rides := store.NewMemoryRideStore()
	requests := store.NewMemoryRequestStore()
	return NewController(rides, requests, nil, policy), rides, requests
}

func createRide(t *testing.T, c *Controller, ownerID string, seats int) *models.Ride {
	t.Helper()
	price := 150.0
	ride, err := c.CreateRide(context.Background(), models.User{ID: ownerID, Name: "Owner"}, models.RideDraft{
		StartLocation: "Koramangala",
		Destination:   "Tech Park, Bangalore",
		DepartureTime: "09:00",
		TotalSeats:    seats,
		IsRecurring:   true,
		PricePerSeat:  &price,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return ride
}

func TestCreateRideDefaultsDestinationToOffice(t *testing.T) {
	c, _, _ := newTestController(Policy{})
	owner := models.User{ID: "u1", OfficeLocation: "Tech Park, Bangalore"}
	ride, err := c.CreateRide(context.Background(), owner, models.RideDraft{
		StartLocation: "Koramangala",
		DepartureTime: "09:00",
		TotalSeats:    2,
		IsRecurring:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ride.Destination != "Tech Park, Bangalore" {
		t.Fatalf("expected office default, got %q", ride.Destination)
	}
}

func TestSubmitRequestChecks(t *testing.T) {
	c, _, _ := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)

	if _, err := c.SubmitRequest(ctx, "missing", "u2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.SubmitRequest(ctx, ride.ID, "u1"); !errors.Is(err, ErrSelfRequest) {
		t.Fatalf("expected ErrSelfRequest, got %v", err)
	}

	req, err := c.SubmitRequest(ctx, ride.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != models.RequestPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}

	// duplicate while the first is unresolved
	if _, err := c.SubmitRequest(ctx, ride.ID, "u2"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestAcceptTakesSeat(t *testing.T) {
	c, rides, _ := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)
	req, _ := c.SubmitRequest(ctx, ride.ID, "u2")

	if _, err := c.Accept(ctx, req.ID, "u2"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-owner accept: expected ErrNotAuthorized, got %v", err)
	}

	accepted, err := c.Accept(ctx, req.ID, "u1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.RequestAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	got, _ := rides.Get(ctx, ride.ID)
	if got.AvailableSeats != 1 {
		t.Fatalf("expected 1 seat left, got %d", got.AvailableSeats)
	}

	// accepting again is an invalid transition
	if _, err := c.Accept(ctx, req.ID, "u1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSeatRoundTrip(t *testing.T) {
	c, rides, _ := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 3)

	for _, rider := range []string{"u2", "u3", "u4"} {
		req, err := c.SubmitRequest(ctx, ride.ID, rider)
		if err != nil {
			t.Fatalf("submit %s: %v", rider, err)
		}
		if _, err := c.Accept(ctx, req.ID, "u1"); err != nil {
			t.Fatalf("accept %s: %v", rider, err)
		}
	}

	got, _ := rides.Get(ctx, ride.ID)
	if got.AvailableSeats != 0 {
		t.Fatalf("expected 0 seats, got %d", got.AvailableSeats)
	}
	if got.Status != models.RideActive {
		t.Fatalf("full ride stays active, got %s", got.Status)
	}

	// no seat left for the next rider
	if _, err := c.SubmitRequest(ctx, ride.ID, "u5"); !errors.Is(err, ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable, got %v", err)
	}
}

func TestRejectLeavesCapacity(t *testing.T) {
	c, rides, _ := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)
	req, _ := c.SubmitRequest(ctx, ride.ID, "u2")

	rejected, err := c.Reject(ctx, req.ID, "u1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.RequestRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	got, _ := rides.Get(ctx, ride.ID)
	if got.AvailableSeats != 2 {
		t.Fatalf("reject must not touch capacity, got %d", got.AvailableSeats)
	}

	// a rejected request frees the rider to ask again
	if _, err := c.SubmitRequest(ctx, ride.ID, "u2"); err != nil {
		t.Fatalf("resubmit after reject: %v", err)
	}
}

func TestCancelAcceptedReleasesSeat(t *testing.T) {
	c, rides, _ := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)
	req, _ := c.SubmitRequest(ctx, ride.ID, "u2")
	if _, err := c.Accept(ctx, req.ID, "u1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := c.CancelRequest(ctx, req.ID, "u9"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("stranger cancel: expected ErrNotAuthorized, got %v", err)
	}

	cancelled, err := c.CancelRequest(ctx, req.ID, "u2")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.RequestCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	got, _ := rides.Get(ctx, ride.ID)
	if got.AvailableSeats != 2 {
		t.Fatalf("seat not released, got %d", got.AvailableSeats)
	}

	// cancelling again is a no-op, not a second release
	again, err := c.CancelRequest(ctx, req.ID, "u2")
	if err != nil {
		t.Fatalf("idempotent cancel: %v", err)
	}
	if again.Status != models.RequestCancelled {
		t.Fatalf("expected cancelled, got %s", again.Status)
	}
	got, _ = rides.Get(ctx, ride.ID)
	if got.AvailableSeats != 2 {
		t.Fatalf("double seat release: got %d", got.AvailableSeats)
	}
}

func TestCancelRideForceCancelsRequests(t *testing.T) {
	c, rides, requests := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)
	accepted, _ := c.SubmitRequest(ctx, ride.ID, "u2")
	if _, err := c.Accept(ctx, accepted.ID, "u1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	pending, _ := c.SubmitRequest(ctx, ride.ID, "u3")

	if _, err := c.CancelRide(ctx, ride.ID, "u3"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-owner cancel: expected ErrNotAuthorized, got %v", err)
	}

	cancelled, err := c.CancelRide(ctx, ride.ID, "u1")
	if err != nil {
		t.Fatalf("cancel ride: %v", err)
	}
	if cancelled.Status != models.RideCancelled {
		t.Fatalf("expected cancelled ride, got %s", cancelled.Status)
	}
	for _, id := range []string{accepted.ID, pending.ID} {
		req, _ := requests.Get(ctx, id)
		if req.Status != models.RequestCancelled {
			t.Fatalf("request %s not force-cancelled: %s", id, req.Status)
		}
	}

	// no further requests are acceptable
	if _, err := c.SubmitRequest(ctx, ride.ID, "u4"); !errors.Is(err, ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable, got %v", err)
	}

	// second cancel is a no-op
	if _, err := c.CancelRide(ctx, ride.ID, "u1"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	got, _ := rides.Get(ctx, ride.ID)
	if got.Status != models.RideCancelled {
		t.Fatalf("ride status regressed: %s", got.Status)
	}
}

func TestCompleteRide(t *testing.T) {
	c, _, _ := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)

	done, err := c.CompleteRide(ctx, ride.ID, "u1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.RideCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	// a completed ride cannot be cancelled
	if _, err := c.CancelRide(ctx, ride.ID, "u1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteElapsed(t *testing.T) {
	c, rides, _ := newTestController(Policy{})
	ctx := context.Background()

	oneOff, err := c.CreateRide(ctx, models.User{ID: "u1"}, models.RideDraft{
		StartLocation: "Indiranagar",
		Destination:   "Tech Park, Bangalore",
		DepartureTime: "09:00",
		DepartureDate: time.Now().AddDate(0, 0, 1).Format("2006-01-02"),
		TotalSeats:    2,
	})
	if err != nil {
		t.Fatalf("create one-off: %v", err)
	}
	recurring := createRide(t, c, "u1", 2)

	n, err := c.CompleteElapsed(ctx, time.Now().AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
	got, _ := rides.Get(ctx, oneOff.ID)
	if got.Status != models.RideCompleted {
		t.Fatalf("one-off not completed: %s", got.Status)
	}
	got, _ = rides.Get(ctx, recurring.ID)
	if got.Status != models.RideActive {
		t.Fatalf("recurring ride must stay active: %s", got.Status)
	}
}

func TestAutoAcceptOnRelease(t *testing.T) {
	c, rides, requests := newTestController(Policy{AutoAcceptOnRelease: true})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 1)

	// both requests queue while the seat is still free
	first, _ := c.SubmitRequest(ctx, ride.ID, "u2")
	second, _ := c.SubmitRequest(ctx, ride.ID, "u3")
	if _, err := c.Accept(ctx, first.ID, "u1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := c.SubmitRequest(ctx, ride.ID, "u4"); !errors.Is(err, ErrRideUnavailable) {
		t.Fatalf("full ride should refuse, got %v", err)
	}

	// u2's accepted request cancels; the pending u3 request is promoted
	if _, err := c.CancelRequest(ctx, first.ID, "u2"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := requests.Get(ctx, second.ID)
	if got.Status != models.RequestAccepted {
		t.Fatalf("expected auto-accepted, got %s", got.Status)
	}
	r, _ := rides.Get(ctx, ride.ID)
	if r.AvailableSeats != 0 {
		t.Fatalf("expected seat taken by auto-accept, got %d", r.AvailableSeats)
	}
}

func TestConcurrentSubmitsSamePair(t *testing.T) {
	c, _, requests := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.SubmitRequest(ctx, ride.ID, "u2")
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateRequest):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one submission to win, got %d", ok)
	}

	reqs, err := requests.ListByRide(ctx, ride.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	outstanding := 0
	for _, r := range reqs {
		if r.Status.Outstanding() {
			outstanding++
		}
	}
	if outstanding != 1 {
		t.Fatalf("expected one outstanding request for the pair, got %d", outstanding)
	}
}

func TestConcurrentAcceptsLastSeat(t *testing.T) {
	c, rides, requests := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 1)

	a, _ := c.SubmitRequest(ctx, ride.ID, "u2")
	b, _ := c.SubmitRequest(ctx, ride.ID, "u3")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = c.Accept(ctx, id, "u1")
		}(i, id)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrRideUnavailable), errors.Is(err, store.ErrConflict):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("expected exactly one winner, got won=%d lost=%d (%v)", won, lost, errs)
	}

	got, _ := rides.Get(ctx, ride.ID)
	if got.AvailableSeats != 0 {
		t.Fatalf("seat invariant broken: %d", got.AvailableSeats)
	}
	acceptedCount := 0
	for _, id := range []string{a.ID, b.ID} {
		req, _ := requests.Get(ctx, id)
		if req.Status == models.RequestAccepted {
			acceptedCount++
		}
	}
	if acceptedCount != 1 {
		t.Fatalf("expected exactly one accepted request, got %d", acceptedCount)
	}
}

func TestCapacityInvariantUnderMixedOperations(t *testing.T) {
	c, rides, _ := newTestController(Policy{})
	ctx := context.Background()
	ride := createRide(t, c, "u1", 2)

	riders := []string{"u2", "u3", "u4", "u5"}
	var wg sync.WaitGroup
	for _, rider := range riders {
		wg.Add(1)
		go func(rider string) {
			defer wg.Done()
			req, err := c.SubmitRequest(ctx, ride.ID, rider)
			if err != nil {
				return
			}
			if _, err := c.Accept(ctx, req.ID, "u1"); err != nil {
				return
			}
			_, _ = c.CancelRequest(ctx, req.ID, rider)
		}(rider)
	}
	wg.Wait()

	got, _ := rides.Get(ctx, ride.ID)
	if got.AvailableSeats < 0 || got.AvailableSeats > got.TotalSeats {
		t.Fatalf("capacity invariant broken: %d/%d", got.AvailableSeats, got.TotalSeats)
	}
}
