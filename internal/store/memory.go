package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jssehgal/ride-share-office/internal/models"
)

// MemoryRideStore keeps rides in a mutex-guarded map with a separate slice
// preserving insertion order for List.
type MemoryRideStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
	order []string
	now   func() time.Time
}

func NewMemoryRideStore() *MemoryRideStore {
	return &MemoryRideStore{rides: make(map[string]*models.Ride), now: time.Now}
}

func (m *MemoryRideStore) Create(_ context.Context, owner models.User, draft models.RideDraft) (*models.Ride, error) {
	now := m.now()
	departsAt, err := draft.Validate(now)
	if err != nil {
		return nil, err
	}
	r := &models.Ride{
		ID:             uuid.NewString(),
		OwnerID:        owner.ID,
		OwnerName:      owner.Name,
		OwnerPhone:     owner.Phone,
		StartLocation:  draft.StartLocation,
		Destination:    draft.Destination,
		DepartureTime:  draft.DepartureTime,
		DepartsAt:      departsAt,
		IsRecurring:    draft.IsRecurring,
		TotalSeats:     draft.TotalSeats,
		AvailableSeats: draft.TotalSeats,
		PricePerSeat:   draft.PricePerSeat,
		Notes:          draft.Notes,
		Status:         models.RideActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.mu.Lock()
	m.rides[r.ID] = r
	m.order = append(m.order, r.ID)
	m.mu.Unlock()
	return cloneRide(r), nil
}

func (m *MemoryRideStore) Get(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRide(r), nil
}

func (m *MemoryRideStore) List(_ context.Context) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *cloneRide(m.rides[id]))
	}
	return out, nil
}

func (m *MemoryRideStore) CompareAndUpdate(_ context.Context, id string, expectedVersion int64, mutate func(*models.Ride) error) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Version != expectedVersion {
		return nil, ErrConflict
	}
	next := cloneRide(r)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = m.now()
	m.rides[id] = next
	return cloneRide(next), nil
}

// MemoryRequestStore is the in-memory RequestStore.
type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*models.JoinRequest
	order    []string
	now      func() time.Time
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]*models.JoinRequest), now: time.Now}
}

func (m *MemoryRequestStore) Create(_ context.Context, rideID, requesterID string) (*models.JoinRequest, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	// uniqueness scan and insert share the write lock so two racing
	// submissions for the same pair cannot both slip through
	for _, id := range m.order {
		if req := m.requests[id]; req.RideID == rideID && req.RequesterID == requesterID && req.Status.Outstanding() {
			return nil, ErrDuplicate
		}
	}
	req := &models.JoinRequest{
		ID:          uuid.NewString(),
		RideID:      rideID,
		RequesterID: requesterID,
		Status:      models.RequestPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.requests[req.ID] = req
	m.order = append(m.order, req.ID)
	return cloneRequest(req), nil
}

func (m *MemoryRequestStore) Get(_ context.Context, id string) (*models.JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (m *MemoryRequestStore) ListByRide(_ context.Context, rideID string) ([]models.JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.JoinRequest
	for _, id := range m.order {
		if req := m.requests[id]; req.RideID == rideID {
			out = append(out, *cloneRequest(req))
		}
	}
	return out, nil
}

func (m *MemoryRequestStore) ListByRequester(_ context.Context, requesterID string) ([]models.JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.JoinRequest
	for _, id := range m.order {
		if req := m.requests[id]; req.RequesterID == requesterID {
			out = append(out, *cloneRequest(req))
		}
	}
	return out, nil
}

func (m *MemoryRequestStore) FindOutstanding(_ context.Context, rideID, requesterID string) (*models.JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		req := m.requests[id]
		if req.RideID == rideID && req.RequesterID == requesterID && req.Status.Outstanding() {
			return cloneRequest(req), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRequestStore) CompareAndUpdate(_ context.Context, id string, expectedVersion int64, mutate func(*models.JoinRequest) error) (*models.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Version != expectedVersion {
		return nil, ErrConflict
	}
	next := cloneRequest(req)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = m.now()
	m.requests[id] = next
	return cloneRequest(next), nil
}

// clones keep callers from mutating stored records through shared pointers

func cloneRide(r *models.Ride) *models.Ride {
	c := *r
	if r.DepartsAt != nil {
		t := *r.DepartsAt
		c.DepartsAt = &t
	}
	if r.PricePerSeat != nil {
		p := *r.PricePerSeat
		c.PricePerSeat = &p
	}
	return &c
}

func cloneRequest(req *models.JoinRequest) *models.JoinRequest {
	c := *req
	return &c
}
