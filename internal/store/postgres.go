package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jssehgal/ride-share-office/internal/models"
)

// PostgresStore implements RideStore and RequestStore on one database.
// CompareAndUpdate writes the full row guarded by `WHERE version = $n`, so
// two racing writers cannot both apply against the same snapshot.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		return nil, &StoreError{Op: "ping", Err: err}
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, owner_id, owner_name, owner_phone, start_location, destination,
	departure_time, departs_at, is_recurring, total_seats, available_seats,
	price_per_seat, rating, notes, status, version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, owner models.User, draft models.RideDraft) (*models.Ride, error) {
	now := time.Now()
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
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		r.ID, r.OwnerID, r.OwnerName, r.OwnerPhone, r.StartLocation, r.Destination,
		r.DepartureTime, nullTime(r.DepartsAt), r.IsRecurring, r.TotalSeats, r.AvailableSeats,
		nullFloat(r.PricePerSeat), r.Rating, r.Notes, string(r.Status), r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, &StoreError{Op: "insert ride", Err: err}
	}
	return r, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) List(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides ORDER BY created_at, id`)
	if err != nil {
		return nil, &StoreError{Op: "list rides", Err: err}
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list rides", Err: err}
	}
	return out, nil
}

func (p *PostgresStore) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*models.Ride) error) (*models.Ride, error) {
	r, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Version != expectedVersion {
		return nil, ErrConflict
	}
	if err := mutate(r); err != nil {
		return nil, err
	}
	r.Version = expectedVersion + 1
	r.UpdatedAt = time.Now()
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET available_seats=$1, status=$2, rating=$3,
		notes=$4, version=$5, updated_at=$6 WHERE id=$7 AND version=$8`,
		r.AvailableSeats, string(r.Status), r.Rating, r.Notes, r.Version, r.UpdatedAt, id, expectedVersion)
	if err != nil {
		return nil, &StoreError{Op: "update ride", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, &StoreError{Op: "update ride", Err: err}
	}
	if n == 0 {
		// row changed (or vanished) between the read and the write
		if _, err := p.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return r, nil
}

const requestColumns = `id, ride_id, requester_id, status, version, created_at, updated_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, rideID, requesterID string) (*models.JoinRequest, error) {
	now := time.Now()
	req := &models.JoinRequest{
		ID:          uuid.NewString(),
		RideID:      rideID,
		RequesterID: requesterID,
		Status:      models.RequestPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO join_requests(`+requestColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		req.ID, req.RideID, req.RequesterID, string(req.Status), req.Version, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return nil, mapRequestInsertErr(err)
	}
	return req, nil
}

// mapRequestInsertErr keeps the error taxonomy honest: a unique violation
// on the partial outstanding-request index is a business rejection
// (ErrDuplicate), not an infrastructure failure.
func mapRequestInsertErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return &StoreError{Op: "insert request", Err: err}
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.JoinRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE id=$1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) ListRequestsByRide(ctx context.Context, rideID string) ([]models.JoinRequest, error) {
	return p.listRequests(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE ride_id=$1 ORDER BY created_at, id`, rideID)
}

func (p *PostgresStore) ListRequestsByRequester(ctx context.Context, requesterID string) ([]models.JoinRequest, error) {
	return p.listRequests(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE requester_id=$1 ORDER BY created_at, id`, requesterID)
}

func (p *PostgresStore) FindOutstandingRequest(ctx context.Context, rideID, requesterID string) (*models.JoinRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM join_requests
		WHERE ride_id=$1 AND requester_id=$2 AND status IN ('pending','accepted')
		ORDER BY created_at LIMIT 1`, rideID, requesterID)
	return scanRequest(row)
}

func (p *PostgresStore) CompareAndUpdateRequest(ctx context.Context, id string, expectedVersion int64, mutate func(*models.JoinRequest) error) (*models.JoinRequest, error) {
	req, err := p.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Version != expectedVersion {
		return nil, ErrConflict
	}
	if err := mutate(req); err != nil {
		return nil, err
	}
	req.Version = expectedVersion + 1
	req.UpdatedAt = time.Now()
	res, err := p.db.ExecContext(ctx, `UPDATE join_requests SET status=$1, version=$2, updated_at=$3
		WHERE id=$4 AND version=$5`, string(req.Status), req.Version, req.UpdatedAt, id, expectedVersion)
	if err != nil {
		return nil, &StoreError{Op: "update request", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, &StoreError{Op: "update request", Err: err}
	}
	if n == 0 {
		if _, err := p.GetRequest(ctx, id); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return req, nil
}

func (p *PostgresStore) listRequests(ctx context.Context, query string, arg string) ([]models.JoinRequest, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, &StoreError{Op: "list requests", Err: err}
	}
	defer rows.Close()
	var out []models.JoinRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list requests", Err: err}
	}
	return out, nil
}

// Requests returns a RequestStore view over the same database.
func (p *PostgresStore) Requests() RequestStore { return &pgRequestStore{p} }

type pgRequestStore struct{ p *PostgresStore }

func (s *pgRequestStore) Create(ctx context.Context, rideID, requesterID string) (*models.JoinRequest, error) {
	return s.p.CreateRequest(ctx, rideID, requesterID)
}
func (s *pgRequestStore) Get(ctx context.Context, id string) (*models.JoinRequest, error) {
	return s.p.GetRequest(ctx, id)
}
func (s *pgRequestStore) ListByRide(ctx context.Context, rideID string) ([]models.JoinRequest, error) {
	return s.p.ListRequestsByRide(ctx, rideID)
}
func (s *pgRequestStore) ListByRequester(ctx context.Context, requesterID string) ([]models.JoinRequest, error) {
	return s.p.ListRequestsByRequester(ctx, requesterID)
}
func (s *pgRequestStore) FindOutstanding(ctx context.Context, rideID, requesterID string) (*models.JoinRequest, error) {
	return s.p.FindOutstandingRequest(ctx, rideID, requesterID)
}
func (s *pgRequestStore) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*models.JoinRequest) error) (*models.JoinRequest, error) {
	return s.p.CompareAndUpdateRequest(ctx, id, expectedVersion, mutate)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var departsAt sql.NullTime
	var price sql.NullFloat64
	var status string
	err := row.Scan(&r.ID, &r.OwnerID, &r.OwnerName, &r.OwnerPhone, &r.StartLocation, &r.Destination,
		&r.DepartureTime, &departsAt, &r.IsRecurring, &r.TotalSeats, &r.AvailableSeats,
		&price, &r.Rating, &r.Notes, &status, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "scan ride", Err: err}
	}
	if departsAt.Valid {
		t := departsAt.Time
		r.DepartsAt = &t
	}
	if price.Valid {
		v := price.Float64
		r.PricePerSeat = &v
	}
	r.Status = models.RideStatus(status)
	return &r, nil
}

func scanRequest(row rowScanner) (*models.JoinRequest, error) {
	var req models.JoinRequest
	var status string
	err := row.Scan(&req.ID, &req.RideID, &req.RequesterID, &status, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "scan request", Err: err}
	}
	req.Status = models.RequestStatus(status)
	return &req, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
