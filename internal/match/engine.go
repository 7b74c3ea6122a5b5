package match

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/jssehgal/ride-share-office/internal/models"
)

// Lister supplies the ride snapshot the engine filters. The canonical store
// and the Redis view cache both satisfy it; staleness is acceptable because
// availability is re-checked at request submission.
type Lister interface {
	List(ctx context.Context) ([]models.Ride, error)
}

// Engine is a stateless filter+rank over ride snapshots.
type Engine struct {
	Rides Lister
}

func NewEngine(rides Lister) *Engine { return &Engine{Rides: rides} }

// Search returns the eligible rides matching every present filter, ordered
// by departure time, then rating (higher first), then id. Filters never
// fail: a malformed max price is treated as absent.
func (e *Engine) Search(ctx context.Context, q models.SearchQuery) ([]models.Ride, error) {
	rides, err := e.Rides.List(ctx)
	if err != nil {
		return nil, err
	}

	maxPrice, hasMaxPrice := parsePrice(q.MaxPrice)

	out := make([]models.Ride, 0, len(rides))
	for _, r := range rides {
		if r.Status != models.RideActive || r.AvailableSeats <= 0 {
			continue
		}
		if q.StartLocation != "" && !containsFold(r.StartLocation, q.StartLocation) {
			continue
		}
		if q.Destination != "" && !containsFold(r.Destination, q.Destination) {
			continue
		}
		if q.DepartureTime != "" && r.DepartureTime != q.DepartureTime {
			continue
		}
		if hasMaxPrice && r.PricePerSeat != nil && *r.PricePerSeat > maxPrice {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureTime != out[j].DepartureTime {
			return out[i].DepartureTime < out[j].DepartureTime
		}
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func parsePrice(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
