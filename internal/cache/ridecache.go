package cache

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/jssehgal/ride-share-office/internal/models"
)

// RideCache mirrors joinable rides into a Redis hash so the search path can
// read a cheap snapshot instead of hitting the canonical store. The Kafka
// consumer keeps it warm; entries may lag the store, which search tolerates.
type RideCache struct {
	client *redis.Client
	key    string
}

func NewRideCache(addr, password, key string) *RideCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RideCache{client: c, key: key}
}

// Put stores the ride view, or drops it when the ride is no longer joinable.
func (c *RideCache) Put(ctx context.Context, r models.Ride) error {
	if r.Status != models.RideActive || r.AvailableSeats <= 0 {
		return c.Remove(ctx, r.ID)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.HSet(ctx, c.key, r.ID, b).Err()
}

func (c *RideCache) Remove(ctx context.Context, id string) error {
	return c.client.HDel(ctx, c.key, id).Err()
}

// List returns the cached ride views. Order is not meaningful here; the
// matching engine re-ranks every snapshot it filters.
func (c *RideCache) List(ctx context.Context) ([]models.Ride, error) {
	m, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Ride, 0, len(m))
	for _, raw := range m {
		var r models.Ride
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue // skip poisoned entries rather than failing the search
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *RideCache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *RideCache) Close() error { return c.client.Close() }

// Lister matches match.Lister without importing it.
type Lister interface {
	List(ctx context.Context) ([]models.Ride, error)
}

// FallbackLister serves from the cache and falls back to the canonical
// store when the cache errors or is empty (cold start, consumer lag).
type FallbackLister struct {
	Primary  Lister
	Fallback Lister
}

func (f *FallbackLister) List(ctx context.Context) ([]models.Ride, error) {
	rides, err := f.Primary.List(ctx)
	if err == nil && len(rides) > 0 {
		return rides, nil
	}
	return f.Fallback.List(ctx)
}
