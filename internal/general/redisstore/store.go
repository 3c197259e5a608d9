package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxi-tracking/internal/broker"
	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
	"taxi-tracking/internal/ports"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "taxi:latest:"
	platesKey = "taxi:latest:plates"
)

var ErrNotFound = errors.New("no recent fix for plate")

// Store keeps the last broadcast location of every vehicle with a TTL so
// stale vehicles age out even if their offline event is lost.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

var (
	_ ports.LatestFixStore = (*Store)(nil)
	_ broker.Sink          = (*Store)(nil)
	_ ports.FixLookup      = (*Store)(nil)
)

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr string, db int, ttl time.Duration, log *logger.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info(ctx, "redis_connected", "connected to redis", map[string]any{"addr": addr, "db": db})
	return New(rdb, ttl, log), nil
}

func New(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *Store {
	return &Store{rdb: rdb, ttl: ttl, log: log}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping reports whether redis answers; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Put(ctx context.Context, loc contracts.TaxiLocation) error {
	plate := strings.ToUpper(loc.Plate)
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fixKey(plate), data, s.ttl)
		pipe.SAdd(ctx, platesKey, plate)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis SET %s: %w", fixKey(plate), err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, plate string) (*contracts.TaxiLocation, error) {
	raw, err := s.rdb.Get(ctx, fixKey(strings.ToUpper(plate))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var loc contracts.TaxiLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf("decode latest fix: %w", err)
	}
	return &loc, nil
}

// CurrentFix adapts the stored location for callers that need a fix; a plate
// with nothing stored yields (nil, nil).
func (s *Store) CurrentFix(ctx context.Context, plate string) (*geo.SmoothedFix, error) {
	loc, err := s.Get(ctx, plate)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fix := loc.Fix()
	return &fix, nil
}

func (s *Store) Delete(ctx context.Context, plate string) error {
	plate = strings.ToUpper(plate)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, fixKey(plate))
		pipe.SRem(ctx, platesKey, plate)
		return nil
	})
	return err
}

// All returns every unexpired fix. Plates whose key expired are pruned from
// the index on the way.
func (s *Store) All(ctx context.Context) ([]contracts.TaxiLocation, error) {
	plates, err := s.rdb.SMembers(ctx, platesKey).Result()
	if err != nil {
		return nil, err
	}
	if len(plates) == 0 {
		return nil, nil
	}
	keys := make([]string, len(plates))
	for i, p := range plates {
		keys[i] = fixKey(p)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]contracts.TaxiLocation, 0, len(vals))
	var expired []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, plates[i])
			continue
		}
		var loc contracts.TaxiLocation
		if err := json.Unmarshal([]byte(str), &loc); err != nil {
			s.log.Warn(ctx, "latest_fix_corrupt", "skipping undecodable fix", err, map[string]any{"key": keys[i]})
			continue
		}
		out = append(out, loc)
	}
	if len(expired) > 0 {
		_ = s.rdb.SRem(ctx, platesKey, expired...).Err()
	}
	return out, nil
}

// LocationAccepted implements broker.Sink.
func (s *Store) LocationAccepted(ctx context.Context, ev broker.LocationEvent) {
	if err := s.Put(ctx, ev.Location); err != nil {
		metrics.SinkErrors.WithLabelValues("redis").Inc()
		s.log.Warn(ctx, "latest_fix_put_failed", "latest fix not cached", err, map[string]any{"patente": ev.Location.Plate})
	}
}

// PresenceChanged implements broker.Sink; offline vehicles are forgotten.
func (s *Store) PresenceChanged(ctx context.Context, plate string, online bool) {
	if online {
		return
	}
	if err := s.Delete(ctx, plate); err != nil {
		metrics.SinkErrors.WithLabelValues("redis").Inc()
		s.log.Warn(ctx, "latest_fix_delete_failed", "latest fix not cleared", err, map[string]any{"patente": plate})
	}
}

func fixKey(plate string) string {
	return keyPrefix + plate
}
