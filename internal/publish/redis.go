package publish

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/bms"
)

// Field groups announced on the device channel.
const (
	groupPack  = "pack"
	groupCells = "cells"
)

// TxPipeliner is the part of *redis.Client the Redis sink uses.
type TxPipeliner interface {
	TxPipeline() redis.Pipeliner
}

// Redis mirrors readings into a hash per device and announces which group
// changed on a channel of the same name. Unchanged fields are not rewritten.
type Redis struct {
	client TxPipeliner
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]map[string]string
}

// NewRedis publishes under keys "<prefix>:<device>".
func NewRedis(client TxPipeliner, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "bms"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
		last:   make(map[string]map[string]string),
	}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Key returns the hash key and channel for device.
func (s *Redis) Key(device string) string {
	return s.prefix + ":" + device
}

func (s *Redis) Publish(ctx context.Context, r Reading) error {
	fields, group := telemetryFields(r.Telemetry)
	if fields == nil {
		return fmt.Errorf("redis: unsupported telemetry %T", r.Telemetry)
	}
	key := s.Key(r.Device)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := changedFields(s.last[key], fields)
	if len(changed) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, changed)
	pipe.HSet(ctx, key, "updated-at", strconv.FormatInt(r.Time.UnixMilli(), 10))
	pipe.Publish(ctx, key, group)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publishing %s: %w", key, err)
	}

	// Remember only what actually reached redis.
	prev := s.last[key]
	if prev == nil {
		prev = make(map[string]string, len(fields))
		s.last[key] = prev
	}
	for k, v := range changed {
		prev[k] = v.(string)
	}
	s.logger.Debug("published", zap.String("key", key), zap.String("group", group), zap.Int("fields", len(changed)))
	return nil
}

func telemetryFields(t bms.Telemetry) (map[string]string, string) {
	switch v := t.(type) {
	case bms.PackInfo:
		return packFields(v), groupPack
	case bms.CellVoltages:
		return cellFields(v), groupCells
	}
	return nil, ""
}

func packFields(p bms.PackInfo) map[string]string {
	f := map[string]string{
		"state":            strings.ToLower(p.State().String()),
		"voltage":          strconv.Itoa(int(p.Voltage)),
		"current":          strconv.Itoa(int(p.Current)),
		"percentage":       strconv.Itoa(p.Percentage),
		"remaining-charge": strconv.Itoa(int(p.RemainingCharge)),
		"full-charge":      strconv.Itoa(int(p.FullCharge)),
		"factory-capacity": strconv.Itoa(int(p.FactoryCapacity)),
		"power":            strconv.FormatFloat(p.Power(), 'f', 1, 64),
		"time-to-go":       strconv.Itoa(int(p.TimeToGo().Seconds())),
	}
	for i, k := range p.Temperatures {
		f[fmt.Sprintf("temperature:%d", i)] = strconv.FormatFloat(k.Celsius(), 'f', 1, 64)
	}
	return f
}

func cellFields(c bms.CellVoltages) map[string]string {
	f := map[string]string{
		"cell-count": strconv.Itoa(len(c.Values)),
		"cell-min":   strconv.Itoa(c.Min()),
		"cell-max":   strconv.Itoa(c.Max()),
		"cell-delta": strconv.Itoa(c.Delta()),
	}
	for i, mv := range c.Values {
		f[fmt.Sprintf("cell:%d", i)] = strconv.Itoa(mv)
	}
	return f
}

// changedFields returns the entries of next that are new or differ from
// prev, typed for HSET.
func changedFields(prev, next map[string]string) map[string]any {
	out := make(map[string]any)
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			out[k] = v
		}
	}
	return out
}
