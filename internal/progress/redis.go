package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoStatus is returned by RedisSink.Status for unknown jobs.
var ErrNoStatus = errors.New("no status recorded for job")

// RedisSink stores the latest event of each job in a hash and publishes
// every event as JSON, so pollers and subscribers both see progress.
//
//	<prefix>:job:<id>     hash of the latest event fields
//	<prefix>:events:<id>  pub/sub channel of JSON events
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSink uses client. A zero ttl keeps job hashes forever.
func NewRedisSink(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = "cpgenius"
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisSink) jobKey(id string) string     { return s.prefix + ":job:" + id }
func (s *RedisSink) eventsChan(id string) string { return s.prefix + ":events:" + id }

// Notify records ev as the job's current status and publishes it.
func (s *RedisSink) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	fields := map[string]any{
		"phase":      ev.Phase,
		"status":     ev.Status,
		"progress":   ev.Percent,
		"severity":   string(ev.Severity),
		"updated_at": ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.Warning != "" {
		fields["warning"] = ev.Warning
	}
	if ev.ErrorKind != "" {
		fields["error_kind"] = ev.ErrorKind
	}
	for k, v := range ev.Attrs {
		fields["attr:"+k] = v
	}

	key := s.jobKey(ev.JobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Publish(ctx, s.eventsChan(ev.JobID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis progress %s: %w", ev.JobID, err)
	}
	return nil
}

// Status returns the latest recorded event of a job. Attrs hold every
// attribute recorded over the job's life.
func (s *RedisSink) Status(ctx context.Context, jobID string) (Event, error) {
	vals, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return Event{}, fmt.Errorf("redis status %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return Event{}, ErrNoStatus
	}
	ev := Event{
		JobID:     jobID,
		Phase:     vals["phase"],
		Status:    vals["status"],
		Severity:  Severity(vals["severity"]),
		Warning:   vals["warning"],
		ErrorKind: vals["error_kind"],
	}
	ev.Percent, _ = strconv.Atoi(vals["progress"])
	ev.At, _ = time.Parse(time.RFC3339Nano, vals["updated_at"])
	for k, v := range vals {
		if name, ok := strings.CutPrefix(k, "attr:"); ok {
			if ev.Attrs == nil {
				ev.Attrs = make(map[string]string)
			}
			ev.Attrs[name] = v
		}
	}
	return ev, nil
}

// Subscribe returns a subscription to the job's event channel.
func (s *RedisSink) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return s.client.Subscribe(ctx, s.eventsChan(jobID))
}
