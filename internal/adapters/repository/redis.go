package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/pkg/metrics"
)

const (
	redisName      = "redis"
	evidenceLogCap = 1000
)

// RedisStore keeps one hash per (student, course) whose fields are concept
// IDs and whose values are JSON-encoded records. Commits use WATCH/MULTI
// on the pair's hash, so concurrent writers on different processes still
// observe version conflicts.
type RedisStore struct {
	rdb  goredis.UniversalClient
	opts options
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb, opts...), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb goredis.UniversalClient, opts ...Option) *RedisStore {
	return &RedisStore{rdb: rdb, opts: applyOptions(opts)}
}

// Name implements Store.
func (s *RedisStore) Name() string { return redisName }

func (s *RedisStore) pairKey(studentID, courseID string) string {
	return fmt.Sprintf("%s:mastery:%s:%s", s.opts.keyPrefix, url.PathEscape(studentID), url.PathEscape(courseID))
}

func (s *RedisStore) logKey(studentID, courseID string) string {
	return fmt.Sprintf("%s:evidence:%s:%s", s.opts.keyPrefix, url.PathEscape(studentID), url.PathEscape(courseID))
}

func (s *RedisStore) countKey() string { return s.opts.keyPrefix + ":records" }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key model.RecordKey) (model.MasteryRecord, error) {
	start := time.Now()
	defer observe(redisName, "get", start)

	raw, err := s.rdb.HGet(ctx, s.pairKey(key.StudentID, key.CourseID), key.ConceptID).Result()
	if errors.Is(err, goredis.Nil) {
		return model.NewMasteryRecord(key, s.opts.prior), nil
	}
	if err != nil {
		metrics.RecordStorageError(redisName, "get")
		return model.MasteryRecord{}, fmt.Errorf("hget %s: %w", key.ConceptID, err)
	}
	var rec model.MasteryRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.MasteryRecord{}, fmt.Errorf("decode %s: %w", key.ConceptID, err)
	}
	return rec, nil
}

// Commit implements Store.
func (s *RedisStore) Commit(ctx context.Context, c model.Commit) error {
	start := time.Now()
	defer observe(redisName, "commit", start)
	if err := validateCommit(c); err != nil {
		return err
	}

	key := s.pairKey(c.StudentID, c.CourseID)
	fields := make([]string, len(c.Records))
	for i, r := range c.Records {
		fields[i] = r.ConceptID
	}

	txf := func(tx *goredis.Tx) error {
		current, err := tx.HMGet(ctx, key, fields...).Result()
		if err != nil {
			return err
		}
		created := 0
		for i, v := range current {
			var version int64
			if raw, ok := v.(string); ok {
				var stored model.MasteryRecord
				if err := json.Unmarshal([]byte(raw), &stored); err != nil {
					return fmt.Errorf("decode %s: %w", fields[i], err)
				}
				version = stored.Version
			}
			if version != c.Records[i].Version {
				return ErrConflict
			}
			if version == 0 {
				created++
			}
		}

		values := make([]interface{}, 0, 2*len(c.Records))
		for _, r := range c.Records {
			r.Version++
			raw, err := json.Marshal(r)
			if err != nil {
				return err
			}
			values = append(values, r.ConceptID, string(raw))
		}
		var entry []byte
		if s.opts.logEvidence {
			if entry, err = json.Marshal(c.Evidence); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, values...)
			if created > 0 {
				pipe.IncrBy(ctx, s.countKey(), int64(created))
			}
			if entry != nil {
				logKey := s.logKey(c.StudentID, c.CourseID)
				pipe.LPush(ctx, logKey, entry)
				pipe.LTrim(ctx, logKey, 0, evidenceLogCap-1)
			}
			return nil
		})
		return err
	}

	err := s.rdb.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.TxFailedErr), errors.Is(err, ErrConflict):
		return ErrConflict
	default:
		metrics.RecordStorageError(redisName, "commit")
		return fmt.Errorf("commit %s: %w", c.EventID, err)
	}
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, studentID, courseID string) ([]model.MasteryRecord, error) {
	start := time.Now()
	defer observe(redisName, "list", start)

	all, err := s.rdb.HGetAll(ctx, s.pairKey(studentID, courseID)).Result()
	if err != nil {
		metrics.RecordStorageError(redisName, "list")
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make([]model.MasteryRecord, 0, len(all))
	for concept, raw := range all {
		var rec model.MasteryRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", concept, err)
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b model.MasteryRecord) int { return strings.Compare(a.ConceptID, b.ConceptID) })
	return out, nil
}

// Count implements Counter.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.Get(ctx, s.countKey()).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return n, err
}

// Close implements Store.
func (s *RedisStore) Close() error { return s.rdb.Close() }
