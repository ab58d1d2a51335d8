package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ktrace/internal/domain/model"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := OpenGorm(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("KTRACE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KTRACE_TEST_REDIS_ADDR to run redis store tests")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	s := NewRedisStore(rdb, WithKeyPrefix("ktrace-test-"+uuid.NewString()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func commitFor(records ...model.MasteryRecord) model.Commit {
	return model.Commit{
		StudentID: records[0].StudentID,
		CourseID:  records[0].CourseID,
		EventID:   "e-" + uuid.NewString(),
		Evidence: model.Evidence{
			StudentID: records[0].StudentID,
			CourseID:  records[0].CourseID,
			Outcome:   model.Correct(),
			Weight:    1,
			Timestamp: time.Now().UTC(),
			Source:    model.SourceResponse,
		},
		Records: records,
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	student := "s-" + uuid.NewString()
	keyA := model.RecordKey{StudentID: student, CourseID: "7", ConceptID: "a"}
	keyB := model.RecordKey{StudentID: student, CourseID: "7", ConceptID: "b"}

	Convey("Get materializes the default without persisting", func() {
		rec, err := s.Get(ctx, keyA)
		So(err, ShouldBeNil)
		So(rec.Probability, ShouldEqual, model.DefaultPrior)
		So(rec.Version, ShouldEqual, 0)

		list, err := s.List(ctx, student, "7")
		So(err, ShouldBeNil)
		So(list, ShouldBeEmpty)
	})

	Convey("Commit writes all records and bumps versions", func() {
		a, _ := s.Get(ctx, keyA)
		b, _ := s.Get(ctx, keyB)
		a.Probability, b.Probability = 0.5, 0.6
		a.UpdateCount, b.UpdateCount = 1, 1
		a.Applied = a.Applied.Record("e1", time.Now(), 8)
		b.Applied = b.Applied.Record("e1", time.Now(), 8)
		So(s.Commit(ctx, commitFor(b, a)), ShouldBeNil)

		got, err := s.Get(ctx, keyA)
		So(err, ShouldBeNil)
		So(got.Version, ShouldEqual, 1)
		So(got.Probability, ShouldEqual, 0.5)
		So(got.Applied.Contains("e1", time.Time{}), ShouldBeTrue)

		list, err := s.List(ctx, student, "7")
		So(err, ShouldBeNil)
		So(len(list), ShouldEqual, 2)
		So(list[0].ConceptID, ShouldEqual, "a")
		So(list[1].ConceptID, ShouldEqual, "b")

		Convey("A stale version conflicts and nothing is written", func() {
			stale := a
			stale.Probability = 0.9
			fresh, _ := s.Get(ctx, keyB)
			fresh.Probability = 0.1
			err := s.Commit(ctx, commitFor(fresh, stale))
			So(errors.Is(err, ErrConflict), ShouldBeTrue)
			So(errors.Is(err, model.ErrConflict), ShouldBeTrue)

			b2, _ := s.Get(ctx, keyB)
			So(b2.Probability, ShouldEqual, 0.6)
			So(b2.Version, ShouldEqual, 1)
		})

		Convey("Creating a record that already exists conflicts", func() {
			dup := model.NewMasteryRecord(keyA, 0.4)
			So(errors.Is(s.Commit(ctx, commitFor(dup)), ErrConflict), ShouldBeTrue)
		})
	})

	Convey("Invalid commits are rejected", func() {
		rec := model.NewMasteryRecord(keyA, 1.5)
		So(errors.Is(s.Commit(ctx, commitFor(rec)), ErrInvalidCommit), ShouldBeTrue)

		other := model.NewMasteryRecord(model.RecordKey{StudentID: "x", CourseID: "7", ConceptID: "a"}, 0.3)
		ok := model.NewMasteryRecord(keyA, 0.3)
		So(errors.Is(s.Commit(ctx, commitFor(ok, other)), ErrInvalidCommit), ShouldBeTrue)

		So(errors.Is(s.Commit(ctx, model.Commit{StudentID: student, CourseID: "7", EventID: "e"}), ErrInvalidCommit), ShouldBeTrue)
	})

	Convey("Concurrent creators of the same record see exactly one success", func() {
		key := model.RecordKey{StudentID: student, CourseID: "race", ConceptID: "c"}
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := model.NewMasteryRecord(key, 0.3)
				rec.UpdateCount = 1
				err := s.Commit(ctx, commitFor(rec))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()
		So(wins.Load(), ShouldEqual, 1)
		So(conflicts.Load(), ShouldEqual, 7)
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		s := NewMemoryStore(WithShards(4))
		So(s.Name(), ShouldEqual, "memory")
		runStoreContract(t, s)
	})

	Convey("Count sums records across shards", t, func() {
		s := NewMemoryStore()
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			rec := model.NewMasteryRecord(model.RecordKey{StudentID: fmt.Sprint(i), CourseID: "1", ConceptID: "a"}, 0.3)
			So(s.Commit(ctx, commitFor(rec)), ShouldBeNil)
		}
		n, err := s.Count(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 5)
	})

	Convey("A cancelled context is honoured", t, func() {
		s := NewMemoryStore()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Get(ctx, model.RecordKey{StudentID: "1", CourseID: "1", ConceptID: "a"})
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}

func TestGormStore(t *testing.T) {
	Convey("Given a sqlite-backed gorm store", t, func() {
		s := newSQLiteStore(t)
		So(s.Name(), ShouldEqual, "gorm")
		runStoreContract(t, s)
	})

	Convey("Commits leave an evidence audit row", t, func() {
		s := newSQLiteStore(t)
		ctx := context.Background()
		rec := model.NewMasteryRecord(model.RecordKey{StudentID: "42", CourseID: "7", ConceptID: "a"}, 0.3)
		So(s.Commit(ctx, commitFor(rec)), ShouldBeNil)

		n, err := s.EvidenceLogCount(ctx, "42", "7")
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)

		count, err := s.Count(ctx)
		So(err, ShouldBeNil)
		So(count, ShouldEqual, 1)
	})

	Convey("Unknown drivers are rejected", t, func() {
		_, err := OpenGorm("oracle", "")
		So(errors.Is(err, ErrUnknownDriver), ShouldBeTrue)
		_, err = Open(context.Background(), Config{Driver: "cassandra"})
		So(errors.Is(err, ErrUnknownDriver), ShouldBeTrue)
	})
}

func TestRedisStore(t *testing.T) {
	s := newRedisStore(t)
	Convey("Given a redis store", t, func() {
		So(s.Name(), ShouldEqual, "redis")
		runStoreContract(t, s)
	})
}
