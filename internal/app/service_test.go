package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ktrace/internal/adapters/repository"
	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/internal/domain/registry"
	"github.com/okian/ktrace/internal/domain/tracing"
)

var t0 = time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	snap, err := registry.NewSnapshot("test", []registry.Mapping{
		{ItemID: "q1", Kind: registry.KindQuestion, Concepts: []string{"linear_equations"}},
		{ItemID: "q2", Kind: registry.KindQuestion, Concepts: []string{"linear_equations"}},
		{ItemID: "q3", Kind: registry.KindQuestion, Concepts: []string{"linear_equations"}},
		{ItemID: "q4", Kind: registry.KindQuestion, Concepts: []string{"fractions"}},
		{ItemID: "quiz-1", Kind: registry.KindActivity, Concepts: []string{"fractions"}},
	}, nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return registry.New(registry.WithSnapshot(snap))
}

func threeCorrect(attemptID string) model.Attempt {
	a := model.Attempt{AttemptID: attemptID, StudentID: "42", CourseID: "7", FirstName: "Ada", QuizName: "Equations"}
	for i := 1; i <= 3; i++ {
		a.Responses = append(a.Responses, model.Response{
			QuestionID: fmt.Sprintf("q%d", i),
			Correct:    model.CorrectnessCorrect,
			Timestamp:  t0.Add(time.Duration(i) * time.Minute),
			EventID:    fmt.Sprintf("resp-%d", i),
		})
	}
	return a
}

func startService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithRegistry(testRegistry(t)), WithWorkerCount(2), WithQueueSize(64)}, opts...)
	svc := New(opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return svc
}

func stop(svc *Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = svc.Stop(ctx)
}

// gateStore blocks Get until the gate opens.
type gateStore struct {
	*repository.MemoryStore
	gate chan struct{}
}

func (g *gateStore) Get(ctx context.Context, key model.RecordKey) (model.MasteryRecord, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return model.MasteryRecord{}, ctx.Err()
	}
	return g.MemoryStore.Get(ctx, key)
}

// brokenStore fails every commit.
type brokenStore struct {
	*repository.MemoryStore
}

func (brokenStore) Commit(context.Context, model.Commit) error {
	return errors.New("connection reset")
}

func TestServiceTrace(t *testing.T) {
	Convey("Given a started service with a concept registry", t, func() {
		svc := startService(t)
		Reset(func() { stop(svc) })
		ctx := context.Background()

		Convey("When student 42 answers three linear_equations questions correctly", func() {
			out, err := svc.Trace(ctx, threeCorrect("a-1"))

			Convey("Then the concept is mastered and the only one evaluated", func() {
				So(err, ShouldBeNil)
				So(out.Report.Applied, ShouldEqual, 3)
				So(out.State.ConceptsMastered, ShouldResemble, []string{"linear_equations"})
				So(out.State.ConceptsStruggling, ShouldBeEmpty)
				So(out.State.ConceptsEvaluated, ShouldEqual, 1)
				So(out.State.OverallProficiency, ShouldBeGreaterThanOrEqualTo, 0.75)
			})

			Convey("And the identical attempt is replayed", func() {
				again, err := svc.Trace(ctx, threeCorrect("a-1"))

				Convey("Then nothing changes", func() {
					So(err, ShouldBeNil)
					So(again.Report.Applied, ShouldEqual, 0)
					So(again.Report.Duplicates, ShouldEqual, 3)
					So(again.State.OverallProficiency, ShouldEqual, out.State.OverallProficiency)
					So(again.State.Concepts, ShouldResemble, out.State.Concepts)
				})
			})
		})

		Convey("When an attempt mixes unknown items and bad records", func() {
			a := threeCorrect("a-2")
			a.Responses = append(a.Responses,
				model.Response{QuestionID: "unknown", Correct: model.CorrectnessCorrect, Timestamp: t0},
				model.Response{QuestionID: "q4", Correct: model.CorrectnessInvalid, Timestamp: t0},
			)
			out, err := svc.Trace(ctx, a)

			Convey("Then the good records apply and the rest are reported", func() {
				So(err, ShouldBeNil)
				So(out.Report.Applied, ShouldEqual, 3)
				So(out.Report.Dropped, ShouldEqual, 2)
				So(len(out.Report.Warnings), ShouldEqual, 2)
			})
		})

		Convey("When required fields are missing", func() {
			a := threeCorrect("")
			a.StudentID = ""
			_, err := svc.Trace(ctx, a)

			Convey("Then it is a validation error naming them", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "attemptid")
				So(err.Error(), ShouldContainSubstring, "userid")
			})
		})

		Convey("When asking for the state of an untouched student", func() {
			state, err := svc.KnowledgeState(ctx, "99", "7")

			Convey("Then nothing is evaluated", func() {
				So(err, ShouldBeNil)
				So(state.ConceptsEvaluated, ShouldEqual, 0)
				So(state.ConceptsMastered, ShouldBeEmpty)
			})
		})

		Convey("When generating feedback", func() {
			_, text, err := svc.GenerateFeedback(ctx, threeCorrect("a-3"))

			Convey("Then the text names the mastered concept", func() {
				So(err, ShouldBeNil)
				So(text, ShouldContainSubstring, "Ada")
				So(text, ShouldContainSubstring, "linear_equations")
			})
		})

		Convey("When reading stats", func() {
			stats := svc.GetStats(ctx)

			Convey("Then components are reported", func() {
				So(stats["started"], ShouldBeTrue)
				So(stats["rule"], ShouldEqual, "bkt")
				So(stats["store"], ShouldEqual, "memory")
				So(stats["registry"].(RegistryInfo).Concepts, ShouldEqual, 2)
			})
		})

		Convey("When reloading a registry without a source", func() {
			_, err := svc.ReloadRegistry(ctx)

			Convey("Then the registry reports it", func() {
				So(errors.Is(err, registry.ErrNoSource), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service that is not started", t, func() {
		svc := New()

		Convey("Then every operation is refused", func() {
			_, err := svc.Trace(context.Background(), threeCorrect("a"))
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			_, _, err = svc.Enqueue(context.Background(), threeCorrect("a"))
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats(context.Background())["started"], ShouldBeFalse)
		})
	})

	Convey("Given a store that keeps failing", t, func() {
		svc := startService(t,
			WithStore(brokenStore{repository.NewMemoryStore()}),
			WithEngineOptions(tracing.WithCommitAttempts(2), tracing.WithBackoff(time.Millisecond, time.Millisecond)),
		)
		Reset(func() { stop(svc) })

		Convey("When tracing", func() {
			_, err := svc.Trace(context.Background(), threeCorrect("a-1"))

			Convey("Then the error is transient", func() {
				So(errors.Is(err, model.ErrTransientStorage), ShouldBeTrue)
			})
		})
	})
}

func TestServiceBatch(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startService(t, WithMaxBatchSize(4), WithBatchConcurrency(2))
		Reset(func() { stop(svc) })
		ctx := context.Background()

		Convey("When a batch mixes keys and an invalid attempt", func() {
			other := threeCorrect("b-2")
			other.StudentID = "43"
			bad := threeCorrect("")
			results, err := svc.TraceBatch(ctx, []model.Attempt{threeCorrect("b-1"), other, bad, threeCorrect("b-1")})

			Convey("Then every attempt gets its own result in input order", func() {
				So(err, ShouldBeNil)
				So(len(results), ShouldEqual, 4)
				So(results[0].Err, ShouldBeNil)
				So(results[0].Outcome.Report.Applied, ShouldEqual, 3)
				So(results[1].Err, ShouldBeNil)
				So(results[1].Outcome.State.StudentID, ShouldEqual, "43")
				So(errors.Is(results[2].Err, model.ErrValidation), ShouldBeTrue)
				So(results[3].Outcome.Report.Duplicates, ShouldEqual, 3)
			})
		})

		Convey("When the batch is too large or empty", func() {
			a := threeCorrect("x")
			_, errBig := svc.TraceBatch(ctx, []model.Attempt{a, a, a, a, a})
			_, errEmpty := svc.TraceBatch(ctx, nil)

			Convey("Then it is rejected", func() {
				So(errors.Is(errBig, model.ErrValidation), ShouldBeTrue)
				So(errors.Is(errEmpty, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

func TestServiceEnqueue(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startService(t)
		Reset(func() { stop(svc) })
		ctx := context.Background()

		Convey("When an attempt is queued", func() {
			id, dup, err := svc.Enqueue(ctx, threeCorrect("a-1"))

			Convey("Then it is traced in the background", func() {
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(id, ShouldNotBeEmpty)

				deadline := time.Now().Add(2 * time.Second)
				var state model.KnowledgeStateSnapshot
				for time.Now().Before(deadline) {
					state, _ = svc.KnowledgeState(ctx, "42", "7")
					if state.ConceptsEvaluated == 1 {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				So(state.ConceptsMastered, ShouldResemble, []string{"linear_equations"})
			})
		})
	})

	Convey("Given a service whose store is stalled", t, func() {
		gate := make(chan struct{})
		svc := startService(t,
			WithStore(&gateStore{MemoryStore: repository.NewMemoryStore(), gate: gate}),
			WithWorkerCount(1),
			WithQueueSize(1),
		)
		var once sync.Once
		Reset(func() {
			once.Do(func() { close(gate) })
			stop(svc)
		})
		ctx := context.Background()

		Convey("When the same attempt is queued twice", func() {
			_, first, err1 := svc.Enqueue(ctx, threeCorrect("a-1"))
			_, second, err2 := svc.Enqueue(ctx, threeCorrect("a-1"))

			Convey("Then the second is acknowledged as a duplicate", func() {
				So(err1, ShouldBeNil)
				So(first, ShouldBeFalse)
				So(err2, ShouldBeNil)
				So(second, ShouldBeTrue)
			})
		})

		Convey("When more attempts arrive than the queue holds", func() {
			var err error
			for i := 0; i < 10 && err == nil; i++ {
				_, _, err = svc.Enqueue(ctx, threeCorrect(fmt.Sprintf("a-%d", i)))
			}

			Convey("Then backpressure is reported", func() {
				So(errors.Is(err, ErrBackpressure), ShouldBeTrue)
			})

			Convey("Then stopping drains accepted work once the store recovers", func() {
				once.Do(func() { close(gate) })
				sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				So(svc.Stop(sctx), ShouldBeNil)
			})
		})
	})
}
