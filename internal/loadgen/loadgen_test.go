package loadgen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/ktrace/internal/adapters/http/api"
	service "github.com/okian/ktrace/internal/app"
	"github.com/okian/ktrace/internal/domain/registry"
	"github.com/okian/ktrace/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func startServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()
	raw, err := RegistryYAML(cfg)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := registry.Parse("loadgen", raw)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	svc := service.New(
		service.WithRegistry(registry.New(registry.WithSnapshot(snap))),
		service.WithWorkerCount(2),
	)
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc, api.WithAPIKey("k")).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Stop(ctx)
	})
	return srv
}

func TestGenerate(t *testing.T) {
	Convey("Given a small configuration", t, func() {
		cfg := &Config{Students: 3, Courses: 2, Attempts: 4, Questions: 5, Concepts: 3, Seed: 7}

		Convey("When a workload is generated", func() {
			w := Generate(cfg)

			Convey("Then it has one attempt per student, course and round", func() {
				So(w.Attempts, ShouldHaveLength, 3*2*4)
				So(w.Keys(), ShouldHaveLength, 3*2)
				So(w.Concepts, ShouldHaveLength, 3)
			})

			Convey("Then attempt IDs are unique and questions are not repeated within an attempt", func() {
				ids := make(map[string]bool)
				for _, a := range w.Attempts {
					So(ids[a.AttemptID], ShouldBeFalse)
					ids[a.AttemptID] = true
					seen := make(map[string]bool)
					for _, r := range a.Responses {
						So(seen[r.QuestionID], ShouldBeFalse)
						seen[r.QuestionID] = true
					}
					So(a.Responses, ShouldHaveLength, 5)
				}
			})

			Convey("Then the same seed yields the same answers", func() {
				again := Generate(cfg)
				for i := range w.Attempts {
					So(again.Attempts[i].Responses, ShouldResemble, w.Attempts[i].Responses)
				}
			})
		})

		Convey("When the registry is rendered", func() {
			raw, err := RegistryYAML(cfg)
			So(err, ShouldBeNil)
			snap, err := registry.Parse("test", raw)
			So(err, ShouldBeNil)

			Convey("Then every generated item resolves to a concept", func() {
				w := Generate(cfg)
				for _, a := range w.Attempts {
					for _, r := range a.Responses {
						So(snap.Resolve(r.QuestionID, registry.KindQuestion), ShouldHaveLength, 1)
					}
					So(snap.Resolve(a.History[0].ItemID, registry.KindActivity), ShouldHaveLength, 1)
					So(snap.Resolve(a.ContentViews[0].ContentID, registry.KindContent), ShouldHaveLength, 1)
				}
				So(snap.Concepts(), ShouldEqual, 3)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given configurations", t, func() {
		Convey("When the base URL is missing", func() {
			So(errors.Is((&Config{}).Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("When counts are negative", func() {
			So(errors.Is((&Config{BaseURL: "http://x", Students: -1}).Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("When only the base URL is set", func() {
			cfg := &Config{BaseURL: "http://x"}
			So(cfg.Validate(), ShouldBeNil)
			So(cfg.Students, ShouldEqual, DefaultStudents)
			So(cfg.Timeout, ShouldEqual, DefaultTimeout)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running server with the workload registry", t, func() {
		cfg := &Config{Students: 4, Courses: 2, Attempts: 3, Questions: 4, Concepts: 3, Workers: 3, Seed: 11, APIKey: "k"}
		srv := startServer(t, cfg)
		cfg.BaseURL = srv.URL
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		Convey("When the workload runs synchronously", func() {
			stats, mismatches, err := Run(ctx, cfg, logger.Get())

			Convey("Then every attempt is accepted and the replay changes nothing", func() {
				So(err, ShouldBeNil)
				So(mismatches, ShouldBeEmpty)
				So(stats.Submitted, ShouldEqual, 4*2*3)
				So(stats.Accepted, ShouldEqual, stats.Submitted)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.StatesChecked, ShouldEqual, 4*2)
				So(stats.ReplayApplied, ShouldEqual, 0)
			})
		})

		Convey("When the workload runs through the async queue", func() {
			cfg.Async = true
			stats, mismatches, err := Run(ctx, cfg, logger.Get())

			Convey("Then the queue drains and the replay changes nothing", func() {
				So(err, ShouldBeNil)
				So(mismatches, ShouldBeEmpty)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.Accepted+stats.Duplicates, ShouldEqual, stats.Submitted)
			})
		})

		Convey("When the API key is wrong", func() {
			cfg.APIKey = "nope"
			stats, _, err := Run(ctx, cfg, logger.Get())

			Convey("Then every submission fails and the state read errors", func() {
				So(err, ShouldNotBeNil)
				So(stats.Failed, ShouldEqual, stats.Submitted)
			})
		})
	})
}

func TestCompare(t *testing.T) {
	Convey("Given two snapshots of one key", t, func() {
		k := [2]string{"u", "c"}
		before := map[[2]string]KnowledgeState{k: {Concepts: []ConceptState{{ConceptID: "a", Probability: 0.5, Evidence: 2}}}}

		Convey("When nothing changed", func() {
			after := map[[2]string]KnowledgeState{k: {Concepts: []ConceptState{{ConceptID: "a", Probability: 0.5, Evidence: 2}}}}
			So(compare(before, after), ShouldBeEmpty)
		})

		Convey("When a probability moved", func() {
			after := map[[2]string]KnowledgeState{k: {Concepts: []ConceptState{{ConceptID: "a", Probability: 0.6, Evidence: 3}}}}
			m := compare(before, after)
			So(m, ShouldHaveLength, 1)
			So(m[0].String(), ShouldEqual, "u/c a: 0.500000 -> 0.600000")
		})
	})
}
