package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const sample = `
concepts:
  - id: linear_equations
    importance: 2
  - id: fractions
items:
  - id: "101"
    kind: question
    concepts: [linear_equations, fractions, linear_equations]
  - id: "9"
    kind: activity
    concepts: [fractions]
  - id: video-1
    kind: content
    concepts: [linear_equations]
`

type flakySource struct {
	mu    sync.Mutex
	snaps []*Snapshot
	err   error
	calls int
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Load(context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := f.snaps[0]
	if len(f.snaps) > 1 {
		f.snaps = f.snaps[1:]
	}
	return s, nil
}

func TestSnapshot(t *testing.T) {
	Convey("Given a parsed registry document", t, func() {
		s, err := Parse("test", []byte(sample))
		So(err, ShouldBeNil)

		Convey("Items resolve to sorted, de-duplicated concepts", func() {
			So(s.Resolve("101", KindQuestion), ShouldResemble, []string{"fractions", "linear_equations"})
			So(s.Resolve(" 9 ", KindActivity), ShouldResemble, []string{"fractions"})
		})

		Convey("Kinds are separate namespaces", func() {
			So(s.Resolve("101", KindActivity), ShouldBeEmpty)
		})

		Convey("Unknown items resolve to nothing", func() {
			So(s.Resolve("404", KindQuestion), ShouldBeEmpty)
		})

		Convey("Callers cannot mutate the snapshot through Resolve", func() {
			got := s.Resolve("101", KindQuestion)
			got[0] = "mutated"
			So(s.Resolve("101", KindQuestion)[0], ShouldEqual, "fractions")
		})

		Convey("Importance falls back to the default", func() {
			So(s.Importance("linear_equations"), ShouldEqual, 2)
			So(s.Importance("fractions"), ShouldEqual, DefaultImportance)
			So(s.Importance("unknown"), ShouldEqual, DefaultImportance)
		})

		Convey("Sizes are reported", func() {
			So(s.Items(), ShouldEqual, 3)
			So(s.Concepts(), ShouldEqual, 2)
			So(s.Source(), ShouldEqual, "test")
		})
	})

	Convey("Invalid documents are rejected", t, func() {
		_, err := Parse("bad", []byte("items: [ {id: \"\", concepts: [a]} ]"))
		So(errors.Is(err, ErrInvalidSource), ShouldBeTrue)

		_, err = Parse("bad", []byte(":::"))
		So(errors.Is(err, ErrInvalidSource), ShouldBeTrue)

		_, err = Parse("bad", []byte("concepts:\n  - id: a\n"))
		So(errors.Is(err, ErrInvalidSource), ShouldBeTrue)

		_, err = Parse("bad", []byte("itemz:\n  - id: x\n"))
		So(errors.Is(err, ErrInvalidSource), ShouldBeTrue)

		_, err = NewSnapshot("bad", nil, map[string]float64{"a": -1})
		So(errors.Is(err, ErrInvalidSource), ShouldBeTrue)
	})
}

func TestFileSource(t *testing.T) {
	Convey("Given a registry file on disk", t, func() {
		path := filepath.Join(t.TempDir(), "registry.yaml")
		So(os.WriteFile(path, []byte(sample), 0o600), ShouldBeNil)

		r := New(WithSource(NewFileSource(path)))
		So(r.Reload(context.Background()), ShouldBeNil)
		So(r.Resolve("video-1", KindContent), ShouldResemble, []string{"linear_equations"})

		Convey("An empty file keeps the previous snapshot", func() {
			So(os.WriteFile(path, nil, 0o600), ShouldBeNil)
			So(errors.Is(r.Reload(context.Background()), ErrInvalidSource), ShouldBeTrue)
			So(r.Resolve("video-1", KindContent), ShouldResemble, []string{"linear_equations"})
		})

		Convey("A truncated file keeps the previous snapshot", func() {
			So(os.WriteFile(path, []byte(sample[:40]), 0o600), ShouldBeNil)
			So(r.Reload(context.Background()), ShouldNotBeNil)
			So(r.Resolve("video-1", KindContent), ShouldResemble, []string{"linear_equations"})
		})

		Convey("A missing file keeps the previous snapshot", func() {
			So(os.Remove(path), ShouldBeNil)
			So(r.Reload(context.Background()), ShouldNotBeNil)
			So(r.Resolve("video-1", KindContent), ShouldResemble, []string{"linear_equations"})
		})
	})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	Convey("A registry without a source", t, func() {
		r := New()
		So(r.Snapshot().Items(), ShouldEqual, 0)
		So(errors.Is(r.Reload(ctx), ErrNoSource), ShouldBeTrue)
		So(r.Start(ctx), ShouldBeNil)
		r.Close()
	})

	Convey("Held snapshots are unaffected by Replace", t, func() {
		first, _ := NewSnapshot("a", []Mapping{{ItemID: "q1", Concepts: []string{"x"}}}, nil)
		second, _ := NewSnapshot("b", []Mapping{{ItemID: "q1", Concepts: []string{"y"}}}, nil)
		r := New(WithSnapshot(first))

		held := r.Snapshot()
		r.Replace(second)
		So(held.Resolve("q1", KindQuestion), ShouldResemble, []string{"x"})
		So(r.Resolve("q1", KindQuestion), ShouldResemble, []string{"y"})

		r.Replace(nil)
		So(r.Snapshot().Items(), ShouldEqual, 0)
	})

	Convey("The refresher picks up new snapshots", t, func() {
		first, _ := NewSnapshot("a", []Mapping{{ItemID: "q1", Concepts: []string{"x"}}}, nil)
		second, _ := NewSnapshot("b", []Mapping{{ItemID: "q1", Concepts: []string{"y"}}}, map[string]float64{"y": 3})
		src := &flakySource{snaps: []*Snapshot{first, second}}
		r := New(WithSource(src), WithRefreshInterval(10*time.Millisecond))

		So(r.Start(ctx), ShouldBeNil)
		defer r.Close()
		So(r.Resolve("q1", KindQuestion), ShouldResemble, []string{"x"})

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && r.Importance("y") != 3 {
			time.Sleep(5 * time.Millisecond)
		}
		So(r.Resolve("q1", KindQuestion), ShouldResemble, []string{"y"})
	})

	Convey("A failing first load is reported by Start", t, func() {
		src := &flakySource{err: errors.New("graph down")}
		r := New(WithSource(src))
		So(r.Start(ctx), ShouldNotBeNil)
		So(r.Snapshot().Items(), ShouldEqual, 0)
	})
}
