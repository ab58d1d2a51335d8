package model

import (
	"errors"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOutcome(t *testing.T) {
	Convey("Outcome validation", t, func() {
		So(Correct().Validate(), ShouldBeNil)
		So(Incorrect().Validate(), ShouldBeNil)
		So(Viewed().Validate(), ShouldBeNil)
		So(Partial(0.5).Validate(), ShouldBeNil)

		Convey("Unknown kinds are rejected", func() {
			err := Outcome{Kind: "guessed"}.Validate()
			So(errors.Is(err, ErrUnknownOutcome), ShouldBeTrue)
		})

		Convey("Partial credit must lie in [0,1]", func() {
			So(errors.Is(Partial(1.2).Validate(), ErrUnknownOutcome), ShouldBeTrue)
			So(errors.Is(Partial(math.NaN()).Validate(), ErrUnknownOutcome), ShouldBeTrue)
		})

		Convey("String renders partial credit", func() {
			So(Partial(0.25).String(), ShouldEqual, "partial(0.250)")
			So(Correct().String(), ShouldEqual, "correct")
		})
	})
}

func TestMasteryRecord(t *testing.T) {
	Convey("Given a default record", t, func() {
		key := RecordKey{StudentID: "42", CourseID: "7", ConceptID: "linear_equations"}
		r := NewMasteryRecord(key, DefaultPrior)

		So(r.Probability, ShouldEqual, DefaultPrior)
		So(r.Version, ShouldEqual, 0)
		So(r.Evaluated(), ShouldBeFalse)
		So(r.Key(), ShouldResemble, key)
		So(r.Key().Pair().String(), ShouldEqual, "42/7")

		Convey("Clone detaches the ledger", func() {
			r.Applied = r.Applied.Record("e1", time.Now(), 8)
			c := r.Clone()
			c.Applied.Entries[0].ID = "other"
			So(r.Applied.Entries[0].ID, ShouldEqual, "e1")
		})
	})
}

func TestAttempt(t *testing.T) {
	Convey("An attempt without records is empty", t, func() {
		a := Attempt{AttemptID: "1", StudentID: "42", CourseID: "7"}
		So(a.Empty(), ShouldBeTrue)
		a.ContentViews = append(a.ContentViews, ContentView{ContentID: "c"})
		So(a.Empty(), ShouldBeFalse)
		So(a.Key(), ShouldResemble, Key{StudentID: "42", CourseID: "7"})
	})
}
