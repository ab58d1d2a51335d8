package registry

import (
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	. "github.com/smartystreets/goconvey/convey"
)

func graphRecord(item, kind, concept, importance any) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"item", "kind", "concept", "importance"},
		Values: []any{item, kind, concept, importance},
	}
}

func TestRowsToMappings(t *testing.T) {
	Convey("Graph rows become mappings", t, func() {
		cases := []struct {
			name       string
			rec        *neo4j.Record
			item       string
			concept    string
			importance float64
		}{
			{"string ids", graphRecord("101", "question", "fractions", 2.5), "101", "fractions", 2.5},
			{"integer item id", graphRecord(int64(42), "activity", "fractions", int64(3)), "42", "fractions", 3},
			{"integer concept id", graphRecord("v1", "content", int64(7), 1.0), "v1", "7", 1},
		}
		for _, tc := range cases {
			Convey(tc.name, func() {
				rows, err := rowsToMappings([]*neo4j.Record{tc.rec})
				So(err, ShouldBeNil)
				So(rows.mappings, ShouldHaveLength, 1)
				So(rows.mappings[0].ItemID, ShouldEqual, tc.item)
				So(rows.mappings[0].Concepts, ShouldResemble, []string{tc.concept})
				So(rows.importance[tc.concept], ShouldEqual, tc.importance)
			})
		}
	})

	Convey("Rows with unusable ids are rejected", t, func() {
		for _, rec := range []*neo4j.Record{
			graphRecord(nil, "question", "fractions", 1.0),
			graphRecord("101", "question", 1.5, 1.0),
			{Keys: []string{"kind", "concept"}, Values: []any{"question", "fractions"}},
		} {
			_, err := rowsToMappings([]*neo4j.Record{rec})
			So(errors.Is(err, ErrInvalidSource), ShouldBeTrue)
		}
	})

	Convey("Rows convert into a snapshot", t, func() {
		rows, err := rowsToMappings([]*neo4j.Record{
			graphRecord(int64(1), "question", "algebra", 1.0),
			graphRecord(int64(1), "question", "fractions", 1.0),
		})
		So(err, ShouldBeNil)
		s, err := NewSnapshot("neo4j", rows.mappings, rows.importance)
		So(err, ShouldBeNil)
		So(s.Resolve("1", KindQuestion), ShouldResemble, []string{"algebra", "fractions"})
	})
}
