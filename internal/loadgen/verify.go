package loadgen

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

const probabilityTolerance = 1e-9

// snapshot reads the state of every key with bounded concurrency.
func snapshot(ctx context.Context, c *Client, keys [][2]string, workers int) (map[[2]string]KnowledgeState, error) {
	states := make([]KnowledgeState, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, k := range keys {
		g.Go(func() error {
			s, err := c.State(ctx, k[0], k[1])
			if err != nil {
				return fmt.Errorf("read state %s/%s: %w", k[0], k[1], err)
			}
			states[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[[2]string]KnowledgeState, len(keys))
	for i, k := range keys {
		out[k] = states[i]
	}
	return out, nil
}

// Mismatch describes a concept whose state changed across a replay.
type Mismatch struct {
	UserID    string
	CourseID  string
	ConceptID string
	Before    float64
	After     float64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s/%s %s: %.6f -> %.6f", m.UserID, m.CourseID, m.ConceptID, m.Before, m.After)
}

// compare returns every concept whose probability or evidence count differs.
func compare(before, after map[[2]string]KnowledgeState) []Mismatch {
	var out []Mismatch
	for k, b := range before {
		a := after[k]
		got := make(map[string]ConceptState, len(a.Concepts))
		for _, cs := range a.Concepts {
			got[cs.ConceptID] = cs
		}
		for _, want := range b.Concepts {
			cs, ok := got[want.ConceptID]
			if !ok || cs.Evidence != want.Evidence || math.Abs(cs.Probability-want.Probability) > probabilityTolerance {
				out = append(out, Mismatch{
					UserID:    k[0],
					CourseID:  k[1],
					ConceptID: want.ConceptID,
					Before:    want.Probability,
					After:     cs.Probability,
				})
			}
		}
		if len(a.Concepts) > len(b.Concepts) {
			out = append(out, Mismatch{UserID: k[0], CourseID: k[1], ConceptID: "(new concepts)"})
		}
	}
	return out
}
