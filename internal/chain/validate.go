package chain

import (
	"errors"
	"fmt"
)

var (
	ErrSelfEdge        = errors.New("participant targets itself")
	ErrNotTotal        = errors.New("active participant has no target")
	ErrForeignEdge     = errors.New("edge leaves the active set")
	ErrInverseMismatch = errors.New("pursuers do not mirror targets")
	ErrNotSingleCycle  = errors.New("targets do not form a single cycle")
)

// Validate checks the graph against the active participant set. Below two
// participants the graph must be empty. Otherwise every active participant
// must target another active participant, every edge must be recorded in
// the target's pursuer set, and following targets from any participant must
// visit all of them exactly once before returning.
//
// Stale pursuer entries with no matching edge are only an error in strict
// mode.
func (g *Graph) Validate(active []ParticipantID) error {
	ids := uniqueSorted(active)
	if len(ids) < 2 {
		if len(g.target) > 0 {
			return fmt.Errorf("%w: %d edges with %d active", ErrForeignEdge, len(g.target), len(ids))
		}
		return nil
	}

	set := make(idSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	for _, p := range ids {
		t, ok := g.target[p]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotTotal, p)
		}
		if t == p {
			return fmt.Errorf("%w: %s", ErrSelfEdge, p)
		}
		if _, ok := set[t]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrForeignEdge, p, t)
		}
		if _, ok := g.pursuers[t][p]; !ok {
			return fmt.Errorf("%w: %s missing from pursuers of %s", ErrInverseMismatch, p, t)
		}
	}
	if len(g.target) != len(ids) {
		for p := range g.target {
			if _, ok := set[p]; !ok {
				return fmt.Errorf("%w: %s is not active", ErrForeignEdge, p)
			}
		}
	}

	if g.strict {
		for t, pursuers := range g.pursuers {
			for q := range pursuers {
				if g.target[q] != t {
					return fmt.Errorf("%w: %s recorded as hunting %s", ErrInverseMismatch, q, t)
				}
			}
		}
	}

	start := ids[0]
	seen := make(idSet, len(ids))
	cur := start
	for range ids {
		if _, dup := seen[cur]; dup {
			return fmt.Errorf("%w: %s revisited after %d steps", ErrNotSingleCycle, cur, len(seen))
		}
		seen[cur] = struct{}{}
		cur = g.target[cur]
	}
	if cur != start {
		return fmt.Errorf("%w: walk from %s ended at %s", ErrNotSingleCycle, start, cur)
	}
	return nil
}
