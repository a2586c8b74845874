// Package chain maintains the target assignment graph of a hunt session: a
// functional mapping from each participant to the one participant it hunts,
// and the inverse mapping from each participant to the set hunting it.
//
// A Graph is not safe for concurrent use. It is owned by the session
// coordinator goroutine, which serialises every mutation.
package chain

import (
	"math/rand"
	"sort"
	"time"
)

// ParticipantID identifies a participant for the lifetime of a session.
type ParticipantID string

// NoTarget is sent to a participant whose outgoing edge was removed.
const NoTarget ParticipantID = ""

// Notifier receives targeted graph events. NotifyTarget goes only to id;
// NotifyPursuers goes only to the pursued participant. Pursuer slices are
// sorted and owned by the callee.
type Notifier interface {
	NotifyTarget(id, target ParticipantID)
	NotifyPursuers(id ParticipantID, pursuers []ParticipantID)
}

type nopNotifier struct{}

func (nopNotifier) NotifyTarget(ParticipantID, ParticipantID)     {}
func (nopNotifier) NotifyPursuers(ParticipantID, []ParticipantID) {}

// Option configures a Graph.
type Option func(*Graph)

// WithRand sets the random source used for cycle permutations and fallback
// target picks. Tests pass a seeded source for reproducible graphs.
func WithRand(r *rand.Rand) Option {
	return func(g *Graph) {
		if r != nil {
			g.rng = r
		}
	}
}

// WithStrictInverse makes AssignEdge drop a participant's previous edge
// before installing a new one, so pursuers is always exactly the inverse of
// target. Without it, overwriting an edge leaves the participant in its
// previous target's pursuer set until that entry is excised or rebuilt.
func WithStrictInverse(strict bool) Option {
	return func(g *Graph) {
		g.strict = strict
	}
}

type idSet map[ParticipantID]struct{}

// Graph is the target/pursuer assignment over the participants it was last
// built for.
type Graph struct {
	target   map[ParticipantID]ParticipantID
	pursuers map[ParticipantID]idSet
	members  idSet
	rng      *rand.Rand
	strict   bool
	notifier Notifier
}

// New returns an empty graph that reports changes to n. A nil notifier
// discards all events.
func New(n Notifier, opts ...Option) *Graph {
	if n == nil {
		n = nopNotifier{}
	}
	g := &Graph{
		target:   make(map[ParticipantID]ParticipantID),
		pursuers: make(map[ParticipantID]idSet),
		members:  make(idSet),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		notifier: n,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Strict reports whether the graph keeps pursuers strictly inverse to target.
func (g *Graph) Strict() bool {
	return g.strict
}

func (g *Graph) reset() {
	g.target = make(map[ParticipantID]ParticipantID)
	g.pursuers = make(map[ParticipantID]idSet)
	g.members = make(idSet)
}

// BuildCycle discards the current graph and links a fresh uniformly random
// permutation of active into a single cycle, each participant targeting its
// successor. With fewer than two distinct participants the graph is left
// empty. Every participant in the new cycle receives exactly one target and
// one pursuers notification.
func (g *Graph) BuildCycle(active []ParticipantID) {
	g.reset()

	ids := uniqueSorted(active)
	if len(ids) < 2 {
		return
	}
	g.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	for _, id := range ids {
		g.members[id] = struct{}{}
	}
	for i, id := range ids {
		g.AssignEdge(id, ids[(i+1)%len(ids)])
	}
}

// AssignEdge points p at t and adds p to t's pursuers, then notifies p of its
// target and t of its pursuers. Self edges are refused without any
// notification. In strict mode the previous target of p loses p first and is
// told about its smaller pursuer set.
func (g *Graph) AssignEdge(p, t ParticipantID) bool {
	if p == t || p == NoTarget || t == NoTarget {
		return false
	}

	if g.strict {
		if prev, ok := g.target[p]; ok && prev != t {
			if g.removePursuer(prev, p) {
				g.notifier.NotifyPursuers(prev, g.Pursuers(prev))
			}
		}
	}

	g.target[p] = t
	g.members[p] = struct{}{}
	g.members[t] = struct{}{}
	set, ok := g.pursuers[t]
	if !ok {
		set = make(idSet)
		g.pursuers[t] = set
	}
	set[p] = struct{}{}

	g.notifier.NotifyTarget(p, t)
	g.notifier.NotifyPursuers(t, g.Pursuers(t))
	return true
}

// AssignNewRandomTarget points p at a participant chosen uniformly among the
// graph's members, excluding p and any id in exclude. It reports false when
// no candidate exists, leaving the graph untouched.
func (g *Graph) AssignNewRandomTarget(p ParticipantID, exclude ...ParticipantID) bool {
	skip := make(idSet, len(exclude)+1)
	skip[p] = struct{}{}
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	candidates := make([]ParticipantID, 0, len(g.members))
	for id := range g.members {
		if _, ok := skip[id]; !ok {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return false
	}
	sortIDs(candidates)
	return g.AssignEdge(p, candidates[g.rng.Intn(len(candidates))])
}

// ResolveKill splices victim out of the chain: killer inherits the victim's
// target, or a random one when the victim had none or was hunting the killer.
// The victim is then excised. When nobody is left for the killer to hunt,
// its outgoing edge is dropped and it is notified with NoTarget.
func (g *Graph) ResolveKill(killer, victim ParticipantID) {
	if killer == victim {
		return
	}

	next, ok := g.target[victim]
	switch {
	case ok && next != killer:
		g.AssignEdge(killer, next)
	case !g.AssignNewRandomTarget(killer, victim):
		g.dropEdge(killer)
	}

	g.Excise(victim)
}

// Excise removes every edge touching p: its outgoing edge, its membership in
// any pursuer set, and the edges of participants hunting it. Participants
// whose pursuer set shrank are notified with the new set; participants that
// lost their target are notified with NoTarget.
func (g *Graph) Excise(p ParticipantID) {
	changed := make(idSet)

	if t, ok := g.target[p]; ok {
		delete(g.target, p)
		if g.removePursuer(t, p) {
			changed[t] = struct{}{}
		}
	}
	// Outside strict mode p may still sit in a former target's set.
	for id := range g.pursuers {
		if g.removePursuer(id, p) {
			changed[id] = struct{}{}
		}
	}

	var orphaned []ParticipantID
	for q, t := range g.target {
		if t == p {
			delete(g.target, q)
			orphaned = append(orphaned, q)
		}
	}

	delete(g.pursuers, p)
	delete(g.members, p)
	delete(changed, p)

	for _, id := range sortedKeys(changed) {
		g.notifier.NotifyPursuers(id, g.Pursuers(id))
	}
	sortIDs(orphaned)
	for _, q := range orphaned {
		g.notifier.NotifyTarget(q, NoTarget)
	}
}

// Clear tears the graph down, telling every participant that held an edge it
// no longer has a target and every pursued participant its set is empty.
func (g *Graph) Clear() {
	holders := make([]ParticipantID, 0, len(g.target))
	for id := range g.target {
		holders = append(holders, id)
	}
	sortIDs(holders)
	pursued := make(idSet, len(g.pursuers))
	for id, set := range g.pursuers {
		if len(set) > 0 {
			pursued[id] = struct{}{}
		}
	}

	g.reset()

	for _, id := range holders {
		g.notifier.NotifyTarget(id, NoTarget)
	}
	for _, id := range sortedKeys(pursued) {
		g.notifier.NotifyPursuers(id, nil)
	}
}

// Target returns the participant p hunts.
func (g *Graph) Target(p ParticipantID) (ParticipantID, bool) {
	t, ok := g.target[p]
	return t, ok
}

// Pursuers returns the sorted set of participants recorded as hunting p.
func (g *Graph) Pursuers(p ParticipantID) []ParticipantID {
	return sortedKeys(g.pursuers[p])
}

// Len returns the number of target edges.
func (g *Graph) Len() int {
	return len(g.target)
}

// Edges returns a copy of the target mapping.
func (g *Graph) Edges() map[ParticipantID]ParticipantID {
	out := make(map[ParticipantID]ParticipantID, len(g.target))
	for p, t := range g.target {
		out[p] = t
	}
	return out
}

// Members returns the sorted participants the graph currently spans.
func (g *Graph) Members() []ParticipantID {
	return sortedKeys(g.members)
}

func (g *Graph) dropEdge(p ParticipantID) {
	t, ok := g.target[p]
	if !ok {
		g.notifier.NotifyTarget(p, NoTarget)
		return
	}
	delete(g.target, p)
	if g.removePursuer(t, p) {
		g.notifier.NotifyPursuers(t, g.Pursuers(t))
	}
	g.notifier.NotifyTarget(p, NoTarget)
}

// removePursuer deletes q from t's pursuer set, dropping the set when it
// empties. It reports whether q was present.
func (g *Graph) removePursuer(t, q ParticipantID) bool {
	set, ok := g.pursuers[t]
	if !ok {
		return false
	}
	if _, ok := set[q]; !ok {
		return false
	}
	delete(set, q)
	if len(set) == 0 {
		delete(g.pursuers, t)
	}
	return true
}

func sortIDs(ids []ParticipantID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedKeys(set idSet) []ParticipantID {
	if len(set) == 0 {
		return nil
	}
	out := make([]ParticipantID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func uniqueSorted(ids []ParticipantID) []ParticipantID {
	seen := make(idSet, len(ids))
	out := make([]ParticipantID, 0, len(ids))
	for _, id := range ids {
		if id == NoTarget {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}
