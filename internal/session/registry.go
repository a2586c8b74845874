package session

import (
	"sort"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/notify"
)

// Participant is one registered member of the session. Eliminated
// participants stay registered as spectators until they disconnect.
type Participant struct {
	ID            chain.ParticipantID `json:"id"`
	Name          string              `json:"name,omitempty"`
	JoinedAt      time.Time           `json:"joinedAt"`
	Eliminated    bool                `json:"eliminated"`
	Kills         int                 `json:"kills"`
	Authoritative bool                `json:"-"`
	Handle        notify.Handle       `json:"-"`
}

// Registry is the set of registered participants. It has no lock: the
// coordinator goroutine owns it.
type Registry struct {
	participants map[chain.ParticipantID]*Participant
}

func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[chain.ParticipantID]*Participant),
	}
}

// Register adds p. It returns false, changing nothing, if p.ID is empty or
// already registered.
func (r *Registry) Register(p Participant) bool {
	if p.ID == "" {
		return false
	}
	if _, ok := r.participants[p.ID]; ok {
		return false
	}
	copy := p
	r.participants[p.ID] = &copy
	return true
}

// Unregister removes id and returns its last state.
func (r *Registry) Unregister(id chain.ParticipantID) (Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	delete(r.participants, id)
	return *p, true
}

func (r *Registry) Get(id chain.ParticipantID) (Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Lookup implements notify.Directory.
func (r *Registry) Lookup(id chain.ParticipantID) (notify.Handle, bool) {
	p, ok := r.participants[id]
	if !ok || p.Handle == nil {
		return nil, false
	}
	return p.Handle, true
}

// Range implements notify.Directory, visiting every registered participant
// with a handle in id order.
func (r *Registry) Range(fn func(chain.ParticipantID, notify.Handle)) {
	for _, id := range r.ids(false) {
		if h := r.participants[id].Handle; h != nil {
			fn(id, h)
		}
	}
}

// Active returns the sorted ids of registered, non-eliminated participants.
func (r *Registry) Active() []chain.ParticipantID {
	return r.ids(true)
}

func (r *Registry) IsActive(id chain.ParticipantID) bool {
	p, ok := r.participants[id]
	return ok && !p.Eliminated
}

func (r *Registry) Len() int {
	return len(r.participants)
}

func (r *Registry) ActiveCount() int {
	n := 0
	for _, p := range r.participants {
		if !p.Eliminated {
			n++
		}
	}
	return n
}

// Eliminate marks id as no longer active. It reports false if id is unknown
// or already eliminated.
func (r *Registry) Eliminate(id chain.ParticipantID) bool {
	p, ok := r.participants[id]
	if !ok || p.Eliminated {
		return false
	}
	p.Eliminated = true
	return true
}

func (r *Registry) CreditKill(id chain.ParticipantID) {
	if p, ok := r.participants[id]; ok {
		p.Kills++
	}
}

// All returns copies of every participant ordered by join time.
func (r *Registry) All() []Participant {
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) ids(activeOnly bool) []chain.ParticipantID {
	out := make([]chain.ParticipantID, 0, len(r.participants))
	for id, p := range r.participants {
		if activeOnly && p.Eliminated {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
