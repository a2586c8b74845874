package session

import (
	"time"

	"github.com/chainhunt/backend/internal/chain"
)

// EventType classifies coordinator lifecycle events.
type EventType int

const (
	EventJoined   EventType = iota // participant registered
	EventLeft                      // participant unregistered
	EventStarted                   // session moved to in progress
	EventKill                      // kill applied to the graph
	EventRebuilt                   // full cycle rebuild
	EventEnded                     // session reached its terminal phase
	EventRejected                  // request refused as a no-op
)

var eventNames = map[EventType]string{
	EventJoined:   "joined",
	EventLeft:     "left",
	EventStarted:  "started",
	EventKill:     "kill",
	EventRebuilt:  "rebuilt",
	EventEnded:    "ended",
	EventRejected: "rejected",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is emitted to observers after the coordinator applies a change.
type Event struct {
	Type        EventType
	Participant chain.ParticipantID // subject: joiner, leaver, killer, requester
	Victim      chain.ParticipantID // kills only
	Reason      string              // rebuild cause or rejection error
	Active      int                 // active participants after the change
	At          time.Time
}
