// Package notify delivers session events to participants. Graph changes are
// unicast to the affected participant only; replicated session state is
// pushed to every connected participant. Delivery is fire-and-forget: a
// Handle enqueues onto the participant's outbound queue and a separate
// collaborator (the websocket write pump, a bot loop) drains it.
package notify

import (
	"errors"

	"github.com/chainhunt/backend/internal/chain"
)

// Kind classifies an outbound message.
type Kind string

const (
	KindWelcome  Kind = "welcome"
	KindTarget   Kind = "target"
	KindPursuers Kind = "pursuers"
	KindState    Kind = "state"
	KindRejected Kind = "rejected"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification handle closed")
)

// State is the replicated, read-only view of the session that every
// participant mirrors.
type State struct {
	Phase            string `json:"phase"`
	InProgress       bool   `json:"inProgress"`
	ClockRemainingMs int64  `json:"clockRemainingMs"`
	DurationMs       int64  `json:"durationMs"`
	Active           int    `json:"active"`
	Connected        int    `json:"connected"`
}

// Welcome is sent once a participant is registered, and again on resync.
type Welcome struct {
	ID            chain.ParticipantID `json:"id"`
	Name          string              `json:"name,omitempty"`
	Authoritative bool                `json:"authoritative"`
}

// Message is one notification addressed to a single participant.
type Message struct {
	Kind     Kind
	To       chain.ParticipantID
	Target   chain.ParticipantID
	Pursuers []chain.ParticipantID
	State    *State
	Welcome  *Welcome
	Reason   string
}

// Handle is a non-owning reference used to reach one participant. Deliver
// must not block; it returns ErrQueueFull when the participant cannot keep
// up and ErrClosed once the participant is gone.
type Handle interface {
	Deliver(Message) error
}
