package ws

import (
	"encoding/json"
	"fmt"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/notify"
)

type MessageType string

const (
	MsgWelcome  MessageType = "welcome"
	MsgTarget   MessageType = "target"
	MsgPursuers MessageType = "pursuers"
	MsgState    MessageType = "state"
	MsgRejected MessageType = "rejected"
)

// WSMessage is the outbound envelope. Seq increases by one per message on a
// connection so clients can spot gaps and ask for a resync.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

// Envelope is WSMessage as seen by a reader, payload still encoded.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type WelcomePayload = notify.Welcome

type StatePayload = notify.State

// TargetPayload carries the participant's current target; empty means none.
type TargetPayload struct {
	Target chain.ParticipantID `json:"target"`
}

type PursuersPayload struct {
	Pursuers []chain.ParticipantID `json:"pursuers"`
}

type RejectedPayload struct {
	Reason string `json:"reason"`
}

type RequestType string

const (
	ReqStart  RequestType = "start"
	ReqKill   RequestType = "kill"
	ReqEnd    RequestType = "end"
	ReqResync RequestType = "resync"
)

// Request is an inbound client message. Killer defaults to the sender.
type Request struct {
	Type   RequestType         `json:"type"`
	Killer chain.ParticipantID `json:"killer,omitempty"`
	Target chain.ParticipantID `json:"target,omitempty"`
}

// Encode wraps a notification in the wire envelope.
func Encode(seq uint64, m notify.Message) ([]byte, error) {
	msg := WSMessage{Type: MessageType(m.Kind), Seq: seq}
	switch m.Kind {
	case notify.KindWelcome:
		msg.Payload = m.Welcome
	case notify.KindTarget:
		msg.Payload = TargetPayload{Target: m.Target}
	case notify.KindPursuers:
		p := m.Pursuers
		if p == nil {
			p = []chain.ParticipantID{}
		}
		msg.Payload = PursuersPayload{Pursuers: p}
	case notify.KindState:
		msg.Payload = m.State
	case notify.KindRejected:
		msg.Payload = RejectedPayload{Reason: m.Reason}
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return json.Marshal(msg)
}
