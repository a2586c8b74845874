package notify

import (
	"errors"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/rs/zerolog"
)

// Directory resolves participants to their handles.
type Directory interface {
	Lookup(id chain.ParticipantID) (Handle, bool)
	Range(fn func(id chain.ParticipantID, h Handle))
}

// Observer is told about every delivery attempt. Metrics implement it.
type Observer interface {
	Delivered(kind Kind)
	Dropped(kind Kind)
}

type nopObserver struct{}

func (nopObserver) Delivered(Kind) {}
func (nopObserver) Dropped(Kind)   {}

// Dispatcher routes graph events and replicated state to participant
// handles. It implements chain.Notifier.
type Dispatcher struct {
	dir      Directory
	log      zerolog.Logger
	observer Observer
}

var _ chain.Notifier = (*Dispatcher)(nil)

func NewDispatcher(dir Directory, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		dir:      dir,
		log:      log.With().Str("component", "notify").Logger(),
		observer: nopObserver{},
	}
}

// SetObserver configures the delivery observer. Pass nil to disable.
func (d *Dispatcher) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	d.observer = o
}

func (d *Dispatcher) NotifyTarget(id, target chain.ParticipantID) {
	d.Send(id, Message{Kind: KindTarget, Target: target})
}

func (d *Dispatcher) NotifyPursuers(id chain.ParticipantID, pursuers []chain.ParticipantID) {
	d.Send(id, Message{Kind: KindPursuers, Pursuers: pursuers})
}

// Publish pushes the replicated state to every connected participant.
func (d *Dispatcher) Publish(st State) {
	d.dir.Range(func(id chain.ParticipantID, h Handle) {
		s := st
		d.deliver(h, Message{Kind: KindState, To: id, State: &s})
	})
}

// Send delivers msg to id only. A participant that has already left is
// skipped; its pending notifications are unreachable by design.
func (d *Dispatcher) Send(id chain.ParticipantID, msg Message) {
	msg.To = id
	h, ok := d.dir.Lookup(id)
	if !ok {
		d.log.Debug().Str("participant", string(id)).Str("kind", string(msg.Kind)).
			Msg("no handle for participant, dropping notification")
		d.observer.Dropped(msg.Kind)
		return
	}
	d.deliver(h, msg)
}

func (d *Dispatcher) deliver(h Handle, msg Message) {
	if err := h.Deliver(msg); err != nil {
		ev := d.log.Warn()
		if errors.Is(err, ErrClosed) {
			ev = d.log.Debug()
		}
		ev.Err(err).Str("participant", string(msg.To)).Str("kind", string(msg.Kind)).
			Msg("notification not delivered")
		d.observer.Dropped(msg.Kind)
		return
	}
	d.observer.Delivered(msg.Kind)
}
