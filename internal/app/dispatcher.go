package app

import (
	"time"

	"quizroom-service/internal/domain"
)

const datetimeLayout = "2006-01-02 15:04:05"

// Sink is the outbound queue of one connection. Deliver must never block; it
// reports false when the queue cannot take the event.
type Sink interface {
	Deliver(domain.Event) bool
	Close()
}

type visibility int

const (
	toAll visibility = iota
	toOwner
	toSender
	perRecipient
)

// emission is one event as produced by a room command, before fan-out.
type emission struct {
	visibility visibility
	event      domain.Event
	// render builds the recipient-specific event for perRecipient emissions.
	render func(role domain.Role) domain.Event
}

func broadcast(ev domain.Event) emission { return emission{visibility: toAll, event: ev} }
func ownerOnly(ev domain.Event) emission { return emission{visibility: toOwner, event: ev} }
func senderOnly(ev domain.Event) emission {
	return emission{visibility: toSender, event: ev}
}
func byRole(render func(role domain.Role) domain.Event) emission {
	return emission{visibility: perRecipient, render: render}
}

// dispatcher stamps room events with a sequence number and display metadata
// and pushes them into recipient sinks. It runs under the room lock, so every
// recipient observes the room's emission order.
type dispatcher struct {
	seq   uint64
	clock func() time.Time
}

// dispatch delivers em to the connected seats it is visible to and returns the
// seats whose sink refused the event.
func (d *dispatcher) dispatch(seats []*seat, sender string, em emission) []*seat {
	d.seq++
	stamp := d.clock().Format(datetimeLayout)

	var failed []*seat
	for _, st := range seats {
		if st.sink == nil || st.player.Status != domain.StatusConnected {
			continue
		}
		var ev domain.Event
		switch em.visibility {
		case toAll:
			ev = em.event
		case toOwner:
			if st.player.Role != domain.RoleOwner {
				continue
			}
			ev = em.event
		case toSender:
			if st.player.ParticipantID != sender {
				continue
			}
			ev = em.event
		case perRecipient:
			ev = em.render(st.player.Role)
		}
		ev.Version = domain.ProtocolVersion
		ev.Seq = d.seq
		ev.Datetime = stamp
		if !st.sink.Deliver(ev) {
			failed = append(failed, st)
		}
	}
	return failed
}
