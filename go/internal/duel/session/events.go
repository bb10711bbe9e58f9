package session

import (
	"github.com/mcdev12/handduel/go/internal/duel/events"
	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/models"
)

// event is anything the loop processes.
type event interface {
	apply(s *Session)
}

type commandEvent struct {
	name  string
	fn    func(*Session) error
	reply chan error
}

func (e commandEvent) apply(s *Session) {
	err := e.fn(s)
	if err != nil {
		s.logRejected(e.name, err)
	}
	e.reply <- err
}

type inboundEvent struct {
	msg events.Inbound
}

func (e inboundEvent) apply(s *Session) { s.handleInbound(e.msg) }

type disconnectedEvent struct {
	err error
}

func (e disconnectedEvent) apply(s *Session) { s.onDisconnected(e.err) }

type protocolErrorEvent struct {
	err error
}

func (e protocolErrorEvent) apply(s *Session) { s.fail(ErrorProtocol, e.err) }

type connectedEvent struct {
	seq int
	err error
}

func (e connectedEvent) apply(s *Session) { s.onConnected(e.seq, e.err) }

// sampledEvent carries a detection result back to the loop, tagged with the
// round that requested it.
type sampledEvent struct {
	round  string
	final  bool
	sample models.DetectionSample
	err    error
}

func (e sampledEvent) apply(s *Session) { s.onSampled(e) }

type submittedEvent struct {
	ticket reporter.Ticket
	sub    reporter.Submission
	err    error
}

func (e submittedEvent) apply(s *Session) { s.onSubmitted(e) }
