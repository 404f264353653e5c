// Package completion wires tracker advances to CQ delivery: §4.9's
// message-tracker-to-completion-queue glue, grounded on
// original_source/rust-driver/src/tracker/message.rs's consumer side.
package completion

import (
	"github.com/sirupsen/logrus"

	"github.com/blue-rdma/rdma-driver/cq"
	"github.com/blue-rdma/rdma-driver/rdmaerr"
	"github.com/blue-rdma/rdma-driver/tracker"
)

var log = logrus.WithField("component", "completion")

// KindForMeta classifies a popped recv MessageMeta into its verbs
// completion kind; callers supply this since the kind depends on the
// originating opcode, which the recv message tracker doesn't itself carry.
type KindForMeta func(tracker.MessageMeta) cq.CompletionKind

// Engine delivers completions produced by tracker advances into the CQ
// table.
type Engine struct {
	cqs *cq.Table
}

func New(cqs *cq.Table) *Engine {
	return &Engine{cqs: cqs}
}

// OnRecvAdvance pops every MessageMeta whose end PSN is now covered by
// newBasePsn and pushes a completion for each onto the QP's recv CQ.
func (e *Engine) OnRecvAdvance(qpn uint32, mt *tracker.MessageTracker, newBasePsn uint32, recvCq uint32, kindFor KindForMeta) error {
	acked := mt.Ack(newBasePsn)
	if len(acked) == 0 {
		return nil
	}
	c, err := e.cqs.Lookup(recvCq)
	if err != nil {
		return err
	}
	for _, m := range acked {
		c.Push(cq.Completion{Qpn: qpn, Kind: kindFor(m)})
	}
	return nil
}

// OnSendAdvance pops every MessageMeta whose end PSN is now covered by
// newBasePsn and, for each one flagged AckReq (signalled), completes the
// WR previously registered for its MSN on the send CQ. Unsignalled sends
// are silently dropped, matching verbs semantics.
func (e *Engine) OnSendAdvance(qpn uint32, mt *tracker.MessageTracker, newBasePsn uint32, sendCq uint32) error {
	acked := mt.Ack(newBasePsn)
	if len(acked) == 0 {
		return nil
	}
	c, err := e.cqs.Lookup(sendCq)
	if err != nil {
		return err
	}
	for _, m := range acked {
		if !m.AckReq {
			continue
		}
		if !c.CompleteMSN(qpn, m.Msn.Value(), cq.KindSend, 0, 0) {
			log.WithField("qpn", qpn).WithField("msn", m.Msn.Value()).
				Warn("completed msn had no registered wr, dropping")
		}
	}
	return nil
}

// FlushErr drains a QP's outstanding registrations into flush-with-error
// completions, used when a QP transitions to ERR.
func (e *Engine) FlushErr(qpn uint32, cqHandle uint32, msns []uint16) error {
	c, err := e.cqs.Lookup(cqHandle)
	if err != nil {
		return err
	}
	flushErr := rdmaerr.New(rdmaerr.KindQpError, "completion.FlushErr", nil)
	for _, msn := range msns {
		wrID, _ := c.TakePending(qpn, msn)
		c.Push(cq.Completion{WrID: wrID, Qpn: qpn, Kind: cq.KindFlushErr, Err: flushErr})
	}
	return nil
}
