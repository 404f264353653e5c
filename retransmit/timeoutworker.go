package retransmit

import (
	"time"

	"github.com/blue-rdma/rdma-driver/qp"
	"github.com/blue-rdma/rdma-driver/send"
)

// TimeoutCheckDuration is the poll interval the timeout worker sleeps
// between sweeps of every QP's timer.
const TimeoutCheckDuration = 8 * time.Microsecond

// RetransmitTaskKind tags a RetransmitTask's variant.
type RetransmitTaskKind uint8

const (
	TaskNewAckReq RetransmitTaskKind = iota
	TaskReceiveACK
)

// RetransmitTask is the timeout worker's inbound message type.
type RetransmitTask struct {
	Kind            RetransmitTaskKind
	Qpn             uint32
	LastPacketChunk send.WrChunk // TaskNewAckReq
}

type timerEntry struct {
	timer           *TransportTimer
	lastPacketChunk *send.WrChunk
}

// FatalEvent reports a QP whose retry budget is exhausted.
type FatalEvent struct {
	Qpn uint32
	Err error
}

// TimeoutRetransmitWorker sweeps one TransportTimer per QP, resending the
// last ack-requesting chunk when a timer elapses.
type TimeoutRetransmitWorker struct {
	tasks       chan RetransmitTask
	sender      *send.Scheduler
	fatal       chan<- FatalEvent
	table       [qp.MaxQpCnt]*timerEntry
	localAckTmo uint8
}

func NewTimeoutRetransmitWorker(sender *send.Scheduler, fatal chan<- FatalEvent, localAckTimeout uint8) *TimeoutRetransmitWorker {
	return &TimeoutRetransmitWorker{
		tasks:       make(chan RetransmitTask, 256),
		sender:      sender,
		fatal:       fatal,
		localAckTmo: localAckTimeout,
	}
}

func (w *TimeoutRetransmitWorker) Tasks() chan<- RetransmitTask { return w.tasks }

func (w *TimeoutRetransmitWorker) entryFor(qpn uint32) *timerEntry {
	idx := qp.QPN(qpn).TableIndex()
	if w.table[idx] == nil {
		w.table[idx] = &timerEntry{timer: NewTransportTimer(w.localAckTmo)}
	}
	return w.table[idx]
}

// Run sweeps every QP's timer every TimeoutCheckDuration, draining any
// pending tasks first, until stop is closed.
func (w *TimeoutRetransmitWorker) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(TimeoutCheckDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.drainTasks()
			w.sweep()
		}
	}
}

func (w *TimeoutRetransmitWorker) drainTasks() {
	for {
		select {
		case task := <-w.tasks:
			e := w.entryFor(task.Qpn)
			switch task.Kind {
			case TaskNewAckReq:
				chunk := task.LastPacketChunk
				e.lastPacketChunk = &chunk
				e.timer.Reset()
			case TaskReceiveACK:
				e.timer.Reset()
			}
		default:
			return
		}
	}
}

func (w *TimeoutRetransmitWorker) sweep() {
	for i, e := range w.table {
		if e == nil {
			continue
		}
		timedOut, err := e.timer.CheckTimeout()
		if err != nil {
			if w.fatal != nil {
				select {
				case w.fatal <- FatalEvent{Qpn: uint32(i), Err: err}:
				default:
				}
			}
			continue
		}
		if timedOut && e.lastPacketChunk != nil {
			if sendErr := w.sender.Send(*e.lastPacketChunk); sendErr != nil {
				log.WithError(sendErr).WithField("qpn", i).Error("failed to resend on timeout")
			}
		}
	}
}
