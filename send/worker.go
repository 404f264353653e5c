package send

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blue-rdma/rdma-driver/ringbuf"
)

var log = logrus.WithField("component", "send")

// Scheduler is the shared-injector submission point: chunks sent through
// it go to whichever worker picks them up next. The retransmit workers
// resend through it; the driver's PostSend path does not, and pushes each
// chunk onto its QP's channel worker with Worker.Push instead.
type Scheduler struct {
	injector *Injector
}

func NewScheduler() *Scheduler {
	return &Scheduler{injector: NewInjector()}
}

func (s *Scheduler) Injector() *Injector { return s.injector }

// Send enqueues wr for processing by some channel's worker.
func (s *Scheduler) Send(wr WrChunk) error {
	s.injector.Push(wr)
	return nil
}

// Worker drains its own channel's send ring: local work first, then the
// global injector, then a direct steal from a peer worker.
type Worker struct {
	name    string
	local   deque
	global  *Injector
	remotes []*Worker
	ring    *ringbuf.Ring
}

// NewWorkers builds one Worker per ring, each able to steal from every
// other, mirroring SendWorkerBuilder.build_workers.
func NewWorkers(global *Injector, rings []*ringbuf.Ring) []*Worker {
	workers := make([]*Worker, len(rings))
	for i, r := range rings {
		workers[i] = &Worker{name: ringName(i), global: global, ring: r}
	}
	for _, w := range workers {
		w.remotes = workers
	}
	return workers
}

func ringName(i int) string { return "send-worker-" + strconv.Itoa(i) }

// Push enqueues wr directly on this worker's local queue. The driver
// uses this for the channel-hashed dispatch path, which keeps a QP's
// chunks flowing through one channel instead of racing through the
// work-stealing injector.
func (w *Worker) Push(wr WrChunk) {
	w.local.push(wr)
}

// FindTask pulls the next chunk using the local-then-global-then-steal
// order, without blocking; exported so tests and diagnostics can drive a
// worker's queue directly.
func (w *Worker) FindTask() (WrChunk, bool) {
	if wr, ok := w.local.pop(); ok {
		return wr, true
	}
	if wr, ok := w.global.q.stealBatch(&w.local); ok {
		return wr, true
	}
	for _, peer := range w.remotes {
		if peer == w {
			continue
		}
		if wr, ok := peer.local.pop(); ok {
			return wr, true
		}
	}
	return WrChunk{}, false
}

// Run processes chunks until stop is closed, encoding each into its two
// descriptors, pushing them onto the channel's send ring, publishing the
// new head, and refreshing the shadow tail.
func (w *Worker) Run(stop <-chan struct{}) {
	log := log.WithField("worker", w.name)
	for {
		select {
		case <-stop:
			return
		default:
		}
		wr, ok := w.FindTask()
		if !ok {
			time.Sleep(50 * time.Microsecond)
			continue
		}
		seg0, seg1 := wr.toDescs()
		if err := w.ring.Push(ringbuf.Desc(seg0.Encode())); err != nil {
			log.WithError(err).Error("send ring full for seg0, dropping chunk")
			continue
		}
		if err := w.ring.Push(ringbuf.Desc(seg1.Encode())); err != nil {
			log.WithError(err).Error("send ring full for seg1, chunk half-enqueued")
			continue
		}
		if err := w.ring.FlushHead(); err != nil {
			log.WithError(err).Error("failed to flush send queue head")
		}
		if err := w.ring.RefreshTail(); err != nil {
			log.WithError(err).Error("failed to refresh send queue tail")
		}
	}
}
