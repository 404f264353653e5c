// Package driver is the top-level wiring point: it owns every per-QP/CQ/PD/
// MR table, starts the long-lived worker threads described in spec.md §5
// (response dispatcher, meta-report ingress, one send worker per channel,
// packet-retransmit worker, timeout worker), and exposes the verbs-facing
// entry points an external C shim would call over cgo. The negative-errno
// translation itself lives in rdmaerr.Errno and is applied by that shim,
// not here: every method below returns a plain Go error.
package driver

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/blue-rdma/rdma-driver/cmdqueue"
	"github.com/blue-rdma/rdma-driver/completion"
	"github.com/blue-rdma/rdma-driver/concurrency/gopool"
	"github.com/blue-rdma/rdma-driver/config"
	"github.com/blue-rdma/rdma-driver/cq"
	"github.com/blue-rdma/rdma-driver/metareport"
	"github.com/blue-rdma/rdma-driver/mtt"
	"github.com/blue-rdma/rdma-driver/qp"
	"github.com/blue-rdma/rdma-driver/rdmautils"
	"github.com/blue-rdma/rdma-driver/retransmit"
	"github.com/blue-rdma/rdma-driver/ringbuf"
	"github.com/blue-rdma/rdma-driver/send"
	"github.com/blue-rdma/rdma-driver/tracker"
)

var log = logrus.WithField("component", "driver")

// Rings bundles every DMA ring the driver needs, one send/meta-report pair
// per channel plus the single command ring pair. Building these from CSR
// offsets and BAR-mapped memory is bring-up code for a specific backend
// (hardware BAR vs. emulator socket) and lives outside this package; the
// driver only ever consumes already-constructed rings, the same seam every
// package below it tests against.
type Rings struct {
	Send       []*ringbuf.Ring
	MetaReport []*ringbuf.Ring
	CmdReq     *ringbuf.Ring
	CmdResp    *ringbuf.Ring
}

// AsyncEvent is delivered on the driver's async-event channel: a QP that
// hit a fatal transport condition (retry exhaustion, illegal transition),
// mirroring the verbs async-event callback the C shim registers.
type AsyncEvent struct {
	Qpn uint32
	Err error
}

// qpRuntime is the per-QP reliability state that isn't a verbs-visible
// attribute: trackers, counters, and the posted-recv-WR count. Indexed by
// qp.QPN.TableIndex(), one slot per QP table entry.
type qpRuntime struct {
	mu sync.Mutex

	sendPsn uint32
	sendMsn rdmautils.Msn

	sendPacket *tracker.PacketTracker
	recvPacket *tracker.PacketTracker
	sendMsg    *tracker.MessageTracker
	recvMsg    *tracker.MessageTracker

	recvWrCount int                           // posted, unmatched recv WRs; RQ matching is not modeled
	pendingKind map[uint16]cq.CompletionKind // msn -> completion kind, set by the header-report handler
}

func newQpRuntime() *qpRuntime {
	return &qpRuntime{
		sendPacket:  tracker.NewPacketTracker(),
		recvPacket:  tracker.NewPacketTracker(),
		sendMsg:     tracker.NewMessageTracker(),
		recvMsg:     tracker.NewMessageTracker(),
		pendingKind: make(map[uint16]cq.CompletionKind),
	}
}

// Driver is the assembled data-path core: every table, every worker, and
// the channels tying them together.
type Driver struct {
	cfg  *config.Config
	mode send.Mode

	qps *qp.Table
	cqs *cq.Table
	pds *rdmautils.PdTable
	mrs *mtt.Table

	cmds       *cmdqueue.Controller
	sched      *send.Scheduler
	workers    []*send.Worker
	ingress    *metareport.Ingress
	pktRetrans *retransmit.PacketRetransmitWorker
	tmoRetrans *retransmit.TimeoutRetransmitWorker
	completion *completion.Engine
	metrics    *metrics
	rings      Rings

	runtimes [qp.MaxQpCnt]*qpRuntime
	rtMu     sync.Mutex

	pool *gopool.GoPool

	fatal  chan retransmit.FatalEvent
	events chan AsyncEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	abort  int32
}

// New assembles a Driver over pre-built rings. pgt/v2p select the MTT
// page-table allocator and virtual-to-physical resolver (hardware or
// emulator); reg may be nil, in which case metrics are recorded but never
// published.
func New(cfg *config.Config, mode send.Mode, rings Rings, pgt *mtt.PageAllocator, v2p mtt.V2PResolver, reg prometheus.Registerer) *Driver {
	cmds := cmdqueue.NewController(rings.CmdReq, rings.CmdResp)
	sched := send.NewScheduler()
	workers := send.NewWorkers(sched.Injector(), rings.Send)
	fatal := make(chan retransmit.FatalEvent, 64)

	d := &Driver{
		cfg:        cfg,
		mode:       mode,
		qps:        qp.NewTable(),
		cqs:        cq.NewTable(),
		pds:        rdmautils.NewPdTable(),
		mrs:        mtt.NewTable(pgt, v2p, cmds),
		cmds:       cmds,
		sched:      sched,
		workers:    workers,
		pktRetrans: retransmit.NewPacketRetransmitWorker(sched),
		tmoRetrans: retransmit.NewTimeoutRetransmitWorker(sched, fatal, uint8(cfg.Ack.LocalAckTimeout)),
		fatal:      fatal,
		events:     make(chan AsyncEvent, 256),
		stop:       make(chan struct{}),
		rings:      rings,
	}
	d.completion = completion.New(d.cqs)
	d.metrics = newMetrics(reg)
	d.ingress = metareport.New(rings.MetaReport, 0, d.handlers())
	d.pool = gopool.NewGoPool("rdma-driver", &gopool.Option{
		MaxIdleWorkers: len(workers) + 4,
		WorkerMaxAge:   0,
		TaskChanBuffer: len(workers) + 4,
	})
	d.pool.SetPanicHandler(func(_ context.Context, r interface{}) {
		log.WithField("panic", r).Error("worker goroutine panicked")
	})
	return d
}

func (d *Driver) runtimeFor(qpn uint32) *qpRuntime {
	idx := qp.QPN(qpn).TableIndex()
	d.rtMu.Lock()
	defer d.rtMu.Unlock()
	if d.runtimes[idx] == nil {
		d.runtimes[idx] = newQpRuntime()
	}
	return d.runtimes[idx]
}

func (d *Driver) channelFor(qpn uint32) *send.Worker {
	return d.workers[send.ChannelForQpn(qpn, d.mode.ChannelCount())]
}

// Start spawns every long-lived worker goroutine through the driver's
// gopool, which recovers a panicking worker instead of taking the whole
// process down with it. The command controller's dispatch loop is already
// self-starting from NewController.
func (d *Driver) Start() {
	d.wg.Add(len(d.workers) + 4)
	for _, w := range d.workers {
		w := w
		d.pool.Go(func() {
			defer d.wg.Done()
			w.Run(d.stop)
		})
	}
	d.pool.Go(func() { defer d.wg.Done(); d.ingress.Run(d.stop) })
	d.pool.Go(func() { defer d.wg.Done(); d.pktRetrans.Run(d.stop) })
	d.pool.Go(func() { defer d.wg.Done(); d.tmoRetrans.Run(d.stop) })
	d.pool.Go(func() { defer d.wg.Done(); d.refreshMetrics() })
	d.pool.Go(d.forwardFatal)
}

// refreshMetrics periodically samples ring occupancy until stop is
// closed; a dedicated low-rate loop rather than updating on every push
// keeps the hot send/ingress paths free of metrics-recording overhead.
func (d *Driver) refreshMetrics() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			for i, r := range d.rings.Send {
				d.metrics.ringOccupancy.WithLabelValues(ringName("send", i)).Set(float64(r.Len()))
			}
			for i, r := range d.rings.MetaReport {
				d.metrics.ringOccupancy.WithLabelValues(ringName("meta", i)).Set(float64(r.Len()))
			}
		}
	}
}

func ringName(kind string, i int) string {
	return kind + "-" + strconv.Itoa(i)
}

// Stop sets the abort flag reported by Aborted, closes the stop channel
// that every worker loop selects on, then waits for every worker to exit.
func (d *Driver) Stop() {
	atomic.StoreInt32(&d.abort, 1)
	close(d.stop)
	d.wg.Wait()
}

// Aborted reports whether Stop has been called.
func (d *Driver) Aborted() bool {
	return atomic.LoadInt32(&d.abort) != 0
}

// AsyncEvents returns the channel of fatal per-QP events, mirroring the
// verbs async-event callback.
func (d *Driver) AsyncEvents() <-chan AsyncEvent {
	return d.events
}

func (d *Driver) forwardFatal() {
	for {
		select {
		case <-d.stop:
			return
		case ev, ok := <-d.fatal:
			if !ok {
				return
			}
			d.raiseFatal(ev.Qpn, ev.Err)
		}
	}
}

// raiseFatal flushes the QP's outstanding work with errors and emits an
// async event, dropping the event (never blocking a worker) if the
// channel is full.
func (d *Driver) raiseFatal(qpn uint32, err error) {
	log.WithField("qpn", qpn).WithError(err).Error("qp fatal, flushing")
	if attrs, lookupErr := d.qps.Lookup(qp.QPN(qpn)); lookupErr == nil {
		_ = d.qps.Modify(qp.QPN(qpn), qp.StateErr, nil)
		rt := d.runtimeFor(qpn)
		rt.mu.Lock()
		msns := pendingMsns(rt.sendMsg)
		rt.mu.Unlock()
		if len(msns) > 0 {
			if flushErr := d.completion.FlushErr(qpn, attrs.SendCq, msns); flushErr != nil {
				log.WithError(flushErr).Warn("flush on fatal failed")
			}
		}
	}
	select {
	case d.events <- AsyncEvent{Qpn: qpn, Err: err}:
	default:
		log.WithField("qpn", qpn).Warn("async event channel full, dropping")
	}
}

// pendingMsns lists every MSN still outstanding in mt, oldest first, for
// use by FlushErr.
func pendingMsns(mt *tracker.MessageTracker) []uint16 {
	all := mt.DrainAll()
	out := make([]uint16, 0, len(all))
	for _, m := range all {
		out = append(out, m.Msn.Value())
	}
	return out
}
