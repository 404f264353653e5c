// Package cmdqueue implements the command controller: typed command
// submission over the request ring, a one-shot notifier per in-flight
// command, and a response-dispatcher worker that matches responses back to
// their notifier by id.
package cmdqueue

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/blue-rdma/rdma-driver/desc"
	"github.com/blue-rdma/rdma-driver/rdmaerr"
	"github.com/blue-rdma/rdma-driver/ringbuf"
)

var log = logrus.WithField("component", "cmdqueue")

// DefaultTimeout is how long Submit waits for a response before returning
// ErrTimeout.
const DefaultTimeout = 2 * time.Second

// notifier is the one-shot completion channel registered per command id.
type notifier struct {
	done chan CmdQueueRespDesc
}

// CmdQueueRespDesc mirrors desc.CmdQueueRespDesc; re-exported here so
// callers of Submit don't need to import desc directly.
type CmdQueueRespDesc = desc.CmdQueueRespDesc

// Controller submits commands to the request ring and dispatches
// responses arriving on the response ring back to their caller.
type Controller struct {
	reqRing  *ringbuf.Ring
	respRing *ringbuf.Ring

	mu        sync.Mutex
	notifiers map[uint16]*notifier

	abort chan struct{}
}

// NewController wires a paired request/response ring into a command
// controller and starts its response-dispatcher worker.
func NewController(reqRing, respRing *ringbuf.Ring) *Controller {
	c := &Controller{
		reqRing:   reqRing,
		respRing:  respRing,
		notifiers: make(map[uint16]*notifier),
		abort:     make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

// Close stops the dispatcher worker.
func (c *Controller) Close() {
	close(c.abort)
}

// nextID mints a 16-bit command id from the low bits of a generated xid,
// per SPEC_FULL.md's cmdqueue wiring of github.com/rs/xid.
func nextID() uint16 {
	id := xid.New()
	b := id.Bytes()
	return uint16(b[len(b)-2])<<8 | uint16(b[len(b)-1])
}

// submitRaw registers a notifier for id, pushes raw onto the request ring,
// and blocks for either a response or DefaultTimeout.
func (c *Controller) submitRaw(id uint16, raw ringbuf.Desc) (CmdQueueRespDesc, error) {
	n := &notifier{done: make(chan CmdQueueRespDesc, 1)}

	c.mu.Lock()
	if _, exists := c.notifiers[id]; exists {
		c.mu.Unlock()
		return CmdQueueRespDesc{}, rdmaerr.New(rdmaerr.KindInvalidInput, "cmdqueue.Submit", nil)
	}
	c.notifiers[id] = n
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.notifiers, id)
		c.mu.Unlock()
	}()

	if err := c.reqRing.Push(raw); err != nil {
		return CmdQueueRespDesc{}, err
	}
	if err := c.reqRing.FlushHead(); err != nil {
		return CmdQueueRespDesc{}, err
	}

	select {
	case resp := <-n.done:
		return resp, nil
	case <-time.After(DefaultTimeout):
		return CmdQueueRespDesc{}, rdmaerr.New(rdmaerr.KindTimeout, "cmdqueue.Submit", nil)
	}
}

// SubmitUpdateMrTable issues an UpdateMrTable command and waits for its
// response.
func (c *Controller) SubmitUpdateMrTable(rkey uint32, pd uint32, access uint8, baseVA uint64, length, pgtOffset uint32) error {
	id := nextID()
	d := desc.CmdQueueReqDescUpdateMrTable{ID: id, RKey: rkey, PD: uint16(pd), Access: access, BaseVA: baseVA, Length: length, PGTOffset: pgtOffset}
	resp, err := c.submitRaw(id, ringbuf.Desc(d.Encode()))
	if err != nil {
		return err
	}
	return checkResp(resp)
}

// SubmitUpdatePGT issues an UpdatePGT command for one physical page.
func (c *Controller) SubmitUpdatePGT(pgtOffset uint32, dmaAddr uint64) error {
	id := nextID()
	d := desc.NewCmdQueueReqDescUpdatePGT(id, pgtOffset, dmaAddr, 1)
	resp, err := c.submitRaw(id, ringbuf.Desc(d.Encode()))
	if err != nil {
		return err
	}
	return checkResp(resp)
}

// SubmitQpManagement issues a QpManagement command.
func (c *Controller) SubmitQpManagement(d desc.CmdQueueReqDescQpManagement) error {
	d.ID = nextID()
	resp, err := c.submitRaw(d.ID, ringbuf.Desc(d.Encode()))
	if err != nil {
		return err
	}
	return checkResp(resp)
}

// SubmitSetNetworkParam issues a SetNetworkParam command.
func (c *Controller) SubmitSetNetworkParam(d desc.CmdQueueReqDescSetNetworkParam) error {
	d.ID = nextID()
	resp, err := c.submitRaw(d.ID, ringbuf.Desc(d.Encode()))
	if err != nil {
		return err
	}
	return checkResp(resp)
}

// SubmitSetRawPacketRecvBuffer issues a SetRawPacketReceiveMeta command.
func (c *Controller) SubmitSetRawPacketRecvBuffer(d desc.CmdQueueReqDescSetRawPacketRecvBuffer) error {
	d.ID = nextID()
	resp, err := c.submitRaw(d.ID, ringbuf.Desc(d.Encode()))
	if err != nil {
		return err
	}
	return checkResp(resp)
}

func checkResp(resp CmdQueueRespDesc) error {
	if !resp.Success {
		return rdmaerr.New(rdmaerr.KindDeviceError, "cmdqueue.response", nil)
	}
	return nil
}

// dispatchLoop polls the response ring and fires the matching notifier for
// each consumed descriptor; this is the one dedicated "response dispatcher"
// thread named in spec.md §5.
func (c *Controller) dispatchLoop() {
	for {
		select {
		case <-c.abort:
			return
		default:
		}

		if err := c.respRing.RefreshHead(); err != nil {
			log.WithError(err).Warn("refresh response ring head failed")
			time.Sleep(50 * time.Microsecond)
			continue
		}
		raw, ok := c.respRing.Pop()
		if !ok {
			time.Sleep(20 * time.Microsecond)
			continue
		}
		rawArr := desc.Raw(raw)
		h := desc.DecodeHeader(&rawArr)
		if !h.Valid {
			log.Warn("malformed response descriptor: valid bit unset")
			continue
		}
		desc.ClearValid(&rawArr)
		resp := desc.DecodeCmdQueueRespDesc(rawArr)

		c.mu.Lock()
		n, ok := c.notifiers[resp.ID]
		c.mu.Unlock()
		if !ok {
			log.WithField("id", resp.ID).Warn("response for unknown or timed-out command id")
			continue
		}
		select {
		case n.done <- resp:
		default:
		}
	}
}
