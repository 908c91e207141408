// internal/connection/dispatch.go
package connection

import (
	"context"
	"time"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// OnReplyBytes classifies one complete inbound packet. Malformed and unknown
// packets are logged and dropped.
func (c *Connection) OnReplyBytes(pkt []byte) {
	if len(pkt) < protocol.ReplyHeaderSize {
		c.metrics.inc(ctrMalformed, c.cfg.DeviceID)
		c.log.Debug("dropped short packet", "len", len(pkt))
		return
	}

	switch protocol.CommandType(pkt[0]) {
	case protocol.DirectNoReply:
		c.notification(pkt)

	case protocol.ReplyPacket:
		rep, err := protocol.DecodeReply(pkt)
		if err != nil {
			c.metrics.inc(ctrMalformed, c.cfg.DeviceID)
			c.log.Debug("dropped reply", "err", err)
			return
		}
		if !rep.Code.Known() {
			c.unknown(pkt)
			return
		}
		if rep.Code == protocol.CmdPoll && rep.OK() {
			c.pollData(rep)
		}
		c.resolve(rep)

	default:
		c.unknown(pkt)
	}
}

func (c *Connection) unknown(pkt []byte) {
	c.metrics.inc(ctrUnknown, c.cfg.DeviceID)
	c.log.Debug("dropped unknown packet", "type", protocol.CommandType(pkt[0]), "code", protocol.Command(pkt[1]))
}

func (c *Connection) notification(pkt []byte) {
	if protocol.Command(pkt[1]) != protocol.CmdMessageWrite {
		c.unknown(pkt)
		return
	}
	n, err := protocol.DecodeNotification(pkt)
	if err != nil {
		c.metrics.inc(ctrMalformed, c.cfg.DeviceID)
		c.log.Debug("dropped notification", "err", err)
		return
	}
	c.metrics.inc(ctrNotified, c.cfg.DeviceID)
	c.log.Debug("notification", "mailbox", n.Mailbox, "len", len(n.Data))
	if c.onNotify != nil {
		c.onNotify(n)
	}
}

func (c *Connection) pollData(rep *protocol.Reply) {
	pd, err := protocol.DecodePollData(rep)
	if err != nil {
		c.metrics.inc(ctrMalformed, c.cfg.DeviceID)
		c.log.Debug("dropped poll data", "err", err)
		return
	}
	if len(pd.Data) > 0 {
		c.OnTelemetryBytes(pd.Data)
	}
}

// resolve hands rep to the oldest live request of the same code. Requests
// found past their deadline on the way fail with ErrReplyTimeout.
func (c *Connection) resolve(rep *protocol.Reply) {
	now := time.Now()
	req, evicted := c.pending.match(rep.Code, now)

	for _, r := range evicted {
		if r.Complete(nil, protocol.ErrReplyTimeout) {
			c.log.Debug("evicted stale request", "code", r.Code, "late", now.Sub(r.Deadline))
		}
	}
	c.metrics.add(ctrEvicted, c.cfg.DeviceID, len(evicted))
	c.metrics.setPending(c.cfg.DeviceID, c.pending.len())

	if req == nil {
		c.metrics.inc(ctrUnmatched, c.cfg.DeviceID)
		c.log.Debug("unmatched reply", "code", rep.Code, "status", rep.Status)
		return
	}
	if req.Complete(rep, nil) {
		c.metrics.inc(ctrMatched, c.cfg.DeviceID)
		c.metrics.observeLatency(c.cfg.DeviceID, now.Sub(req.SentAt).Seconds())
	}
}

// OnTelemetryBytes feeds polled bytes to the record reassembler and queues the
// complete frames for the telemetry worker, in arrival order.
func (c *Connection) OnTelemetryBytes(b []byte) {
	c.gate.RLock()
	rs := c.run
	c.gate.RUnlock()
	if rs == nil {
		return
	}

	for _, f := range c.tel.Feed(b) {
		select {
		case c.frames <- f:
		case <-rs.telStop:
			return
		}
	}
}

// OnTransportError starts an asynchronous teardown of the session that owns
// the failed receive loop.
func (c *Connection) OnTransportError(err error) {
	if !c.tearingDown.CompareAndSwap(false, true) {
		return
	}
	c.lastErr.Store(err)
	c.log.Warn("transport failed", "err", err)

	c.gate.RLock()
	rs := c.run
	c.gate.RUnlock()

	go func() {
		c.lifeMu.Lock()
		defer c.lifeMu.Unlock()
		_ = c.closeLocked(rs)
	}()
}

func (c *Connection) telemetryLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-c.frames:
			c.handleFrame(f)
		}
	}
}

func (c *Connection) handleFrame(f telemetry.Frame) {
	rec := telemetry.Decode(f)
	c.metrics.inc(ctrRecords, c.cfg.DeviceID)

	if rec.Meta {
		if c.poll.Apply(rec.Control) {
			p := c.poll.Get()
			c.log.Info("polling changed", "enabled", p.Enabled, "interval", p.Interval)
			if c.onPoll != nil {
				c.onPoll(p)
			}
		}
		return
	}
	if c.onRecord != nil {
		c.onRecord(rec)
	}
}
