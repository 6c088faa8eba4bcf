package transport

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// startPumpIfIdle is the "start-if-idle" primitive both pumps use to keep
// at most one consumer running per connection per direction, replacing the
// teacher's flag+mutex pair with a single CompareAndSwap enforcing that
// invariant. If the CAS succeeds (no consumer was running), run is
// submitted to the connection's shared worker pool; if it fails, a
// consumer is already draining the channel and will pick up whatever the
// caller just enqueued.
func startPumpIfIdle(active *atomic.Bool, submit func(func()) error, run func()) {
	if !active.CompareAndSwap(false, true) {
		return
	}
	if err := submit(run); err != nil {
		// The pool rejected the task (e.g. already closed). Clear the
		// flag so a later enqueue can retry starting a consumer.
		active.Store(false)
	}
}

// runPump drains ch, calling process once per item until the channel is
// closed, process reports a fatal error (returns false), or the channel
// empties out. On emptying, it clears active and attempts to reclaim it
// with a single CompareAndSwap before checking once more for work that
// arrived in the gap, a "drain-or-sleep" pattern that avoids the missed
// wakeup a plain flag-and-lock pair is prone to. Losing the reclaim CAS
// means a producer already started a fresh consumer task, so this
// goroutine returns immediately without touching active again.
func runPump[T any](active *atomic.Bool, ch chan T, process func(T) bool) {
	for {
		for {
			select {
			case item, ok := <-ch:
				if !ok {
					active.Store(false)
					return
				}
				if !process(item) {
					active.Store(false)
					return
				}
			default:
				goto idle
			}
		}

	idle:
		active.Store(false)
		if !active.CompareAndSwap(false, true) {
			return
		}

		select {
		case item, ok := <-ch:
			if !ok {
				active.Store(false)
				return
			}
			if !process(item) {
				active.Store(false)
				return
			}
			// Reclaimed successfully and found work: resume busy-draining.
		default:
			active.Store(false)
			// A producer that enqueued after this Store wins its own CAS and
			// starts a consumer; one that enqueued before it lost its CAS
			// to us, so its item must be picked up here.
			if len(ch) == 0 {
				return
			}
			if !active.CompareAndSwap(false, true) {
				return
			}
		}
	}
}

// enqueueChunk is called from the receive producer (the goroutine driving
// c.conn.Read) once per completed read. It appends chunk to the chunk
// channel, blocking if the channel is at its configured high-water mark.
// Blocking trades latency for bounded memory rather than dropping bytes,
// which would desynchronize the framing state machine for the rest of the
// connection's life. It then starts a consumer if none is running.
func (c *Connection) enqueueChunk(chunk []byte) {
	c.chunkCh <- chunk
	c.startReceiveConsumer()
}

func (c *Connection) startReceiveConsumer() {
	startPumpIfIdle(&c.readingPackets, c.pool.Submit, c.runReceiveConsumer)
}

func (c *Connection) runReceiveConsumer() {
	runPump(&c.readingPackets, c.chunkCh, c.decodeChunk)
}

// decodeChunk feeds one chunk through the frame decoder. A framing error
// (header decoded to zero) disconnects the connection: decodeChunk returns
// false, which runPump treats as fatal for this consumer.
//
// A pipeline error (empty output after decrypt or decompress) is not a
// framing error: it aborts decoding of whatever is left of the current
// chunk, by returning the error out of emit so feed stops, but the
// connection stays open. Any further frames already queued behind this
// chunk on chunkCh are unaffected, since the decoder's own state (reset to
// ReadingHeader before emit ran) is left consistent for the next chunk.
func (c *Connection) decodeChunk(chunk []byte) bool {
	err := c.decoder.feed(chunk, func(payload []byte) error {
		msg, err := c.pipeline.decode(payload)
		if err != nil {
			if errors.Is(err, errEmptyPipelineOutput) {
				c.opts.logger.Warn("dropping frame after empty pipeline output, aborting rest of chunk")
				return errEmptyPipelineOutput
			}
			return err
		}
		c.fireRead(msg)
		return nil
	})

	if err == nil || errors.Is(err, errEmptyPipelineOutput) {
		return true
	}

	c.opts.logger.Warn("framing error, disconnecting", "error", err)
	c.Close()
	return false
}

// enqueueSend is called by Send (and so by SendBlocking) after the message has
// already been serialized and pipelined. It appends payload to the send
// channel and starts a sender if none is running.
func (c *Connection) enqueueSend(payload []byte) {
	c.sendCh <- payload
	c.startSendConsumer()
}

func (c *Connection) startSendConsumer() {
	startPumpIfIdle(&c.sendingPackets, c.pool.Submit, c.runSendConsumer)
}

func (c *Connection) runSendConsumer() {
	runPump(&c.sendingPackets, c.sendCh, c.writeFrame)
}

// writeFrame prefixes payload (already compressed+encrypted) with its
// 3-byte little-endian header and writes header+payload in one call.
// Returns false on write failure, after disconnecting the connection and
// discarding whatever else is queued.
func (c *Connection) writeFrame(payload []byte) bool {
	if len(payload) > maxFrameLength {
		c.opts.logger.Error("outgoing payload exceeds max frame length", "length", len(payload))
		c.Close()
		c.drainSendChannel()
		return false
	}

	header := [headerLength]byte{
		byte(len(payload)),
		byte(len(payload) >> 8),
		byte(len(payload) >> 16),
	}

	framed := make([]byte, 0, headerLength+len(payload))
	framed = append(framed, header[:]...)
	framed = append(framed, payload...)

	if _, err := c.conn.Write(framed); err != nil {
		c.opts.logger.Warn("write failed, disconnecting", "error", err)
		c.Close()
		c.drainSendChannel()
		return false
	}

	if c.listener != nil {
		c.listener.bytesSent.Add(uint64(len(framed)))
	}
	return true
}

// drainSendChannel discards whatever is left in the send channel after a
// write failure.
func (c *Connection) drainSendChannel() {
	for {
		select {
		case <-c.sendCh:
		default:
			return
		}
	}
}
