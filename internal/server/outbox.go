package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// maxOutbox bounds the queued messages of one socket. A browser that falls
// this far behind loses messages instead of growing server memory.
const maxOutbox = 1024

type outMsg struct {
	typ  websocket.MessageType
	data []byte
}

// outbox is a FIFO of outgoing websocket messages drained by a single
// writer. Producers such as coordinator listeners and the audio callback
// enqueue without touching the network.
type outbox struct {
	mu      sync.Mutex
	queue   []outMsg
	dropped int
	ready   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

func (o *outbox) push(m outMsg) {
	o.mu.Lock()
	if len(o.queue) >= maxOutbox {
		o.dropped++
		n := o.dropped
		o.mu.Unlock()
		if n == 1 || n%100 == 0 {
			slog.Warn("websocket client too slow, dropping messages", "dropped", n)
		}
		return
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbox) pushJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode websocket frame", "err", err)
		return
	}
	o.push(outMsg{typ: websocket.MessageText, data: data})
}

func (o *outbox) pushBinary(b []byte) {
	o.push(outMsg{typ: websocket.MessageBinary, data: b})
}

func (o *outbox) take() []outMsg {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queue
	o.queue = nil
	return q
}

// run writes queued messages to conn in order until ctx is done or a write
// fails.
func (o *outbox) run(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.ready:
			for _, m := range o.take() {
				if err := conn.Write(ctx, m.typ, m.data); err != nil {
					return err
				}
			}
		}
	}
}
