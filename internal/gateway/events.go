package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/mtpsched/internal/runner"
)

const eventWriteTimeout = 5 * time.Second

// EventHub fans cycle reports out to websocket subscribers and remembers
// the most recent one. Publish never blocks: a subscriber whose buffer is
// full misses that report.
type EventHub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	last   *runner.Report
	buffer int
	logger *slog.Logger
}

// NewEventHub creates a hub whose subscribers buffer up to buffer reports.
func NewEventHub(buffer int, logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		subs:   make(map[chan []byte]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish records report as the latest and sends it to every subscriber.
// Its signature matches runner.WithReportHook.
func (h *EventHub) Publish(report *runner.Report) {
	data, err := json.Marshal(report)
	if err != nil {
		h.logger.Error("gateway: marshal report", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = report
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.logger.Warn("gateway: event subscriber lagging, dropping report")
		}
	}
}

// Last returns the most recently published report, or nil.
func (h *EventHub) Last() *runner.Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel.
func (h *EventHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Len returns the number of subscribers.
func (h *EventHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleEvents streams every published report as a JSON text message.
func (g *Gateway) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Error("gateway: websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		// Clients only listen; CloseRead handles their control frames and
		// cancels ctx when they go away.
		ctx := conn.CloseRead(r.Context())

		events, unsubscribe := g.events.Subscribe()
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case <-g.done:
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case data := <-events:
				if err := writeEvent(ctx, conn, data); err != nil {
					g.logger.Debug("gateway: websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
