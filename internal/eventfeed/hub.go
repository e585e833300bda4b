package eventfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"wadispatch/internal/constants"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Event types broadcast to operator consoles.
const (
	EventInboundMessage = "inbound_message"
	EventStatusUpdate   = "status_update"
	EventPayment        = "payment"
	EventOutboundSent   = "outbound_message"
	EventSystemConfig   = "system_config"
)

// Event is one feed entry.
type Event struct {
	Type              string      `json:"type"`
	MessageID         string      `json:"messageId,omitempty"`
	WhatsAppMessageID string      `json:"whatsappMessageId,omitempty"`
	ContactID         string      `json:"contactId,omitempty"`
	MessageType       string      `json:"messageType,omitempty"`
	Status            string      `json:"status,omitempty"`
	Content           string      `json:"content,omitempty"`
	Timestamp         int64       `json:"timestamp"`
	Data              interface{} `json:"data,omitempty"`
}

// Publisher receives processed events.
type Publisher interface {
	Publish(ev Event)
}

type subscriber struct {
	msgs      chan []byte
	closeSlow func()
}

// Hub fans events out to websocket subscribers. A subscriber whose buffer
// fills is disconnected rather than blocking publishers.
type Hub struct {
	bufferSize     int
	logger         *logrus.Logger
	originPatterns []string

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func NewHub(bufferSize int, logger *logrus.Logger, originPatterns ...string) *Hub {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultEventFeedBufferSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		bufferSize:     bufferSize,
		logger:         logger,
		originPatterns: originPatterns,
		subscribers:    make(map[*subscriber]struct{}),
	}
}

// Publish broadcasts ev to all current subscribers without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode feed event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		select {
		case s.msgs <- data:
		default:
			go s.closeSlow()
		}
	}
}

// Subscribers returns the number of connected consoles.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.WithError(err).Warn("Event feed upgrade failed")
		return
	}
	defer conn.CloseNow()

	if err := h.subscribe(r.Context(), conn); err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && websocket.CloseStatus(err) != websocket.StatusGoingAway {
		h.logger.WithError(err).Debug("Event feed subscriber disconnected")
	}
}

func (h *Hub) subscribe(ctx context.Context, conn *websocket.Conn) error {
	ctx = conn.CloseRead(ctx)

	s := &subscriber{
		msgs: make(chan []byte, h.bufferSize),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with events")
		},
	}
	h.add(s)
	defer h.remove(s)

	for {
		select {
		case msg := <-s.msgs:
			if err := writeWithTimeout(ctx, conn, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	h.logger.WithField("subscribers", n).Debug("Event feed subscriber connected")
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

// Discard is a Publisher that drops events.
type Discard struct{}

func (Discard) Publish(Event) {}
