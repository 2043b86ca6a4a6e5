package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientBufferSize = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

// PublicEvent is the audience-safe view of a lifecycle event. Donation amounts and
// requester details never reach the live feed.
type PublicEvent struct {
	Type        string    `json:"type"`
	EventCode   string    `json:"event_code,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	QueueItemID string    `json:"queue_item_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	djID string
}

// Hub broadcasts lifecycle events to websocket clients watching a DJ's queue.
type Hub struct {
	mutex   sync.RWMutex
	clients map[string]map[*client]struct{}
	logger  *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]map[*client]struct{}), logger: logger}
}

// Attach registers conn for djID and starts its pumps. The hub owns conn afterwards.
func (hub *Hub) Attach(conn *websocket.Conn, djID djrequest.DJID) {
	attached := &client{conn: conn, send: make(chan []byte, clientBufferSize), djID: djID.String()}
	hub.mutex.Lock()
	watchers, ok := hub.clients[attached.djID]
	if !ok {
		watchers = make(map[*client]struct{})
		hub.clients[attached.djID] = watchers
	}
	watchers[attached] = struct{}{}
	hub.mutex.Unlock()
	hub.logger.Debug("live client attached", zap.String("dj_id", attached.djID))

	go hub.writePump(attached)
	go hub.readPump(attached)
}

// Subscribers reports how many clients watch djID.
func (hub *Hub) Subscribers(djID djrequest.DJID) int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients[djID.String()])
}

// Publish sends the public view of event to the DJ's watchers. Slow clients are dropped.
func (hub *Hub) Publish(ctx context.Context, event djrequest.LifecycleEvent) error {
	payload, err := json.Marshal(PublicEvent{
		Type:        event.Type,
		EventCode:   event.EventCode,
		RequestID:   event.RequestID,
		QueueItemID: event.QueueItemID,
		Status:      event.Status,
		OccurredAt:  event.OccurredAt,
	})
	if err != nil {
		return err
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for watcher := range hub.clients[event.DJID] {
		select {
		case watcher.send <- payload:
		default:
			hub.removeLocked(watcher)
		}
	}
	return nil
}

// Close disconnects every client.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for _, watchers := range hub.clients {
		for watcher := range watchers {
			hub.removeLocked(watcher)
		}
	}
}

func (hub *Hub) remove(watcher *client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	hub.removeLocked(watcher)
}

func (hub *Hub) removeLocked(watcher *client) {
	watchers, ok := hub.clients[watcher.djID]
	if !ok {
		return
	}
	if _, ok := watchers[watcher]; !ok {
		return
	}
	delete(watchers, watcher)
	if len(watchers) == 0 {
		delete(hub.clients, watcher.djID)
	}
	close(watcher.send)
	hub.logger.Debug("live client detached", zap.String("dj_id", watcher.djID))
}

func (hub *Hub) writePump(watcher *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = watcher.conn.Close()
	}()
	for {
		select {
		case message, ok := <-watcher.send:
			_ = watcher.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = watcher.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := watcher.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				hub.remove(watcher)
				return
			}
		case <-ticker.C:
			_ = watcher.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := watcher.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				hub.remove(watcher)
				return
			}
		}
	}
}

func (hub *Hub) readPump(watcher *client) {
	defer func() {
		hub.remove(watcher)
		_ = watcher.conn.Close()
	}()
	_ = watcher.conn.SetReadDeadline(time.Now().Add(pongWait))
	watcher.conn.SetPongHandler(func(string) error {
		return watcher.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := watcher.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				hub.logger.Warn("live client read failed", zap.String("dj_id", watcher.djID), zap.Error(err))
			}
			return
		}
	}
}

var _ djrequest.EventPublisher = (*Hub)(nil)
