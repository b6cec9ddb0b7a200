package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"dockerflow/internal/store"
)

type Broadcaster struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{conns: make(map[*websocket.Conn]struct{})}
}

func (b *Broadcaster) Add(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn] = struct{}{}
}

func (b *Broadcaster) Remove(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, conn)
}

func (b *Broadcaster) Broadcast(ctx context.Context, payload []byte) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
	}
}

// StreamUpdate is the envelope every websocket message uses.
type StreamUpdate struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (b *Broadcaster) publish(ctx context.Context, update StreamUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	b.Broadcast(ctx, payload)
}

func (b *Broadcaster) PublishActivity(ctx context.Context, a store.Activity) {
	b.publish(ctx, StreamUpdate{Type: "activity", Data: toActivityResponse(a)})
}

func (b *Broadcaster) PublishAlert(ctx context.Context, a store.Alert) {
	b.publish(ctx, StreamUpdate{Type: "alert", Data: toAlertResponse(a)})
}

func (b *Broadcaster) PublishContainer(ctx context.Context, c store.Container) {
	b.publish(ctx, StreamUpdate{Type: "container", Data: toContainerResponse(c)})
}
