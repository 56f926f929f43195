package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sstent/pedometer-bridge/internal/channel"
)

const (
	clientBuffer = 64
	relayBuffer  = 256
)

// Streams is the part of the messenger the hub drives.
type Streams interface {
	Listen(ctx context.Context, name string, arguments any, sink channel.EventSink) error
	Cancel(ctx context.Context, name string, arguments any) error
}

// Client is one websocket subscriber of an event channel.
type Client struct {
	ID      string
	Channel string
	Send    chan []byte
}

type topic struct {
	clients map[*Client]struct{}
	// lastError is replayed to subscribers joining a stream that already
	// reported an error, since the stream stays open but silent.
	lastError []byte
}

type relayed struct {
	channel string
	payload []byte
}

// Hub fans the events of each channel out to its websocket clients. The first
// client of a channel opens the stream, the last one leaving closes it.
type Hub struct {
	streams Streams
	redis   *redis.Client
	log     *slog.Logger

	// lifecycle serializes opening and closing streams.
	lifecycle sync.Mutex

	mu     sync.RWMutex
	topics map[string]*topic

	relay chan relayed
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewHub builds a hub. When redisClient is set every event is also published
// to pedometer:<channel>:events.
func NewHub(streams Streams, redisClient *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		streams: streams,
		redis:   redisClient,
		log:     log,
		topics:  map[string]*topic{},
		done:    make(chan struct{}),
	}
	if redisClient != nil {
		h.relay = make(chan relayed, relayBuffer)
		h.wg.Add(1)
		go h.publishRedis()
	}
	return h
}

func redisChannel(name string) string {
	return "pedometer:" + name + ":events"
}

// Subscribe adds a client to channel name, opening the stream for the first.
func (h *Hub) Subscribe(ctx context.Context, name string) (*Client, error) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	client := &Client{
		ID:      uuid.NewString(),
		Channel: name,
		Send:    make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	t := h.topics[name]
	first := t == nil
	if first {
		t = &topic{clients: map[*Client]struct{}{}}
		h.topics[name] = t
	}
	t.clients[client] = struct{}{}
	if t.lastError != nil {
		client.Send <- t.lastError
	}
	h.mu.Unlock()

	if first {
		if err := h.streams.Listen(ctx, name, nil, h.sink(name)); err != nil {
			h.mu.Lock()
			delete(h.topics, name)
			close(client.Send)
			h.mu.Unlock()
			return nil, err
		}
		h.log.Info("stream opened", "channel", name)
	}
	h.log.Debug("subscriber joined", "channel", name, "client", client.ID)
	return client, nil
}

// Unsubscribe removes the client and closes the stream after the last one.
func (h *Hub) Unsubscribe(ctx context.Context, client *Client) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	t := h.topics[client.Channel]
	if t == nil {
		h.mu.Unlock()
		return nil
	}
	if _, ok := t.clients[client]; !ok {
		h.mu.Unlock()
		return nil
	}
	delete(t.clients, client)
	close(client.Send)
	last := len(t.clients) == 0
	if last {
		delete(h.topics, client.Channel)
	}
	h.mu.Unlock()

	h.log.Debug("subscriber left", "channel", client.Channel, "client", client.ID)
	if !last {
		return nil
	}
	h.log.Info("stream closed", "channel", client.Channel)
	return h.streams.Cancel(ctx, client.Channel, nil)
}

// Subscribers counts the clients of channel name.
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t := h.topics[name]; t != nil {
		return len(t.clients)
	}
	return 0
}

func (h *Hub) sink(name string) channel.EventSink {
	return channel.SinkFunc(func(ev channel.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.log.Error("encode event", "channel", name, "error", err)
			return
		}
		h.Broadcast(name, payload, ev.Kind == channel.EventError)
	})
}

// Broadcast sends payload to every client of channel name. Slow clients miss
// events rather than stall the stream.
func (h *Hub) Broadcast(name string, payload []byte, isError bool) {
	h.mu.Lock()
	if t := h.topics[name]; t != nil {
		if isError {
			t.lastError = payload
		}
		for client := range t.clients {
			select {
			case client.Send <- payload:
			default:
				h.log.Warn("subscriber lagging, event dropped", "channel", name, "client", client.ID)
			}
		}
	}
	h.mu.Unlock()

	if h.relay != nil {
		select {
		case h.relay <- relayed{channel: name, payload: payload}:
		default:
			h.log.Warn("redis relay full, event dropped", "channel", name)
		}
	}
}

func (h *Hub) publishRedis() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.relay:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := h.redis.Publish(ctx, redisChannel(msg.channel), msg.payload).Err()
			cancel()
			if err != nil {
				h.log.Warn("redis publish error", "channel", msg.channel, "error", err)
			}
		}
	}
}

// Close stops the redis relay. Open streams are left to the messenger.
func (h *Hub) Close() {
	select {
	case <-h.done:
		return
	default:
	}
	close(h.done)
	h.wg.Wait()
}
