package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/pedometer-bridge/internal/channel"
	"github.com/sstent/pedometer-bridge/internal/models"
)

const testStream = "step_count"

type fakeStream struct {
	mu      sync.Mutex
	sink    channel.EventSink
	listens int
	cancels int
}

func (s *fakeStream) OnListen(_ any, sink channel.EventSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.listens++
	return nil
}

func (s *fakeStream) OnCancel(any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	s.cancels++
	return nil
}

func (s *fakeStream) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listens, s.cancels
}

func (s *fakeStream) emit(v any) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Success(v)
	}
}

type fakeStats struct{}

func (fakeStats) GetStats() (*models.StoreStats, error) {
	return &models.StoreStats{Samples: 7, ImportedFiles: 1}, nil
}

type fixture struct {
	messenger *channel.Messenger
	stream    *fakeStream
	hub       *Hub
	router    *gin.Engine
}

func newFixture(t *testing.T, rdb *redis.Client) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d := channel.NewDispatcher(16, nil)
	t.Cleanup(d.Close)
	m := channel.NewMessenger(d, nil)

	m.SetMethodCallHandler("cm_pedometer", channel.MethodHandlerFunc(func(call channel.MethodCall, result channel.Result) {
		switch call.Method {
		case "isStepCountingAvailable":
			result.Success(true)
		case "fail":
			result.Error("UNAVAILABLE", "nope", nil)
		default:
			result.NotImplemented()
		}
	}))
	stream := &fakeStream{}
	m.SetStreamHandler(testStream, stream)

	hub := NewHub(m, rdb, nil)
	t.Cleanup(hub.Close)

	router := gin.New()
	NewWebHandler(m, hub, Options{DB: fakeStats{}, Platform: "android"}).RegisterRoutes(router)
	return &fixture{messenger: m, stream: stream, hub: hub, router: router}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "android", body["platform"])
	assert.NotNil(t, body["store"])
}

func TestChannels(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/channels", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Methods     []string       `json:"methods"`
		Streams     []string       `json:"streams"`
		Subscribers map[string]int `json:"subscribers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"cm_pedometer"}, body.Methods)
	assert.Equal(t, []string{testStream}, body.Streams)
	assert.Equal(t, 0, body.Subscribers[testStream])
}

func TestInvoke(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		code   int
		status channel.Status
	}{
		{"success", "/channels/cm_pedometer/invoke", `{"method":"isStepCountingAvailable"}`, http.StatusOK, channel.StatusSuccess},
		{"method error", "/channels/cm_pedometer/invoke", `{"method":"fail"}`, http.StatusOK, channel.StatusError},
		{"not implemented", "/channels/cm_pedometer/invoke", `{"method":"showAlert"}`, http.StatusOK, channel.StatusNotImplemented},
		{"unknown channel", "/channels/nope/invoke", `{"method":"isStepCountingAvailable"}`, http.StatusNotFound, ""},
		{"bad json", "/channels/cm_pedometer/invoke", `{"method":`, http.StatusBadRequest, ""},
		{"missing method", "/channels/cm_pedometer/invoke", `{}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.status == "" {
				return
			}
			var env channel.Envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.Equal(t, tt.status, env.Status)
		})
	}
}

func TestInvokeErrorEnvelope(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/channels/cm_pedometer/invoke", `{"method":"fail"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var env channel.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAVAILABLE", env.Error.Code)
	assert.Equal(t, "nope", env.Error.Message)
}

func dial(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/channels/" + name + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) channel.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev channel.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestEventsFanOut(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	a := dial(t, srv, testStream)
	require.Eventually(t, func() bool { return f.hub.Subscribers(testStream) == 1 }, time.Second, 5*time.Millisecond)
	b := dial(t, srv, testStream)
	require.Eventually(t, func() bool { return f.hub.Subscribers(testStream) == 2 }, time.Second, 5*time.Millisecond)

	listens, cancels := f.stream.counts()
	assert.Equal(t, 1, listens)
	assert.Equal(t, 0, cancels)

	f.stream.emit(map[string]any{"steps": 12})
	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, channel.EventData, ev.Kind)
		assert.Equal(t, map[string]any{"steps": float64(12)}, ev.Data)
	}

	a.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers(testStream) == 1 }, time.Second, 5*time.Millisecond)
	_, cancels = f.stream.counts()
	assert.Equal(t, 0, cancels)

	b.Close()
	require.Eventually(t, func() bool {
		_, cancels := f.stream.counts()
		return cancels == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.hub.Subscribers(testStream))
}

func TestEventsUnknownChannel(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/channels/nope/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLastErrorReplayedToLateJoiner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.hub.Subscribe(ctx, testStream)
	require.NoError(t, err)
	f.stream.mu.Lock()
	sink := f.stream.sink
	f.stream.mu.Unlock()
	require.NotNil(t, sink)
	sink.Error("UNAVAILABLE", "Step Counter not available", nil)
	<-first.Send

	late, err := f.hub.Subscribe(ctx, testStream)
	require.NoError(t, err)
	select {
	case msg := <-late.Send:
		var ev channel.Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, channel.EventError, ev.Kind)
		assert.Equal(t, "UNAVAILABLE", ev.Error.Code)
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive the stream error")
	}

	require.NoError(t, f.hub.Unsubscribe(ctx, first))
	require.NoError(t, f.hub.Unsubscribe(ctx, late))
	listens, cancels := f.stream.counts()
	assert.Equal(t, 1, listens)
	assert.Equal(t, 1, cancels)
}

func TestRedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	pubsub := rdb.Subscribe(ctx, redisChannel(testStream))
	t.Cleanup(func() { pubsub.Close() })
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	f := newFixture(t, rdb)
	client, err := f.hub.Subscribe(ctx, testStream)
	require.NoError(t, err)
	defer f.hub.Unsubscribe(ctx, client)

	f.stream.emit(map[string]any{"steps": 3})

	select {
	case msg := <-pubsub.Channel():
		assert.Equal(t, "pedometer:step_count:events", msg.Channel)
		var ev channel.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, channel.EventData, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed to redis")
	}
}
