package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

func TestEventConstructors(t *testing.T) {
	p := point.New("sensor-a", map[string]any{"v": 1})

	e := NewData(p, point.Vector{Psi: 0.5}, 0.5, true)
	assert.Equal(t, TypeData, e.Type)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())

	payload, ok := e.Payload.(DataPayload)
	require.True(t, ok)
	assert.Equal(t, p.ID, payload.PointID)
	assert.True(t, payload.Admitted)

	e = NewCircuitOpen("error_rate")
	assert.Equal(t, TypeCircuitOpen, e.Type)
	assert.Equal(t, CircuitOpenPayload{Reason: "error_rate"}, e.Payload)

	e = NewError(p.ID, p.Source, "sink_failure", "stream unavailable")
	assert.Equal(t, TypeError, e.Type)
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus, err := NewBus(nil, metric.NewRegistry())
	require.NoError(t, err)
	defer bus.Close()

	s1, err := bus.Subscribe("first", 4)
	require.NoError(t, err)
	s2, err := bus.Subscribe("second", 4)
	require.NoError(t, err)

	bus.Publish(NewCircuitOpen("latency"))

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case e := <-sub.C():
			assert.Equal(t, TypeCircuitOpen, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive the event", sub.Name())
		}
	}
}

func TestBusNeverBlocksPublisher(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	sub, err := bus.Subscribe("slow", 2)
	require.NoError(t, err)

	// Nobody drains the subscription; publishing must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(NewCircuitOpen("error_rate"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, int64(98), sub.Drops())
	assert.Len(t, sub.C(), 2)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	sub, err := bus.Subscribe("gone", 1)
	require.NoError(t, err)

	bus.Unsubscribe(sub)

	_, open := <-sub.C()
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(NewCircuitOpen("error_rate"))
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	bus.Close()

	_, err = bus.Subscribe("late", 1)
	assert.Error(t, err)
}

func TestBusSubscribeValidation(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	_, err = bus.Subscribe("bad", 0)
	assert.Error(t, err)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	sub, err := bus.Subscribe("sink", 1024)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewCircuitOpen("error_rate"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, len(sub.C()))
	assert.Equal(t, int64(0), sub.Drops())
}

// capturingPublisher records published subjects and payloads.
type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (c *capturingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *capturingPublisher) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subjects...)
}

func TestNATSBridgeForwardsEvents(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	pub := &capturingPublisher{}
	bridge, err := NewNATSBridge(bus, pub, "ecne.events", 16, nil)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	bus.Publish(NewCircuitOpen("latency"))
	bus.Publish(NewError("p1", "sensor-a", "sink_failure", "down"))

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bridge.Stop(time.Second))

	subjects := pub.snapshot()
	assert.Equal(t, "ecne.events.circuit-open", subjects[0])
	assert.Equal(t, "ecne.events.error", subjects[1])

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, TypeCircuitOpen, decoded.Type)
}

func TestNATSBridgeSurvivesPublishFailure(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	pub := &capturingPublisher{err: fmt.Errorf("no connection")}
	bridge, err := NewNATSBridge(bus, pub, "", 16, nil)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	bus.Publish(NewCircuitOpen("latency"))

	// The failure is swallowed; the bridge keeps running and stops cleanly.
	assert.NoError(t, bridge.Stop(time.Second))
}

func TestNATSBridgeValidation(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	_, err = NewNATSBridge(nil, &capturingPublisher{}, "", 0, nil)
	assert.Error(t, err)

	_, err = NewNATSBridge(bus, nil, "", 0, nil)
	assert.Error(t, err)
}

func TestBroadcasterValidation(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	_, err = NewBroadcaster(nil, 8081, "/ws", 16, nil)
	assert.Error(t, err)

	_, err = NewBroadcaster(bus, 80, "/ws", 16, nil)
	assert.Error(t, err)

	b, err := NewBroadcaster(bus, 8081, "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroadcasterDeliversToClient(t *testing.T) {
	bus, err := NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	b, err := NewBroadcaster(bus, 8081, "/ws", 16, nil)
	require.NoError(t, err)

	// Drive the handler through httptest instead of binding the port.
	b.shutdown = make(chan struct{})
	sub, err := bus.Subscribe(subscriberName, 16)
	require.NoError(t, err)
	b.sub = sub
	b.wg.Add(1)
	go b.fanOut(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(b.handleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(NewCircuitOpen("error_rate"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeCircuitOpen, decoded.Type)

	bus.Unsubscribe(sub)
	close(b.shutdown)
}
