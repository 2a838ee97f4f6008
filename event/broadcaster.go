package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

const (
	writeWait      = 5 * time.Second
	pingInterval   = 30 * time.Second
	clientSendBuf  = 64
	defaultWSPath  = "/ws"
	subscriberName = "websocket"
)

// Broadcaster serves live events over WebSocket. Each connected client
// gets a bounded send queue; a client that cannot keep up is
// disconnected rather than allowed to stall the fan-out.
type Broadcaster struct {
	bus    *Bus
	port   int
	path   string
	buffer int
	logger *slog.Logger

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}

	lifecycleMu sync.Mutex
	running     bool
	server      *http.Server
	sub         *Subscription
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewBroadcaster creates a WebSocket broadcaster on the given port
func NewBroadcaster(bus *Bus, port int, path string, buffer int, logger *slog.Logger) (*Broadcaster, error) {
	if bus == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: bus is required", errors.ErrInvalidConfig),
			"Broadcaster", "NewBroadcaster", "validate dependencies")
	}
	if port < 1024 || port > 65535 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: port %d outside range 1024-65535", errors.ErrInvalidConfig, port),
			"Broadcaster", "NewBroadcaster", "validate port")
	}
	if path == "" {
		path = defaultWSPath
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Broadcaster{
		bus:    bus,
		port:   port,
		path:   path,
		buffer: buffer,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}, nil
}

// Start begins serving WebSocket connections and forwarding events
func (b *Broadcaster) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running {
		return errors.ErrAlreadyStarted
	}

	sub, err := b.bus.Subscribe(subscriberName, b.buffer)
	if err != nil {
		return errors.Wrap(err, "Broadcaster", "Start", "subscribe to bus")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(b.path, b.handleWebSocket)

	b.sub = sub
	b.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", b.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	b.shutdown = make(chan struct{})
	b.running = true

	b.wg.Add(2)
	go b.runServer()
	go b.fanOut(context.WithoutCancel(ctx))

	b.logger.Info("websocket broadcaster listening", "port", b.port, "path", b.path)
	return nil
}

// Stop closes all clients and shuts the server down
func (b *Broadcaster) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running {
		return errors.ErrNotStarted
	}
	b.running = false

	close(b.shutdown)
	b.bus.Unsubscribe(b.sub)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := b.server.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("websocket server shutdown error", "error", err)
	}

	b.clientsMu.Lock()
	for c := range b.clients {
		c.close()
		_ = c.conn.Close()
	}
	b.clients = make(map[*wsClient]struct{})
	b.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrTimeout, "Broadcaster", "Stop", "wait for goroutines")
	}
}

func (b *Broadcaster) runServer() {
	defer b.wg.Done()

	err := b.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		b.logger.Error("websocket server failed", "error", err)
	}
}

// fanOut copies bus events to every connected client's send queue
func (b *Broadcaster) fanOut(_ context.Context) {
	defer b.wg.Done()

	for e := range b.sub.C() {
		data, err := json.Marshal(e)
		if err != nil {
			b.logger.Warn("failed to encode event", "event_type", e.Type, "error", err)
			continue
		}

		b.clientsMu.Lock()
		for c := range b.clients {
			select {
			case c.send <- data:
			default:
				// Slow client: disconnect instead of blocking the fan-out.
				delete(b.clients, c)
				c.close()
				_ = c.conn.Close()
				b.logger.Warn("disconnecting slow websocket client",
					"remote", c.conn.RemoteAddr().String())
			}
		}
		b.clientsMu.Unlock()
	}
}

func (b *Broadcaster) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientSendBuf)}

	b.clientsMu.Lock()
	b.clients[c] = struct{}{}
	count := len(b.clients)
	b.clientsMu.Unlock()

	b.logger.Info("websocket client connected",
		"remote", conn.RemoteAddr().String(),
		"clients", count)

	b.wg.Add(2)
	go b.writePump(c)
	go b.readPump(c)
}

// writePump drains the client's send queue and keeps the connection
// alive with pings.
func (b *Broadcaster) writePump(c *wsClient) {
	defer b.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.removeClient(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(writeWait)); err != nil {
				b.removeClient(c)
				return
			}
		case <-b.shutdown:
			return
		}
	}
}

// readPump discards inbound frames and detects disconnects
func (b *Broadcaster) readPump(c *wsClient) {
	defer b.wg.Done()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			b.removeClient(c)
			return
		}
	}
}

func (b *Broadcaster) removeClient(c *wsClient) {
	b.clientsMu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
		_ = c.conn.Close()
	}
	b.clientsMu.Unlock()
}

// ClientCount returns the number of connected WebSocket clients
func (b *Broadcaster) ClientCount() int {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	return len(b.clients)
}
