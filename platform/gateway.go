package platform

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
	"github.com/guildgym/gymbot/utils"
)

type GatewayState int32

const (
	GatewayStateStopped GatewayState = iota
	GatewayStateStarting
	GatewayStateRunning
	GatewayStateStopping
	GatewayStateReconnecting
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultMaxRetries     = 10
	defaultPingInterval   = 54 * time.Second
	pongWait              = 60 * time.Second
	writeWait             = 10 * time.Second
)

// Gateway holds one websocket connection to the chat platform, decodes
// incoming interactions into events and fans them out to subscribed
// handlers. Subscriptions must be registered before Start; the dispatch
// path then reads them without locking writes out.
type Gateway struct {
	ctx               context.Context
	cancel            context.CancelFunc
	logger            types.Logger
	metrics           types.MetricsManager
	config            *types.GatewayConfig
	conn              *websocket.Conn
	connMu            sync.RWMutex
	subscriptions     map[string][]types.EventHandler
	subsMu            sync.RWMutex
	send              chan *types.Event
	reconnectCh       chan struct{}
	state             atomic.Value
	reconnectAttempts int32
}

func NewGateway(ctx context.Context, logger types.Logger, config *types.GatewayConfig, metrics types.MetricsManager) (types.GatewayClient, error) {
	if config == nil || config.URL == "" {
		return nil, types.ErrGatewayConfigInvalid
	}

	cfg := *config
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	gatewayCtx, cancel := context.WithCancel(ctx)

	gateway := &Gateway{
		ctx:           gatewayCtx,
		cancel:        cancel,
		logger:        logger,
		metrics:       metrics,
		config:        &cfg,
		subscriptions: make(map[string][]types.EventHandler),
		send:          make(chan *types.Event, 256),
		reconnectCh:   make(chan struct{}, 1),
	}

	gateway.state.Store(GatewayStateStopped)

	logger.Info("Gateway initialized",
		zap.String("url", cfg.URL),
		zap.Duration("reconnect_delay", cfg.ReconnectDelay),
		zap.Int("max_retries", cfg.MaxRetries))

	return gateway, nil
}

func (g *Gateway) Subscribe(eventType string, handler types.EventHandler) error {
	if eventType == "" {
		return types.ErrEventTypeEmpty
	}
	if handler == nil {
		return types.ErrHandlerIsNil
	}
	if g.IsRunning() {
		return types.ErrAlreadyRunning
	}

	g.subsMu.Lock()
	defer g.subsMu.Unlock()

	g.subscriptions[eventType] = append(g.subscriptions[eventType], handler)

	g.logger.Debug("Subscribed to event",
		zap.String("event_type", eventType),
		zap.Int("total_handlers", len(g.subscriptions[eventType])))

	return nil
}

// Publish queues one outgoing event, typically a reply to an
// interaction. Drops the event when the queue is full rather than
// blocking the caller.
func (g *Gateway) Publish(event *types.Event) error {
	if !g.IsRunning() {
		return types.ErrGatewayNotConnected
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case g.send <- event:
		return nil
	case <-g.ctx.Done():
		return types.ErrGatewayNotConnected
	default:
		g.logger.Error("Send queue full, dropping event",
			zap.String("event_type", event.Type))
		g.recordMetric("publish", "dropped", event.Type)
		return types.ErrGatewayNotConnected
	}
}

func (g *Gateway) Start() error {
	if !g.transitionState(GatewayStateStopped, GatewayStateStarting) {
		return types.ErrAlreadyRunning
	}

	if err := g.connect(); err != nil {
		g.setState(GatewayStateStopped)
		return types.WrapError(err, "failed to establish initial connection")
	}

	g.setState(GatewayStateRunning)

	go g.readPump()
	go g.writePump()
	go g.reconnectLoop()

	g.logger.Info("Gateway started")
	return nil
}

func (g *Gateway) Stop() error {
	if !g.transitionState(GatewayStateRunning, GatewayStateStopping) &&
		!g.transitionState(GatewayStateReconnecting, GatewayStateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		g.setState(GatewayStateStopped)
		g.cancel()
	}()

	g.connMu.Lock()
	if g.conn != nil {
		deadline := time.Now().Add(writeWait)
		_ = g.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = g.conn.Close()
		g.conn = nil
	}
	g.connMu.Unlock()

	g.logger.Info("Gateway stopped gracefully")
	return nil
}

func (g *Gateway) IsRunning() bool {
	state := g.getState()
	return state == GatewayStateRunning || state == GatewayStateReconnecting
}

func (g *Gateway) connect() error {
	dialCtx, cancel := context.WithTimeout(g.ctx, 10*time.Second)
	defer cancel()

	header := http.Header{}
	if g.config.Token != "" {
		header.Set("Authorization", "Bot "+g.config.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, g.config.URL, header)
	if err != nil {
		return types.WrapError(err, "failed to dial gateway")
	}

	g.connMu.Lock()
	if g.conn != nil {
		_ = g.conn.Close()
	}
	g.conn = conn
	g.connMu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	atomic.StoreInt32(&g.reconnectAttempts, 0)

	g.logger.Info("Connected to gateway", zap.String("url", g.config.URL))
	return nil
}

func (g *Gateway) reconnectLoop() {
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.reconnectCh:
			if !g.IsRunning() {
				return
			}

			g.transitionState(GatewayStateRunning, GatewayStateReconnecting)

			attempt := atomic.AddInt32(&g.reconnectAttempts, 1)
			if int(attempt) > g.config.MaxRetries {
				g.logger.Error("Max reconnection attempts reached, stopping gateway",
					zap.Int32("attempts", attempt-1))
				g.cancel()
				return
			}

			g.logger.Info("Reconnecting to gateway",
				zap.Int32("attempt", attempt),
				zap.Int("max_retries", g.config.MaxRetries))

			select {
			case <-time.After(g.config.ReconnectDelay):
			case <-g.ctx.Done():
				return
			}

			if err := g.connect(); err != nil {
				g.logger.Error("Reconnection attempt failed",
					zap.Int32("attempt", attempt),
					zap.Error(err))
				g.triggerReconnect()
				continue
			}

			g.transitionState(GatewayStateReconnecting, GatewayStateRunning)
			go g.readPump()
		}
	}
}

func (g *Gateway) triggerReconnect() {
	select {
	case g.reconnectCh <- struct{}{}:
	default:
	}
}

func (g *Gateway) readPump() {
	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}

		if !g.IsRunning() {
			return
		}

		conn := g.currentConn()
		if conn == nil {
			g.triggerReconnect()
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Debug("Gateway connection closed", zap.Error(err))
			} else {
				g.logger.Error("Gateway read failed", zap.Error(err))
			}
			if g.IsRunning() {
				g.triggerReconnect()
			}
			return
		}

		var event types.Event
		if err := utils.Unmarshal(data, &event); err != nil {
			g.logger.Error("Failed to decode gateway event", zap.Error(err))
			g.recordMetric("receive", "decode_error", "")
			continue
		}

		g.dispatch(&event)
	}
}

func (g *Gateway) writePump() {
	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case event := <-g.send:
			conn := g.currentConn()
			if conn == nil {
				g.recordMetric("publish", "dropped", event.Type)
				continue
			}

			data, err := utils.Marshal(event)
			if err != nil {
				g.logger.Error("Failed to encode outgoing event",
					zap.String("event_type", event.Type),
					zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				g.logger.Error("Gateway write failed", zap.Error(err))
				g.recordMetric("publish", "error", event.Type)
				if g.IsRunning() {
					g.triggerReconnect()
				}
				continue
			}

			g.recordMetric("publish", "success", event.Type)

		case <-ticker.C:
			conn := g.currentConn()
			if conn == nil {
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				g.logger.Error("Gateway ping failed", zap.Error(err))
				if g.IsRunning() {
					g.triggerReconnect()
				}
			}
		}
	}
}

func (g *Gateway) currentConn() *websocket.Conn {
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	return g.conn
}

func (g *Gateway) dispatch(event *types.Event) {
	start := time.Now()

	g.subsMu.RLock()
	handlers := g.subscriptions[event.Type]
	g.subsMu.RUnlock()

	if len(handlers) == 0 {
		g.logger.Debug("No handlers for event", zap.String("event_type", event.Type))
		g.recordMetric("dispatch", "no_handlers", event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, 30*time.Second)
	defer cancel()

	for _, handler := range handlers {
		if err := g.runHandler(ctx, event, handler); err != nil {
			g.logger.Error("Event handler failed",
				zap.String("event_type", event.Type),
				zap.String("guild_id", event.GuildID),
				zap.Error(err))
			g.recordMetric("dispatch", "error", event.Type)
		} else {
			g.recordMetric("dispatch", "success", event.Type)
		}
	}

	g.logger.Debug("Event dispatched",
		zap.String("event_type", event.Type),
		zap.String("guild_id", event.GuildID),
		zap.Duration("duration", time.Since(start)))
}

func (g *Gateway) runHandler(ctx context.Context, event *types.Event, handler types.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrHandlerPanicked, "%v", r)
		}
	}()
	return handler(ctx, event)
}

func (g *Gateway) recordMetric(operation, result, eventType string) {
	if g.metrics == nil {
		return
	}

	g.metrics.Counter("gateway_operations_total", map[string]string{
		"operation":  operation,
		"result":     result,
		"event_type": eventType,
	}).Inc()
}

func (g *Gateway) getState() GatewayState {
	return g.state.Load().(GatewayState)
}

func (g *Gateway) setState(newState GatewayState) bool {
	currentState := g.getState()
	return g.state.CompareAndSwap(currentState, newState)
}

func (g *Gateway) transitionState(from, to GatewayState) bool {
	return g.state.CompareAndSwap(from, to)
}
