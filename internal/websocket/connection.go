package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmarsh/overseer/internal/broker"
	"github.com/dmarsh/overseer/internal/transport"
	"github.com/dmarsh/overseer/internal/types"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Connection is one WebSocket client: a JSON-RPC request/response
// channel plus any number of push subscriptions. Subscriptions are
// scoped to the connection and torn down when it closes.
type Connection struct {
	conn   *websocket.Conn
	server *Server
	sendCh chan []byte

	mu     sync.Mutex
	closed bool
	subs   map[int64]*broker.Subscriber
	pumpWG sync.WaitGroup
}

// NewConnection wraps an upgraded WebSocket connection.
func NewConnection(conn *websocket.Conn, server *Server) *Connection {
	return &Connection{
		conn:   conn,
		server: server,
		sendCh: make(chan []byte, 256),
		subs:   make(map[int64]*broker.Subscriber),
	}
}

// ReadLoop reads and dispatches client requests until the connection
// drops.
func (c *Connection) ReadLoop(ctx context.Context) error {
	defer func() { _ = c.Close() }()

	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil
		}

		if err := c.handleRequest(ctx, message); err != nil {
			fmt.Fprintf(os.Stderr, "websocket request error: %v\n", err)
		}
	}
}

// WriteLoop drains the send queue and keeps the connection alive with
// pings.
func (c *Connection) WriteLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case message := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("write error: %w", err)
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping error: %w", err)
			}
		}
	}
}

// Send queues a frame for the client. Fails when the connection is
// closed or the outgoing buffer is full.
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close tears down the connection and all its subscriptions.
// Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	c.pumpWG.Wait()
	c.server.connections.remove(c)
	return c.conn.Close()
}

// subscribe attaches a broker subscription to this connection and pumps
// its events out as JSON-RPC notifications.
func (c *Connection) subscribe(sessionID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, fmt.Errorf("connection closed")
	}

	sub := c.server.broker.Subscribe(sessionID)
	c.subs[sub.ID()] = sub

	c.pumpWG.Add(1)
	go c.pump(sub)
	return sub.ID(), nil
}

// unsubscribe detaches one subscription.
func (c *Connection) unsubscribe(subID int64) error {
	c.mu.Lock()
	sub, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown subscription %d: %w", subID, types.ErrNotFound)
	}
	sub.Close()
	return nil
}

// pump forwards broker events to the client. The dropped flag rides on
// the first frame after an overflow so the client knows to replay the
// journal via events.since.
func (c *Connection) pump(sub *broker.Subscriber) {
	defer c.pumpWG.Done()
	for evt := range sub.Events() {
		notification := EventNotification{
			SubscriptionID: sub.ID(),
			Dropped:        sub.TakeDropped(),
			Event:          evt,
		}
		payload := map[string]any{
			"jsonrpc": "2.0",
			"method":  "event",
			"params":  notification,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		// A full client buffer loses this frame; re-flag the gap so the
		// next delivered frame tells the client to replay the journal.
		if err := c.Send(data); err != nil {
			sub.MarkDropped()
			continue
		}
	}
}

// EventNotification is the params payload of a pushed "event" frame.
type EventNotification struct {
	SubscriptionID int64       `json:"subscription_id"`
	Dropped        bool        `json:"dropped,omitempty"`
	Event          types.Event `json:"event"`
}

// SubscribeRequest represents the params of the subscribe method. An
// empty session_id subscribes to all sessions.
type SubscribeRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// SubscribeResponse represents the result of the subscribe method.
type SubscribeResponse struct {
	SubscriptionID int64 `json:"subscription_id"`
}

// UnsubscribeRequest represents the params of the unsubscribe method.
type UnsubscribeRequest struct {
	SubscriptionID int64 `json:"subscription_id"`
}

// UnsubscribeResponse represents the result of the unsubscribe method.
type UnsubscribeResponse struct {
	Unsubscribed bool `json:"unsubscribed"`
}

// handleRequest processes a JSON-RPC request (single or batch).
func (c *Connection) handleRequest(ctx context.Context, data []byte) error {
	ctx = transport.WithKind(ctx, transport.KindWebSocket)
	trimmed := json.RawMessage(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return c.handleBatchRequest(ctx, data)
	}
	return c.handleSingleRequest(ctx, data)
}

func (c *Connection) handleSingleRequest(ctx context.Context, data []byte) error {
	var req jsonRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return c.sendResponse(wsError(nil, -32700, "parse error", err.Error()))
	}
	return c.sendResponse(c.processSingleRequest(ctx, req))
}

func (c *Connection) handleBatchRequest(ctx context.Context, data []byte) error {
	var requests []jsonRPCRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return c.sendResponse(wsError(nil, -32700, "parse error", err.Error()))
	}
	if len(requests) == 0 {
		return c.sendResponse(wsError(nil, -32600, "invalid request", "batch request cannot be empty"))
	}

	responses := make([]jsonRPCResponse, len(requests))
	for i, req := range requests {
		responses[i] = c.processSingleRequest(ctx, req)
	}
	return c.sendBatchResponse(responses)
}

func (c *Connection) processSingleRequest(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	if req.JSONRPC != "2.0" {
		return wsError(req.ID, -32600, "invalid request", "jsonrpc field must be '2.0'")
	}

	// Omitted params parse as nil; hand handlers an empty object.
	params := req.Params
	if params == nil {
		params = json.RawMessage("{}")
	}

	// Subscription management is connection-scoped, so it is handled
	// here rather than in the shared handler registry.
	switch req.Method {
	case "subscribe":
		return c.handleSubscribe(req.ID, params)
	case "unsubscribe":
		return c.handleUnsubscribe(req.ID, params)
	}

	handler, ok := c.server.getHandler(req.Method)
	if !ok {
		return wsError(req.ID, -32601, "method not found", req.Method)
	}

	result, err := handler(ctx, params)
	if err != nil {
		return wsError(req.ID, types.JSONRPCCode(err), err.Error(), types.ErrorCode(err))
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return wsError(req.ID, -32603, "internal error", err.Error())
	}
	return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: resultJSON}
}

func (c *Connection) handleSubscribe(id *json.RawMessage, params json.RawMessage) jsonRPCResponse {
	var req SubscribeRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return wsError(id, -32602, "invalid params", err.Error())
	}
	subID, err := c.subscribe(req.SessionID)
	if err != nil {
		return wsError(id, -32000, err.Error(), nil)
	}
	result, _ := json.Marshal(SubscribeResponse{SubscriptionID: subID})
	return jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func (c *Connection) handleUnsubscribe(id *json.RawMessage, params json.RawMessage) jsonRPCResponse {
	var req UnsubscribeRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return wsError(id, -32602, "invalid params", err.Error())
	}
	if err := c.unsubscribe(req.SubscriptionID); err != nil {
		return wsError(id, -32000, err.Error(), types.ErrorCode(err))
	}
	result, _ := json.Marshal(UnsubscribeResponse{Unsubscribed: true})
	return jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func (c *Connection) sendResponse(resp jsonRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return c.Send(data)
}

func (c *Connection) sendBatchResponse(responses []jsonRPCResponse) error {
	data, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("marshal batch response: %w", err)
	}
	return c.Send(data)
}

func wsError(id *json.RawMessage, code int, message string, data any) jsonRPCResponse {
	return jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonRPCError{Code: code, Message: message, Data: data},
	}
}

// JSON-RPC 2.0 wire structures.
type jsonRPCRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *jsonRPCError    `json:"error,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
