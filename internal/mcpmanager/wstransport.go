package mcpmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/flowforge/engine/pkg/models"
)

// wsTransport speaks a minimal synchronous request/response JSON-RPC
// dialect over a single websocket connection. It backs both the
// direct "websocket" transport and docker's published-port websocket
// sub-mode.
type wsTransport struct {
	conn    *websocket.Conn
	nextID  int64
	mu      sync.Mutex
	pending map[int64]chan jsonrpcResponse
	readErr error
}

func newWSTransport(url string) (*wsTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket mcp server %q: %w", url, err)
	}
	t := &wsTransport{conn: conn, pending: make(map[int64]chan jsonrpcResponse)}
	go t.readLoop()
	return t, nil
}

func (t *wsTransport) readLoop() {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.readErr = err
			for _, ch := range t.pending {
				close(ch)
			}
			t.pending = map[int64]chan jsonrpcResponse{}
			t.mu.Unlock()
			return
		}
		var resp jsonrpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (t *wsTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&t.nextID, 1)
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	ch := make(chan jsonrpcResponse, 1)
	t.mu.Lock()
	if t.readErr != nil {
		t.mu.Unlock()
		return nil, t.readErr
	}
	t.pending[id] = ch
	t.mu.Unlock()

	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsRaw}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("websocket mcp connection closed while awaiting %s", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *wsTransport) Initialize(ctx context.Context) error {
	_, err := t.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "flow-execution-engine", "version": "0.1.0"},
	})
	return err
}

func (t *wsTransport) ListTools(ctx context.Context) ([]models.MCPToolDescriptor, error) {
	raw, err := t.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result wsToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	out := make([]models.MCPToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		out = append(out, models.MCPToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return out, nil
}

func (t *wsTransport) CallTool(ctx context.Context, toolName string, args map[string]any, progressToken string) (string, bool, error) {
	params := map[string]any{
		"name":      toolName,
		"arguments": args,
	}
	if progressToken != "" {
		params["_meta"] = map[string]any{"progressToken": progressToken}
	}

	raw, err := t.call(ctx, "tools/call", params)
	if err != nil {
		return "", true, err
	}
	var result wsToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", true, err
	}
	var text string
	for _, block := range result.Content {
		text += block.Text
	}
	return text, result.IsError, nil
}

func (t *wsTransport) notifyCancelled(progressToken, reason string) {
	notif := map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/cancelled",
		"params": map[string]any{
			"requestId": progressToken,
			"reason":    reason,
		},
	}
	raw, err := json.Marshal(notif)
	if err != nil {
		return
	}
	_ = t.conn.WriteMessage(websocket.TextMessage, raw)
}

func (t *wsTransport) Close(_ context.Context) error {
	return t.conn.Close()
}
