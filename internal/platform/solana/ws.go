package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// AccountUpdate is one account change delivered by the node, decoded from
// the accountNotification payload.
type AccountUpdate struct {
	Account  solana.PublicKey
	Slot     uint64
	Lamports uint64
	Owner    solana.PublicKey
	Data     []byte
}

// AccountUpdateHandler is called for every account notification.
type AccountUpdateHandler func(AccountUpdate)

// WSClient subscribes to on-chain account changes over the Solana
// WebSocket API. It manages the connection lifecycle, keeps the
// subscription set across reconnects, and dispatches decoded updates to
// registered handlers.
type WSClient struct {
	wsURL      string
	commitment string
	conn       *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// writeMu serializes frame writes; the websocket allows one writer.
	writeMu sync.Mutex

	// Accounts to (re)subscribe; survives reconnects.
	accounts map[solana.PublicKey]struct{}

	// Per-connection bookkeeping: request id -> account awaiting its
	// subscription id, then subscription id -> account.
	pending map[int64]solana.PublicKey
	active  map[int64]solana.PublicKey

	nextID atomic.Int64

	handlers  []AccountUpdateHandler
	handlerMu sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a client for the given WebSocket endpoint, e.g.
// "wss://api.mainnet-beta.solana.com". An empty commitment defaults to
// confirmed.
func NewWSClient(wsURL, commitment string) *WSClient {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &WSClient{
		wsURL:      wsURL,
		commitment: commitment,
		accounts:   make(map[solana.PublicKey]struct{}),
		pending:    make(map[int64]solana.PublicKey),
		active:     make(map[int64]solana.PublicKey),
		done:       make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and re-issues any tracked
// subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("solana/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("solana/ws: connect: %w", err)
	}

	w.conn = conn
	w.pending = make(map[int64]solana.PublicKey)
	w.active = make(map[int64]solana.PublicKey)

	// Set up pong handler for keep-alive.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Restore subscriptions before the loops start; the confirmations sit
	// in the socket buffer until the read loop drains them.
	for account := range w.accounts {
		if err := w.sendSubscribe(account); err != nil {
			conn.Close()
			w.conn = nil
			return fmt.Errorf("solana/ws: restore subscription %s: %w", account, err)
		}
	}

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// SubscribeAccounts registers the accounts for change notifications. The
// subscription is retained across reconnects.
func (w *WSClient) SubscribeAccounts(ctx context.Context, accounts ...solana.PublicKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("solana/ws: not connected")
	}

	for _, account := range accounts {
		if _, ok := w.accounts[account]; ok {
			continue
		}
		if err := w.sendSubscribe(account); err != nil {
			return fmt.Errorf("solana/ws: subscribe %s: %w", account, err)
		}
		w.accounts[account] = struct{}{}
	}

	return nil
}

// OnAccountUpdate registers a handler called for every decoded account
// notification.
func (w *WSClient) OnAccountUpdate(handler AccountUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		w.writeMu.Lock()
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		w.writeMu.Unlock()
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// wsRequest is the JSON-RPC 2.0 request frame.
type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// sendSubscribe issues an accountSubscribe request. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(account solana.PublicKey) error {
	id := w.nextID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params: []any{
			account.String(),
			map[string]string{
				"encoding":   "base64",
				"commitment": w.commitment,
			},
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	w.writeMu.Lock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = w.conn.WriteMessage(websocket.TextMessage, data)
	w.writeMu.Unlock()
	if err != nil {
		return err
	}

	w.pending[id] = account
	return nil
}

// readLoop reads frames from one connection and dispatches them. On
// disconnect it hands off to reconnect and exits; the replacement
// connection gets its own loop.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // the new connection runs its own readLoop
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps one connection alive. It exits when the connection dies
// or the client shuts down.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes one frame: subscription confirmations map request
// ids to subscription ids, notifications decode into AccountUpdates.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		ID     int64           `json:"id"`
		Result json.RawMessage `json:"result"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	if envelope.Method == "accountNotification" {
		w.handleNotification(envelope.Params)
		return
	}

	// Reply to one of our subscribe requests carries the subscription id.
	if envelope.ID != 0 && len(envelope.Result) > 0 {
		var subID int64
		if err := json.Unmarshal(envelope.Result, &subID); err != nil {
			return
		}
		w.mu.Lock()
		if account, ok := w.pending[envelope.ID]; ok {
			delete(w.pending, envelope.ID)
			w.active[subID] = account
		}
		w.mu.Unlock()
	}
}

func (w *WSClient) handleNotification(params json.RawMessage) {
	var note struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Data     []string `json:"data"`
				Lamports uint64   `json:"lamports"`
				Owner    string   `json:"owner"`
			} `json:"value"`
		} `json:"result"`
		Subscription int64 `json:"subscription"`
	}
	if err := json.Unmarshal(params, &note); err != nil {
		return
	}

	w.mu.RLock()
	account, ok := w.active[note.Subscription]
	w.mu.RUnlock()
	if !ok {
		return
	}

	update := AccountUpdate{
		Account:  account,
		Slot:     note.Result.Context.Slot,
		Lamports: note.Result.Value.Lamports,
	}
	if owner, err := solana.PublicKeyFromBase58(note.Result.Value.Owner); err == nil {
		update.Owner = owner
	}
	if len(note.Result.Value.Data) > 0 {
		if data, err := base64.StdEncoding.DecodeString(note.Result.Value.Data[0]); err == nil {
			update.Data = data
		}
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
