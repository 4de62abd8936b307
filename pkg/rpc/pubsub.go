package rpc

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outbound messages buffered per client before it is dropped
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriptionKind int

const (
	accountSubscription subscriptionKind = iota
	signatureSubscription
	slotSubscription
)

type subscription struct {
	id       uint64
	kind     subscriptionKind
	client   *wsClient
	account  types.Pubkey
	sig      types.Signature
	encoding Encoding
}

// accountRenderer encodes account state for notifications.
type accountRenderer func(account *accounts.Account, encoding Encoding, slice *DataSlice) (*AccountInfo, error)

// Hub tracks websocket subscribers and pushes them notifications. It is a
// geyser.Plugin: register it on the node's dispatcher to feed it.
type Hub struct {
	render accountRenderer

	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	byID       map[uint64]*subscription
	accounts   map[types.Pubkey]map[uint64]*subscription
	signatures map[types.Signature]map[uint64]*subscription
	slots      map[uint64]*subscription
	nextID     uint64
	closed     bool
}

// NewHub creates a hub that renders account notifications with render.
func NewHub(render accountRenderer) *Hub {
	return &Hub{
		render:     render,
		clients:    make(map[*wsClient]struct{}),
		byID:       make(map[uint64]*subscription),
		accounts:   make(map[types.Pubkey]map[uint64]*subscription),
		signatures: make(map[types.Signature]map[uint64]*subscription),
		slots:      make(map[uint64]*subscription),
	}
}

// ServeWS upgrades the request and serves subscriptions on it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[PUBSUB] Upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Subscriptions returns the number of active subscriptions.
func (h *Hub) Subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byID)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for id, sub := range h.byID {
		if sub.client == c {
			h.removeLocked(id)
		}
	}
}

func (h *Hub) subscribe(sub *subscription) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub.id = h.nextID
	h.byID[sub.id] = sub
	switch sub.kind {
	case accountSubscription:
		if h.accounts[sub.account] == nil {
			h.accounts[sub.account] = make(map[uint64]*subscription)
		}
		h.accounts[sub.account][sub.id] = sub
	case signatureSubscription:
		if h.signatures[sub.sig] == nil {
			h.signatures[sub.sig] = make(map[uint64]*subscription)
		}
		h.signatures[sub.sig][sub.id] = sub
	case slotSubscription:
		h.slots[sub.id] = sub
	}
	return sub.id
}

// unsubscribe removes a subscription owned by c and of kind.
func (h *Hub) unsubscribe(c *wsClient, kind subscriptionKind, id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.byID[id]
	if !ok || sub.client != c || sub.kind != kind {
		return false
	}
	h.removeLocked(id)
	return true
}

func (h *Hub) removeLocked(id uint64) {
	sub, ok := h.byID[id]
	if !ok {
		return
	}
	delete(h.byID, id)
	switch sub.kind {
	case accountSubscription:
		delete(h.accounts[sub.account], id)
		if len(h.accounts[sub.account]) == 0 {
			delete(h.accounts, sub.account)
		}
	case signatureSubscription:
		delete(h.signatures[sub.sig], id)
		if len(h.signatures[sub.sig]) == 0 {
			delete(h.signatures, sub.sig)
		}
	case slotSubscription:
		delete(h.slots, id)
	}
}

// Name implements geyser.Plugin.
func (h *Hub) Name() string { return "pubsub" }

// OnAccountUpdate implements geyser.Plugin.
func (h *Hub) OnAccountUpdate(_ context.Context, u *geyser.AccountUpdate) error {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.accounts[u.Pubkey]))
	for _, sub := range h.accounts[u.Pubkey] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	if len(subs) == 0 {
		return nil
	}

	account := &accounts.Account{
		Lamports:   u.Lamports,
		Owner:      u.Owner,
		Data:       u.Data,
		Executable: u.Executable,
		RentEpoch:  u.RentEpoch,
	}
	for _, sub := range subs {
		info, err := h.render(account, sub.encoding, nil)
		if err != nil {
			log.Printf("[PUBSUB] Render %s for subscription %d: %v", u.Pubkey, sub.id, err)
			continue
		}
		sub.client.notify("accountNotification", sub.id, ResponseWithContext{
			Context: Context{Slot: u.Slot},
			Value:   info,
		})
	}
	return nil
}

// OnTransaction implements geyser.Plugin. Signature subscriptions fire once
// and are then removed.
func (h *Hub) OnTransaction(_ context.Context, u *geyser.TransactionUpdate) error {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.signatures[u.Signature]))
	for id, sub := range h.signatures[u.Signature] {
		subs = append(subs, sub)
		h.removeLocked(id)
	}
	h.mu.Unlock()

	var errRaw json.RawMessage
	if !u.Succeeded() {
		errRaw = u.Err
	}
	for _, sub := range subs {
		sub.client.notify("signatureNotification", sub.id, ResponseWithContext{
			Context: Context{Slot: u.Slot},
			Value:   map[string]json.RawMessage{"err": errOrNull(errRaw)},
		})
	}
	return nil
}

// OnSlot implements geyser.Plugin.
func (h *Hub) OnSlot(_ context.Context, u *geyser.SlotUpdate) error {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.slots))
	for _, sub := range h.slots {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	var root uint64
	if u.Slot > blockstore.FinalityDepth {
		root = u.Slot - blockstore.FinalityDepth
	}
	for _, sub := range subs {
		sub.client.notify("slotNotification", sub.id, map[string]uint64{
			"parent": u.Parent,
			"root":   root,
			"slot":   u.Slot,
		})
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.kill()
	}
	return nil
}

func errOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

var _ geyser.Plugin = (*Hub)(nil)

// wsClient is one websocket connection.
type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

type notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  notificationParams `json:"params"`
}

type notificationParams struct {
	Result       interface{} `json:"result"`
	Subscription uint64      `json:"subscription"`
}

// readPump reads requests until the connection fails.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.kill()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[PUBSUB] Client %s: %v", c.id, err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
			continue
		}
		c.reply(c.handle(&req))
	}
}

// handle executes one subscription request.
func (c *wsClient) handle(req *Request) Response {
	resp := Response{JSONRPC: JSONRPCVersion, ID: req.ID}
	if req.JSONRPC != JSONRPCVersion {
		resp.Error = ErrInvalidRequest
		return resp
	}

	var rpcErr *RPCError
	switch req.Method {
	case "accountSubscribe":
		resp.Result, rpcErr = c.accountSubscribe(req.Params)
	case "signatureSubscribe":
		resp.Result, rpcErr = c.signatureSubscribe(req.Params)
	case "slotSubscribe":
		resp.Result = c.hub.subscribe(&subscription{kind: slotSubscription, client: c})
	case "accountUnsubscribe":
		resp.Result, rpcErr = c.unsubscribe(accountSubscription, req.Params)
	case "signatureUnsubscribe":
		resp.Result, rpcErr = c.unsubscribe(signatureSubscription, req.Params)
	case "slotUnsubscribe":
		resp.Result, rpcErr = c.unsubscribe(slotSubscription, req.Params)
	default:
		rpcErr = NewRPCError(MethodNotFound, "Method not found: "+req.Method)
	}
	if rpcErr != nil {
		resp.Result = nil
		resp.Error = rpcErr
	}
	return resp
}

func (c *wsClient) accountSubscribe(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	switch config.Encoding {
	case "":
		config.Encoding = EncodingBase58
	case EncodingBase58, EncodingBase64, EncodingBase64Zstd, EncodingJSONParsed:
	default:
		return nil, InvalidParamsErrorf("unsupported encoding %q", config.Encoding)
	}
	return c.hub.subscribe(&subscription{
		kind:     accountSubscription,
		client:   c,
		account:  pubkey,
		encoding: config.Encoding,
	}), nil
}

func (c *wsClient) signatureSubscribe(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignature(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	return c.hub.subscribe(&subscription{kind: signatureSubscription, client: c, sig: sig}), nil
}

func (c *wsClient) unsubscribe(kind subscriptionKind, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var id uint64
	if err := json.Unmarshal(args[0], &id); err != nil {
		return nil, InvalidParamsError("invalid subscription id")
	}
	if !c.hub.unsubscribe(c, kind, id) {
		return nil, InvalidParamsError("Invalid subscription id.")
	}
	return true, nil
}

func (c *wsClient) reply(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[PUBSUB] Encode response: %v", err)
		return
	}
	c.enqueue(data)
}

func (c *wsClient) notify(method string, id uint64, result interface{}) {
	data, err := json.Marshal(notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  notificationParams{Result: result, Subscription: id},
	})
	if err != nil {
		log.Printf("[PUBSUB] Encode %s: %v", method, err)
		return
	}
	c.enqueue(data)
}

// enqueue queues data for the writer; a client that cannot keep up is
// disconnected.
func (c *wsClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		log.Printf("[PUBSUB] Client %s too slow, disconnecting", c.id)
		c.kill()
	}
}

func (c *wsClient) kill() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump writes queued messages and keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.kill()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
