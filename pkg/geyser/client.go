package geyser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Client errors.
var (
	ErrAlreadyConnected = errors.New("geyser client already connected")
	ErrClosed           = errors.New("geyser client closed")
	ErrStreamClosed     = errors.New("geyser stream closed")
	ErrMaxReconnects    = errors.New("max reconnection attempts reached")
)

var streamDesc = grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
}

// Client subscribes to a remote Geyser server.
//
// Updates are delivered on the Updates channel. The client reconnects with
// exponential backoff when the stream drops for a retryable reason.
type Client struct {
	config Config

	updates chan *Update

	// Root context from Connect; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// Current connection.
	mu           sync.Mutex
	conn         *grpc.ClientConn
	cancelStream context.CancelFunc

	connected      atomic.Bool
	closed         atomic.Bool
	lastSlot       atomic.Uint64
	lastUpdate     atomic.Int64 // Unix nano timestamp
	received       atomic.Uint64
	reconnectCount atomic.Int32
	wg             sync.WaitGroup

	lastError   error
	lastErrorMu sync.RWMutex
}

// NewClient creates a new Geyser client with the given configuration.
// The client is not connected until Connect() is called.
func NewClient(config Config) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config:  config,
		updates: make(chan *Update, config.ChannelSize),
	}, nil
}

// Connect dials the server and starts the subscription.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	stream, err := c.connect(c.ctx)
	if err != nil {
		c.cancel()
		return err
	}

	c.connected.Store(true)
	c.lastUpdate.Store(time.Now().UnixNano())

	c.wg.Add(1)
	go c.receiveLoop(stream)

	if c.config.OnConnect != nil {
		c.config.OnConnect()
	}
	return nil
}

// connect establishes the gRPC connection and sends the subscription.
func (c *Client) connect(ctx context.Context) (grpc.ClientStream, error) {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.config.KeepaliveTime,
			Timeout:             c.config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(c.config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(c.config.MaxMessageSize),
		),
	}

	if c.config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if c.config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      c.config.ExpandedToken(),
			requireTLS: c.config.UseTLS,
		}))
	}

	//nolint:staticcheck // Dial keeps compatibility with the pinned gRPC version
	conn, err := grpc.Dial(c.config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	md := metadata.New(c.config.Headers)
	streamCtx, cancel := context.WithCancel(metadata.NewOutgoingContext(ctx, md))

	stream, err := conn.NewStream(streamCtx, &streamDesc, subscribeMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	if err := stream.SendMsg(&c.config.Request); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.cancelStream = cancel
	c.mu.Unlock()
	return stream, nil
}

// receiveLoop continuously receives updates from the stream.
func (c *Client) receiveLoop(stream grpc.ClientStream) {
	defer c.wg.Done()

	for {
		update := new(Update)
		if err := stream.RecvMsg(update); err != nil {
			if c.ctx.Err() != nil {
				// Context cancelled, normal shutdown
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			c.setLastError(err)
			c.handleDisconnect(err)
			return
		}

		c.lastUpdate.Store(time.Now().UnixNano())
		c.received.Add(1)
		if update.Slot != nil {
			c.lastSlot.Store(update.Slot.Slot)
		}

		select {
		case c.updates <- update:
		case <-c.ctx.Done():
			return
		}
	}
}

// handleDisconnect tears down the current connection and reconnects when
// the error allows it.
func (c *Client) handleDisconnect(err error) {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}

	if c.config.OnDisconnect != nil {
		c.config.OnDisconnect(err)
	}

	c.release()

	if c.closed.Load() {
		return
	}
	if !isRetryableError(err) {
		log.Printf("[GEYSER] Subscription to %s ended: %v", c.config.Endpoint, err)
		return
	}
	c.wg.Add(1)
	go c.reconnect()
}

// reconnect attempts to reconnect with exponential backoff.
func (c *Client) reconnect() {
	defer c.wg.Done()

	backoff := c.config.ReconnectMinDelay
	for attempt := 1; ; attempt++ {
		c.reconnectCount.Add(1)

		if c.config.MaxReconnects > 0 && attempt > c.config.MaxReconnects {
			c.setLastError(ErrMaxReconnects)
			log.Printf("[GEYSER] Giving up on %s after %d attempts", c.config.Endpoint, c.config.MaxReconnects)
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		stream, err := c.connect(c.ctx)
		if err != nil {
			c.setLastError(err)
			backoff = minDuration(backoff*2, c.config.ReconnectMaxDelay)
			continue
		}

		c.connected.Store(true)
		c.lastUpdate.Store(time.Now().UnixNano())

		c.wg.Add(1)
		go c.receiveLoop(stream)

		if c.config.OnReconnect != nil {
			c.config.OnReconnect(attempt)
		}
		return
	}
}

// release closes the current stream and connection.
func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Updates returns the channel on which updates are delivered. It is closed
// by Close.
func (c *Client) Updates() <-chan *Update {
	return c.updates
}

// Health returns the current health status of the client.
func (c *Client) Health() ClientHealth {
	return ClientHealth{
		Connected:      c.connected.Load(),
		LastSlot:       c.lastSlot.Load(),
		LastUpdate:     time.Unix(0, c.lastUpdate.Load()),
		Endpoint:       c.config.Endpoint,
		Received:       c.received.Load(),
		ReconnectCount: int(c.reconnectCount.Load()),
		LastError:      c.getLastError(),
	}
}

// Close closes the client and releases all resources.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.release()
	c.connected.Store(false)
	close(c.updates)
	return nil
}

// setLastError safely sets the last error.
func (c *Client) setLastError(err error) {
	c.lastErrorMu.Lock()
	c.lastError = err
	c.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (c *Client) getLastError() error {
	c.lastErrorMu.RLock()
	defer c.lastErrorMu.RUnlock()
	return c.lastError
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"x-token": t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}

// minDuration returns the minimum of two durations.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// isRetryableError returns true if the error should trigger a reconnect.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.ResourceExhausted:
			return true
		}
		return false
	}

	return errors.Is(err, io.EOF) || errors.Is(err, ErrStreamClosed)
}
