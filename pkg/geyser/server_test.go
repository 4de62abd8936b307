package geyser

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

func startServer(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	addr, err := srv.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Stop(time.Second) })
	return srv, addr.String()
}

func newTestClient(t *testing.T, endpoint string, req SubscribeRequest, token string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.Request = req
	cfg.Token = token
	cfg.ReconnectMinDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) *Update {
	t.Helper()
	select {
	case u := <-c.Updates():
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
		return nil
	}
}

func TestServerStreamsMatchingUpdates(t *testing.T) {
	srv, addr := startServer(t, ServerConfig{})
	board := types.Pubkey{7}
	program := types.Pubkey{9}

	c := newTestClient(t, addr, SubscribeRequest{Owners: []types.Pubkey{program}, Slots: true}, "")
	waitFor(t, "subscriber", func() bool { return srv.Subscribers() == 1 })

	ctx := context.Background()
	srv.OnAccountUpdate(ctx, &AccountUpdate{Pubkey: types.Pubkey{1}, Owner: types.Pubkey{}})
	srv.OnTransaction(ctx, &TransactionUpdate{Slot: 1})
	srv.OnAccountUpdate(ctx, &AccountUpdate{Pubkey: board, Owner: program, Data: []byte{1, 2, 3}, Slot: 1})
	srv.OnSlot(ctx, &SlotUpdate{Slot: 2, Parent: 1, Blockhash: types.Hash{5}})

	u := receive(t, c)
	if u.Account == nil || u.Account.Pubkey != board || string(u.Account.Data) != "\x01\x02\x03" {
		t.Fatalf("first update = %+v, want board account", u)
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	u = receive(t, c)
	if u.Slot == nil || u.Slot.Slot != 2 || u.Slot.Blockhash != (types.Hash{5}) {
		t.Fatalf("second update = %+v, want slot 2", u)
	}

	waitFor(t, "health", func() bool { return c.Health().LastSlot == 2 })
	if h := c.Health(); !h.Connected || h.Received != 2 || h.Endpoint != addr {
		t.Errorf("Health() = %+v", h)
	}
}

func TestServerRejectsBadToken(t *testing.T) {
	_, addr := startServer(t, ServerConfig{Token: "secret"})

	c := newTestClient(t, addr, SubscribeRequest{Slots: true}, "wrong")
	waitFor(t, "disconnect", func() bool { return c.Health().LastError != nil })

	if code := status.Code(c.Health().LastError); code != codes.Unauthenticated {
		t.Errorf("LastError code = %v, want Unauthenticated", code)
	}
	if c.Health().ReconnectCount != 0 {
		t.Error("client reconnected after authentication failure")
	}
}

func TestServerAcceptsToken(t *testing.T) {
	t.Setenv("GEYSER_TEST_TOKEN", "secret")
	srv, addr := startServer(t, ServerConfig{Token: "${GEYSER_TEST_TOKEN}"})

	c := newTestClient(t, addr, SubscribeRequest{Slots: true}, "secret")
	waitFor(t, "subscriber", func() bool { return srv.Subscribers() == 1 })
	srv.OnSlot(context.Background(), &SlotUpdate{Slot: 9})
	if u := receive(t, c); u.Slot == nil || u.Slot.Slot != 9 {
		t.Fatalf("update = %+v", u)
	}
}

func TestServerSubscriberLimit(t *testing.T) {
	srv, addr := startServer(t, ServerConfig{MaxSubscribers: 1})

	newTestClient(t, addr, SubscribeRequest{Slots: true}, "")
	waitFor(t, "first subscriber", func() bool { return srv.Subscribers() == 1 })

	second := newTestClient(t, addr, SubscribeRequest{Slots: true}, "")
	waitFor(t, "rejection", func() bool { return second.Health().LastError != nil })
	if code := status.Code(second.Health().LastError); code != codes.ResourceExhausted {
		t.Errorf("LastError code = %v, want ResourceExhausted", code)
	}
}

func TestClientCloseStopsUpdates(t *testing.T) {
	srv, addr := startServer(t, ServerConfig{})
	c := newTestClient(t, addr, SubscribeRequest{Slots: true}, "")
	waitFor(t, "subscriber", func() bool { return srv.Subscribers() == 1 })

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if _, ok := <-c.Updates(); ok {
		t.Error("Updates() still open after Close")
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
	waitFor(t, "unsubscribe", func() bool { return srv.Subscribers() == 0 })
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrStreamClosed, true},
		{status.Error(codes.Unavailable, "down"), true},
		{status.Error(codes.ResourceExhausted, "slow"), true},
		{status.Error(codes.Unauthenticated, "no"), false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if err := cfg.Validate(); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("Validate() error = %v, want ErrNoEndpoint", err)
	}

	cfg.Endpoint = "127.0.0.1:10000"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cfg.ReconnectMaxDelay = cfg.ReconnectMinDelay / 2
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}

	srv := ServerConfig{ListenAddr: "nonsense"}.WithDefaults()
	if err := srv.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ServerConfig.Validate() error = %v, want ErrInvalidConfig", err)
	}
}
