package geyser

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const subscribeMethod = "/geyser.Geyser/Subscribe"

// ErrServerClosed is returned by Start after Stop.
var ErrServerClosed = errors.New("geyser server closed")

// Server serves the Subscribe stream to remote consumers. It is itself a
// Plugin: register it on the node's Dispatcher to feed it.
type Server struct {
	config ServerConfig
	token  string
	grpc   *grpc.Server

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64

	done    chan struct{}
	closed  atomic.Bool
	sent    atomic.Uint64
	evicted atomic.Uint64
}

type subscription struct {
	id      uint64
	request SubscribeRequest
	updates chan *Update
	lagged  chan struct{}
	once    sync.Once
}

func (s *subscription) lag() {
	s.once.Do(func() { close(s.lagged) })
}

// subscribeServer is the handler type registered for the Geyser service.
type subscribeServer interface {
	subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "geyser.Geyser",
	HandlerType: (*subscribeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "geyser.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(subscribeServer).subscribe(req, stream)
}

// NewServer creates a Geyser gRPC server.
func NewServer(config ServerConfig) (*Server, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		config: config,
		token:  config.ExpandedToken(),
		subs:   make(map[uint64]*subscription),
		done:   make(chan struct{}),
	}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             config.KeepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// Start listens on the configured address and serves in the background.
// It returns the bound address, which differs from the configured one when
// the port is 0.
func (s *Server) Start() (net.Addr, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	lis, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.config.ListenAddr, err)
	}
	go func() {
		if err := s.grpc.Serve(lis); err != nil && !s.closed.Load() {
			log.Printf("[GEYSER] Server stopped: %v", err)
		}
	}()
	log.Printf("[GEYSER] gRPC server listening on %s", lis.Addr())
	return lis.Addr(), nil
}

// Stop ends every subscription and shuts the server down, waiting up to
// timeout for streams to finish.
func (s *Server) Stop(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		s.grpc.Stop()
	}
}

func (s *Server) subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	if err := s.authorize(stream.Context()); err != nil {
		return err
	}

	sub, err := s.add(req)
	if err != nil {
		return err
	}
	defer s.remove(sub.id)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		case <-sub.lagged:
			return status.Error(codes.ResourceExhausted, "subscriber too slow")
		case u := <-sub.updates:
			if err := stream.SendMsg(u); err != nil {
				return err
			}
			s.sent.Add(1)
		}
	}
}

func (s *Server) authorize(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("x-token") {
		if subtle.ConstantTimeCompare([]byte(v), []byte(s.token)) == 1 {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "invalid x-token")
}

func (s *Server) add(req *SubscribeRequest) (*subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) >= s.config.MaxSubscribers {
		return nil, status.Errorf(codes.ResourceExhausted, "subscriber limit %d reached", s.config.MaxSubscribers)
	}
	s.nextID++
	sub := &subscription{
		id:      s.nextID,
		request: *req,
		updates: make(chan *Update, s.config.SubscriberBuffer),
		lagged:  make(chan struct{}),
	}
	s.subs[sub.id] = sub
	return sub, nil
}

func (s *Server) remove(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// Subscribers returns the number of active Subscribe streams.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) broadcast(u *Update) {
	u.CreatedAt = time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.request.Match(u) {
			continue
		}
		select {
		case sub.updates <- u:
		default:
			s.evicted.Add(1)
			sub.lag()
		}
	}
}

// Name implements Plugin.
func (s *Server) Name() string { return "grpc" }

// OnAccountUpdate implements Plugin.
func (s *Server) OnAccountUpdate(_ context.Context, update *AccountUpdate) error {
	s.broadcast(&Update{Account: update})
	return nil
}

// OnTransaction implements Plugin.
func (s *Server) OnTransaction(_ context.Context, update *TransactionUpdate) error {
	s.broadcast(&Update{Transaction: update})
	return nil
}

// OnSlot implements Plugin.
func (s *Server) OnSlot(_ context.Context, update *SlotUpdate) error {
	s.broadcast(&Update{Slot: update})
	return nil
}

// Close implements Plugin.
func (s *Server) Close() error {
	s.Stop(5 * time.Second)
	return nil
}
