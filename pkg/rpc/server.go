package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/runtime"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Version is reported by getVersion.
const Version = "rock-destroyer-1.0.0"

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string `yaml:"listen"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64 `yaml:"max_request_size"`

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool `yaml:"enable_cors"`

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string `yaml:"allowed_origins"`

	// LogRequests enables request logging.
	LogRequests bool `yaml:"log_requests"`

	// ProgramID is the leaderboard program served by getLeaderboard.
	ProgramID types.Pubkey `yaml:"-"`
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8899",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 50 * 1024, // 50KB
		EnableCORS:     true,
		LogRequests:    false,
		ProgramID:      types.LeaderboardProgramID,
	}
}

// Bank is the chain state the server reads and submits to.
type Bank interface {
	Slot() uint64
	LatestBlockhash() (types.Hash, uint64)
	IsBlockhashValid(h types.Hash) bool
	GetAccount(key types.Pubkey) (*accounts.Account, error)
	GetBalance(key types.Pubkey) (uint64, error)
	RentMinimum(dataLen uint64) uint64
	SignatureStatus(sig types.Signature) (runtime.SignatureStatus, bool)
	ProcessTransaction(tx *txn.Transaction) (*runtime.TransactionResult, error)
	SimulateTransaction(tx *txn.Transaction, sigVerify, checkBlockhash bool) (*runtime.TransactionResult, error)
	Airdrop(to types.Pubkey, lamports uint64) (types.Signature, error)
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config

	// Dependencies
	bank   Bank
	ledger blockstore.Store
	hub    *Hub

	healthy  bool
	healthMu sync.RWMutex

	// HTTP server
	server *http.Server

	// Method handlers
	handlers map[string]handlerFunc

	// Lifecycle
	mu      sync.Mutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server. ledger may be nil, in which case history
// methods report that history is unavailable.
func New(config Config, bank Bank, ledger blockstore.Store) *Server {
	if config.ProgramID.IsZero() {
		config.ProgramID = types.LeaderboardProgramID
	}
	s := &Server{
		config:   config,
		bank:     bank,
		ledger:   ledger,
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}
	s.hub = NewHub(s.accountInfo)

	s.registerHandlers()
	return s
}

// registerHandlers registers all RPC method handlers.
func (s *Server) registerHandlers() {
	// Account methods
	s.handlers["getAccountInfo"] = s.getAccountInfo
	s.handlers["getBalance"] = s.getBalance
	s.handlers["getMinimumBalanceForRentExemption"] = s.getMinimumBalanceForRentExemption
	s.handlers["requestAirdrop"] = s.requestAirdrop

	// Transaction methods
	s.handlers["sendTransaction"] = s.sendTransaction
	s.handlers["simulateTransaction"] = s.simulateTransaction
	s.handlers["getSignatureStatuses"] = s.getSignatureStatuses
	s.handlers["getTransaction"] = s.getTransaction
	s.handlers["getSignaturesForAddress"] = s.getSignaturesForAddress

	// Cluster methods
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getSlot"] = s.getSlot
	s.handlers["getLatestBlockhash"] = s.getLatestBlockhash
	s.handlers["isBlockhashValid"] = s.isBlockhashValid

	// Leaderboard methods
	s.handlers["getLeaderboard"] = s.getLeaderboard
	s.handlers["getLeaderboardAddress"] = s.getLeaderboardAddress
}

// Hub returns the websocket subscription hub. Register it as a geyser
// plugin to feed notifications.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.config.LogRequests {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Post("/", s.handleRPC)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.hub.ServeWS)
	r.Get("/leaderboard/{owner}", s.handleLeaderboard)

	return r
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		lis.Close()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	log.Printf("[RPC] Server listening on %s", lis.Addr())

	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	s.hub.Close()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, solana-client")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth answers the plain-HTTP health probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "unhealthy")
		return
	}
	io.WriteString(w, "ok")
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		writeError(w, nil, ErrInvalidRequest)
		return
	}

	// Read request body with size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		writeError(w, nil, ErrParseError)
		return
	}

	// Check if this is a batch request
	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, ErrParseError)
		return
	}
	writeJSON(w, s.call(&req))
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		writeError(w, nil, ErrParseError)
		return
	}

	if len(requests) == 0 {
		writeError(w, nil, ErrInvalidRequest)
		return
	}

	responses := make([]Response, len(requests))
	for i := range requests {
		responses[i] = s.call(&requests[i])
	}
	writeJSON(w, responses)
}

// call validates and dispatches one request.
func (s *Server) call(req *Request) Response {
	if req.JSONRPC != JSONRPCVersion {
		return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: ErrInvalidRequest}
	}

	if s.config.LogRequests {
		log.Printf("[RPC] %s id=%v", req.Method, req.ID)
	}

	result, rpcErr := s.dispatch(req.Method, req.Params)
	if rpcErr != nil {
		return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
	}
	return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result}
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	return handler(params)
}
