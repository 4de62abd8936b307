// Package dashboard provides an embedded web dashboard for a rock-destroyer node.
//
// The dashboard provides:
// - Node health: slot, bank hash, uptime and plugin delivery counters
// - Every leaderboard on the node with its ranking
// - Account lookup by public key
// - Transaction lookup by signature, with logs and balance changes
// - Process metrics (memory, goroutines)
//
// Templates and styles are compiled into the binary, so the dashboard
// needs no files on disk.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrAlreadyRunning is returned by Serve on a running dashboard.
var ErrAlreadyRunning = errors.New("dashboard already running")

// Config holds dashboard configuration options.
type Config struct {
	// Addr is the host:port to listen on.
	// Default: "127.0.0.1:8080"
	Addr string `yaml:"listen"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RecentTransactions bounds the history shown for each leaderboard.
	RecentTransactions int `yaml:"recent_transactions"`

	// ProgramID owns the leaderboards shown. Defaults to the deployed program.
	ProgramID types.Pubkey `yaml:"-"`
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Addr:               "127.0.0.1:8080",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		RecentTransactions: 20,
		ProgramID:          types.LeaderboardProgramID,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.Addr == "" {
		c.Addr = defaults.Addr
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.RecentTransactions <= 0 {
		c.RecentTransactions = defaults.RecentTransactions
	}
	if c.ProgramID.IsZero() {
		c.ProgramID = defaults.ProgramID
	}
	return c
}

// NodeStats provides node statistics to the dashboard.
// This interface abstracts the node's internal stats for dashboard consumption.
type NodeStats interface {
	// Slot returns the current bank slot.
	Slot() uint64

	// BankHash returns the hash of the last completed slot.
	BankHash() types.Hash

	// IsRunning returns true if the node is running.
	IsRunning() bool

	// Uptime returns how long the node has been running.
	Uptime() time.Duration

	// Plugins returns delivery counters per geyser plugin.
	Plugins() []geyser.PluginStats

	// LastError returns the last error encountered, if any.
	LastError() error
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config    Config
	server    *http.Server
	ledger    blockstore.Store
	accounts  accounts.DB
	nodeStats NodeStats

	// Cached templates
	templates *template.Template

	// State
	mu        sync.Mutex
	running   bool
	startTime time.Time
}

// New creates a new dashboard server. stats may be nil, in which case the
// dashboard reports what it can read from storage.
func New(config Config, ledger blockstore.Store, accts accounts.DB, stats NodeStats) (*Dashboard, error) {
	d := &Dashboard{
		config:    config.WithDefaults(),
		ledger:    ledger,
		accounts:  accts,
		nodeStats: stats,
		startTime: time.Now(),
	}

	tmpl, err := d.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	d.templates = tmpl

	return d, nil
}

// parseTemplates parses all embedded templates.
func (d *Dashboard) parseTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatBytes":    formatBytes,
		"formatSOL":      formatSOL,
		"formatTime":     formatTime,
		"truncateHash":   truncateHash,
		"balanceChange":  balanceChange,
		"add":            func(a, b int) int { return a + b },
	}

	tmpl := template.New("").Funcs(funcMap)

	if _, err := tmpl.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	templates := map[string]string{
		"home":         homeTemplate,
		"leaderboards": leaderboardsTemplate,
		"leaderboard":  leaderboardDetailTemplate,
		"account":      accountDetailTemplate,
		"transaction":  transactionTemplate,
	}
	for name, content := range templates {
		if _, err := tmpl.New(name).Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}

	return tmpl, nil
}

// Handler returns the dashboard routes.
func (d *Dashboard) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/static/{name}", d.handleStatic)

	// Pages
	r.Get("/", d.handleHome)
	r.Get("/leaderboards", d.handleLeaderboards)
	r.Get("/leaderboards/{owner}", d.handleLeaderboard)
	r.Get("/accounts", d.handleAccountSearch)
	r.Get("/accounts/{pubkey}", d.handleAccountDetail)
	r.Get("/transactions/{signature}", d.handleTransaction)

	// API
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", d.handleAPIStatus)
		r.Get("/leaderboards", d.handleAPILeaderboards)
		r.Get("/leaderboards/{owner}", d.handleAPILeaderboard)
		r.Get("/accounts/{pubkey}", d.handleAPIAccount)
		r.Get("/transactions/{signature}", d.handleAPITransaction)
		r.Get("/metrics", d.handleAPIMetrics)
	})

	return r
}

// Serve serves the dashboard on lis until ctx is done or Stop is called.
func (d *Dashboard) Serve(ctx context.Context, lis net.Listener) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		lis.Close()
		return ErrAlreadyRunning
	}
	d.running = true
	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	server := d.server
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the dashboard server.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	server := d.server
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// handleHome renders the overview page.
func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	d.renderPage(w, "home", d.getStatus())
}

// handleLeaderboards renders every leaderboard on the node.
func (d *Dashboard) handleLeaderboards(w http.ResponseWriter, r *http.Request) {
	// The search form submits ?owner=
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		http.Redirect(w, r, "/leaderboards/"+owner, http.StatusFound)
		return
	}

	boards, err := d.listLeaderboards()
	data := map[string]interface{}{"Boards": boards}
	if err != nil {
		data["Error"] = err.Error()
	}
	d.renderPage(w, "leaderboards", data)
}

// handleLeaderboard renders one game owner's ranking and recent history.
func (d *Dashboard) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ownerStr := chi.URLParam(r, "owner")
	owner, err := types.PubkeyFromBase58(ownerStr)
	if err != nil {
		d.renderPage(w, "leaderboard", map[string]interface{}{
			"Error": fmt.Sprintf("Invalid owner: %v", err),
			"Owner": ownerStr,
		})
		return
	}

	view, err := d.loadLeaderboard(owner)
	if err != nil {
		d.renderPage(w, "leaderboard", map[string]interface{}{
			"Error": err.Error(),
			"Owner": ownerStr,
		})
		return
	}

	history, _ := d.recentTransactions(view.Address)
	d.renderPage(w, "leaderboard", map[string]interface{}{
		"Board":   view,
		"History": history,
	})
}

// handleAccountSearch redirects the search form to the account page.
func (d *Dashboard) handleAccountSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/accounts/"+query, http.StatusFound)
}

// handleAccountDetail renders account details.
func (d *Dashboard) handleAccountDetail(w http.ResponseWriter, r *http.Request) {
	pubkeyStr := chi.URLParam(r, "pubkey")
	pubkey, err := types.PubkeyFromBase58(pubkeyStr)
	if err != nil {
		d.renderPage(w, "account", map[string]interface{}{
			"Error":  fmt.Sprintf("Invalid public key: %v", err),
			"Pubkey": pubkeyStr,
		})
		return
	}

	account, err := d.accounts.GetAccount(pubkey)
	if err != nil {
		d.renderPage(w, "account", map[string]interface{}{
			"Error":  fmt.Sprintf("Account not found: %v", err),
			"Pubkey": pubkeyStr,
		})
		return
	}

	data := map[string]interface{}{
		"Account": account,
		"Pubkey":  pubkey.String(),
	}
	if account.Owner == d.config.ProgramID && leaderboard.IsLeaderboardAccount(account.Data) {
		if lb, err := leaderboard.Decode(account.Data); err == nil {
			data["BoardOwner"] = lb.Owner.String()
		}
	}
	history, _ := d.recentTransactions(pubkey)
	data["History"] = history

	d.renderPage(w, "account", data)
}

// handleTransaction renders transaction details.
func (d *Dashboard) handleTransaction(w http.ResponseWriter, r *http.Request) {
	sigStr := chi.URLParam(r, "signature")
	sig, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		d.renderPage(w, "transaction", map[string]interface{}{
			"Error":     fmt.Sprintf("Invalid signature: %v", err),
			"Signature": sigStr,
		})
		return
	}

	rec, err := d.ledger.GetTransaction(sig)
	if err != nil {
		d.renderPage(w, "transaction", map[string]interface{}{
			"Error":     fmt.Sprintf("Transaction not found: %v", err),
			"Signature": sigStr,
		})
		return
	}

	d.renderPage(w, "transaction", map[string]interface{}{
		"Transaction": rec,
		"Signature":   sigStr,
	})
}

// handleStatic serves embedded static assets.
func (d *Dashboard) handleStatic(w http.ResponseWriter, r *http.Request) {
	content, contentType, ok := getStaticAsset(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(content))
}

// Status is the node overview shown on the home page and /api/status.
type Status struct {
	Slot          uint64               `json:"slot"`
	BankHash      string               `json:"bankHash"`
	IsRunning     bool                 `json:"isRunning"`
	Uptime        time.Duration        `json:"-"`
	UptimeString  string               `json:"uptime"`
	AccountsCount uint64               `json:"accountsCount"`
	Leaderboards  int                  `json:"leaderboards"`
	Ledger        *blockstore.Stats    `json:"ledger,omitempty"`
	Plugins       []geyser.PluginStats `json:"plugins"`
	LastError     string               `json:"lastError,omitempty"`
}

// getStatus collects the current node status.
func (d *Dashboard) getStatus() *Status {
	status := &Status{Plugins: []geyser.PluginStats{}}

	if d.nodeStats != nil {
		status.Slot = d.nodeStats.Slot()
		status.BankHash = d.nodeStats.BankHash().String()
		status.IsRunning = d.nodeStats.IsRunning()
		status.Uptime = d.nodeStats.Uptime()
		if plugins := d.nodeStats.Plugins(); plugins != nil {
			status.Plugins = plugins
		}
		if err := d.nodeStats.LastError(); err != nil {
			status.LastError = err.Error()
		}
	} else {
		// Fallback to storage
		status.Slot = d.accounts.GetSlot()
		status.Uptime = time.Since(d.startTime)
	}
	status.UptimeString = formatDuration(status.Uptime)

	status.AccountsCount, _ = d.accounts.AccountsCount()
	if stats, err := d.ledger.GetStats(); err == nil {
		status.Ledger = stats
	}
	if boards, err := d.listLeaderboards(); err == nil {
		status.Leaderboards = len(boards)
	}

	return status
}

// BoardSummary is one row of the leaderboards list.
type BoardSummary struct {
	Address   string `json:"address"`
	Owner     string `json:"owner"`
	Players   int    `json:"players"`
	Unpaid    int    `json:"unpaid"`
	TopPlayer string `json:"topPlayer,omitempty"`
	TopScore  uint64 `json:"topScore"`
	Lamports  uint64 `json:"lamports"`
}

// BoardView is a decoded leaderboard.
type BoardView struct {
	Address  types.Pubkey         `json:"address"`
	Owner    types.Pubkey         `json:"owner"`
	Lamports uint64               `json:"lamports"`
	Ranking  []leaderboard.Player `json:"ranking"`
}

// listLeaderboards scans the accounts owned by the leaderboard program.
func (d *Dashboard) listLeaderboards() ([]BoardSummary, error) {
	boards := []BoardSummary{}
	var decodeErr error

	err := d.accounts.IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) bool {
		if account.Owner != d.config.ProgramID || !leaderboard.IsLeaderboardAccount(account.Data) {
			return true
		}
		lb, err := leaderboard.Decode(account.Data)
		if err != nil {
			decodeErr = fmt.Errorf("decode %s: %w", pubkey, err)
			return true
		}

		summary := BoardSummary{
			Address:  pubkey.String(),
			Owner:    lb.Owner.String(),
			Players:  len(lb.Players),
			Lamports: account.Lamports,
		}
		for _, p := range lb.Players {
			if !p.HasPaid {
				summary.Unpaid++
			}
		}
		if ranking := lb.Ranking(); len(ranking) > 0 {
			summary.TopPlayer = ranking[0].Username
			summary.TopScore = ranking[0].Score
		}
		boards = append(boards, summary)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(boards, func(i, j int) bool {
		if boards[i].TopScore != boards[j].TopScore {
			return boards[i].TopScore > boards[j].TopScore
		}
		return boards[i].Address < boards[j].Address
	})
	return boards, decodeErr
}

// loadLeaderboard decodes a game owner's leaderboard.
func (d *Dashboard) loadLeaderboard(owner types.Pubkey) (*BoardView, error) {
	address, _, err := leaderboard.FindLeaderboardAddress(owner, d.config.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}

	account, err := d.accounts.GetAccount(address)
	if errors.Is(err, accounts.ErrAccountNotFound) || (err == nil && account.Owner != d.config.ProgramID) {
		return nil, fmt.Errorf("no leaderboard for %s", owner)
	}
	if err != nil {
		return nil, err
	}

	lb, err := leaderboard.Decode(account.Data)
	if err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	return &BoardView{
		Address:  address,
		Owner:    lb.Owner,
		Lamports: account.Lamports,
		Ranking:  lb.Ranking(),
	}, nil
}

// recentTransactions returns the newest ledger entries touching address.
func (d *Dashboard) recentTransactions(address types.Pubkey) ([]blockstore.SignatureInfo, error) {
	return d.ledger.GetSignaturesForAddress(address, &blockstore.SignatureQueryOptions{
		Limit: d.config.RecentTransactions,
	})
}

// renderPage renders a page template with the given data.
func (d *Dashboard) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	// First render the content template into a buffer
	var contentBuf strings.Builder
	if err := d.templates.ExecuteTemplate(&contentBuf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	// Then render the layout with the content
	pageData := map[string]interface{}{
		"PageName": name,
		"Content":  template.HTML(contentBuf.String()),
	}

	if err := d.templates.ExecuteTemplate(w, "layout", pageData); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatNumber(n interface{}) string {
	switch v := n.(type) {
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	case uint64:
		return formatInt(int64(v))
	case float64:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func formatInt(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatSOL renders lamports as SOL with nine decimals.
func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/1_000_000_000, lamports%1_000_000_000)
}

func formatTime(unix int64) string {
	if unix == 0 {
		return "N/A"
	}
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

func truncateHash(s string, n int) string {
	if len(s) <= n*2+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}

// balanceChange renders post-pre as a signed lamport amount.
func balanceChange(pre, post uint64) string {
	if post >= pre {
		return fmt.Sprintf("+%d", post-pre)
	}
	return fmt.Sprintf("-%d", pre-post)
}

// getMemStats returns current memory statistics.
func getMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
