package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bazaarchain/core/events"
	"bazaarchain/core/state"
	"bazaarchain/native/market"
	"bazaarchain/native/mint"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxPerWindow    = 120
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// AuthTokenEnv names the environment variable carrying the bearer token that
// gates mutating methods.
const AuthTokenEnv = "BAZAAR_RPC_TOKEN"

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the mint and market engines over JSON-RPC 2.0. Mutating
// methods are serialised behind a single mutex so every engine operation runs
// as one atomic unit, matching the engines' execution model.
type Server struct {
	mint   *mint.Engine
	market *market.Engine
	state  *state.Manager
	feed   *events.Ring
	logger *slog.Logger

	mu           sync.Mutex
	rlMu         sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
}

// NewServer wires a JSON-RPC server over the supplied engines. The auth
// token is read from BAZAAR_RPC_TOKEN; when empty, mutating methods are open
// (dev nodes only).
func NewServer(mintEngine *mint.Engine, marketEngine *market.Engine, manager *state.Manager, feed *events.Ring, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mint:         mintEngine,
		market:       marketEngine,
		state:        manager,
		feed:         feed,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    strings.TrimSpace(os.Getenv(AuthTokenEnv)),
	}
}

// Handler returns the http.Handler serving the JSON-RPC endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	correlation := uuid.NewString()
	logger := s.logger.With(slog.String("requestId", correlation))

	if r.Method != http.MethodPost {
		writeError(w, nil, codeInvalidRequest, "POST required")
		return
	}
	source := sourceAddr(r)
	if !s.allow(source) {
		writeError(w, nil, codeRateLimited, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil || len(body) > maxRequestBytes {
		writeError(w, nil, codeInvalidRequest, "request too large")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, codeParseError, "malformed JSON-RPC request")
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		writeError(w, req.ID, codeInvalidRequest, "invalid JSON-RPC envelope")
		return
	}

	if s.isMutating(req.Method) && !s.authorized(r) {
		writeError(w, req.ID, codeUnauthorized, "missing or invalid auth token")
		return
	}

	started := time.Now()
	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		logger.Info("rpc request failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.Duration("elapsed", time.Since(started)))
		writeErrorObj(w, req.ID, rpcErr)
		return
	}
	logger.Info("rpc request served",
		slog.String("method", req.Method),
		slog.Duration("elapsed", time.Since(started)))
	writeResult(w, req.ID, result)
}

func (s *Server) isMutating(method string) bool {
	switch method {
	case "mint_requestMint", "mint_resolveBatch",
		"market_createListing", "market_updateListing", "market_removeListing",
		"market_buy", "market_makeOffer", "market_acceptOffer",
		"market_cancelOffer", "market_placeBid", "market_closeAuction":
		return true
	default:
		return false
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) == 1
}

func (s *Server) allow(source string) bool {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()
	now := time.Now()
	rl, ok := s.rateLimiters[source]
	if !ok || now.Sub(rl.windowStart) >= rateLimitWindow {
		s.rateLimiters[source] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if rl.count >= maxPerWindow {
		return false
	}
	rl.count++
	return true
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) dispatch(req *rpcRequest) (interface{}, *rpcError) {
	// Engine entry points share one lock: operations never interleave.
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Method {
	case "mint_requestMint":
		return s.handleMintRequest(req.Params)
	case "mint_resolveBatch":
		return s.handleMintResolveBatch(req.Params)
	case "mint_status":
		return s.handleMintStatus()
	case "market_createListing":
		return s.handleCreateListing(req.Params)
	case "market_updateListing":
		return s.handleUpdateListing(req.Params)
	case "market_removeListing":
		return s.handleRemoveListing(req.Params)
	case "market_buy":
		return s.handleBuy(req.Params)
	case "market_makeOffer":
		return s.handleMakeOffer(req.Params)
	case "market_acceptOffer":
		return s.handleAcceptOffer(req.Params)
	case "market_cancelOffer":
		return s.handleCancelOffer(req.Params)
	case "market_placeBid":
		return s.handlePlaceBid(req.Params)
	case "market_closeAuction":
		return s.handleCloseAuction(req.Params)
	case "market_getListing":
		return s.handleGetListing(req.Params)
	case "market_listings":
		return s.handleListings()
	case "events_latest":
		return s.handleEventsLatest(req.Params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}
	}
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeErrorObj(w, id, &rpcError{Code: code, Message: message})
}

func writeErrorObj(w http.ResponseWriter, id interface{}, rpcErr *rpcError) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func decodeParams(params []json.RawMessage, out interface{}) *rpcError {
	if len(params) != 1 {
		return &rpcError{Code: codeInvalidParams, Message: "expected a single params object"}
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}
