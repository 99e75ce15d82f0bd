package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"bazaarchain/crypto"
	"bazaarchain/observability/metrics"
)

func parseAddress(raw string) ([20]byte, *rpcError) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, &rpcError{Code: codeInvalidParams, Message: "invalid address: " + err.Error()}
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseAmount(raw string) (*big.Int, *rpcError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid amount: " + raw}
	}
	return amount, nil
}

// parseOptionalAmount decodes an amount field whose absence means "keep the
// stored value". An omitted or empty string decodes to nil.
func parseOptionalAmount(raw string) (*big.Int, *rpcError) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}

func engineError(err error) *rpcError {
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

type mintRequestParams struct {
	Requester string `json:"requester"`
	Amount    uint32 `json:"amount"`
	Payment   string `json:"payment"`
}

func (s *Server) handleMintRequest(params []json.RawMessage) (interface{}, *rpcError) {
	var p mintRequestParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	requester, rpcErr := parseAddress(p.Requester)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payment, rpcErr := parseAmount(p.Payment)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.mint.RequestMint(requester, p.Amount, payment); err != nil {
		return nil, engineError(err)
	}
	metrics.Mint().Observe(s.mint.QueueLen(), s.mint.PoolLen())
	return map[string]interface{}{
		"queued":     p.Amount,
		"queueDepth": s.mint.QueueLen(),
	}, nil
}

type mintResolveParams struct {
	Caller string `json:"caller"`
	Seed   string `json:"seed"`
}

func (s *Server) handleMintResolveBatch(params []json.RawMessage) (interface{}, *rpcError) {
	var p mintResolveParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(p.Seed), "0x"))
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "seed must be hex"}
	}
	processed, remaining, err := s.mint.ResolveBatch(caller, seed)
	if err != nil {
		return nil, engineError(err)
	}
	metrics.Mint().Observe(s.mint.QueueLen(), s.mint.PoolLen())
	return map[string]interface{}{
		"processed": processed,
		"remaining": remaining,
	}, nil
}

func (s *Server) handleMintStatus() (interface{}, *rpcError) {
	cfg := s.mint.Config()
	return map[string]interface{}{
		"queueDepth":    s.mint.QueueLen(),
		"poolSize":      s.mint.PoolLen(),
		"maxSupply":     cfg.MaxSupply,
		"batchCeiling":  cfg.BatchCeiling,
		"configVersion": cfg.Version,
	}, nil
}

type eventsLatestParams struct {
	Limit int `json:"limit"`
}

func (s *Server) handleEventsLatest(params []json.RawMessage) (interface{}, *rpcError) {
	limit := 0
	if len(params) == 1 {
		var p eventsLatestParams
		if rpcErr := decodeParams(params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		limit = p.Limit
	}
	if s.feed == nil {
		return []interface{}{}, nil
	}
	return s.feed.Latest(limit), nil
}
