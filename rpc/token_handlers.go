package rpc

import (
	"context"
	"time"

	"github.com/google/uuid"

	"engagement/core/events"
	"engagement/core/types"
)

// EventTypeTokenBalance is published for every balance passthrough query.
const EventTypeTokenBalance = "token.balance"

type tokenBalanceParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

type tokenAllowanceParams struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type tokenApproveParams struct {
	Asset            string `json:"asset"`
	Owner            string `json:"owner"`
	Spender          string `json:"spender"`
	Amount           string `json:"amount"`
	ExpirationLedger uint64 `json:"expirationLedger"`
}

type tokenAmountResult struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleTokenBalance(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.deps.Tokens == nil {
		return nil, s.escrowError(errNoTokens)
	}
	var params tokenBalanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.deps.Tokens.Balance(ctx, asset, owner)
	if err != nil {
		return nil, s.escrowError(err)
	}
	now, seq := time.Now().Unix(), uint64(0)
	if s.deps.Clock != nil {
		now, seq = s.deps.Clock.Now(), s.deps.Clock.Next()
	}
	s.deps.Emitter.Emit(events.Wrap(&types.Event{
		ID:        uuid.NewString(),
		Type:      EventTypeTokenBalance,
		Sequence:  seq,
		Timestamp: now,
		Attributes: map[string]string{
			"asset":   formatAddress(asset),
			"address": formatAddress(owner),
			"balance": balance.String(),
		},
	}))
	return tokenAmountResult{Asset: formatAddress(asset), Amount: balance.String()}, nil
}

func (s *Server) handleTokenAllowance(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.deps.Tokens == nil {
		return nil, s.escrowError(errNoTokens)
	}
	var params tokenAllowanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender, rpcErr := parseAddress("spender", params.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.deps.Tokens.Allowance(ctx, asset, owner, spender)
	if err != nil {
		return nil, s.escrowError(err)
	}
	return tokenAmountResult{Asset: formatAddress(asset), Amount: amount.String()}, nil
}

// handleTokenApprove requires the owner to be the authenticated principal;
// the ledger itself performs no authorization.
func (s *Server) handleTokenApprove(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.deps.Tokens == nil {
		return nil, s.escrowError(errNoTokens)
	}
	var params tokenApproveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender, rpcErr := parseAddress("spender", params.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if amount.Sign() < 0 {
		return nil, invalidParams("amount must not be negative")
	}
	if err := s.authorizer.RequireAuth(ctx, owner); err != nil {
		return nil, s.escrowError(err)
	}
	if err := s.deps.Tokens.Approve(ctx, asset, owner, spender, amount, params.ExpirationLedger); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}
