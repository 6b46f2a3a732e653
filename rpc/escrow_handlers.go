package rpc

import (
	"context"

	"engagement/native/escrow"
	"engagement/state/index"
)

func (s *Server) routes() map[string]methodHandler {
	return map[string]methodHandler{
		"escrow_initialize":       {"escrow", s.handleEscrowInitialize},
		"escrow_fund":             {"escrow", s.handleEscrowFund},
		"escrow_distribute":       {"escrow", s.handleEscrowDistribute},
		"escrow_changeProperties": {"escrow", s.handleEscrowChangeProperties},
		"escrow_get":              {"escrow", s.handleEscrowGet},
		"escrow_list":             {"escrow", s.handleEscrowList},
		"escrow_vault":            {"escrow", s.handleEscrowVault},
		"milestone_changeStatus":  {"milestone", s.handleMilestoneChangeStatus},
		"milestone_changeFlag":    {"milestone", s.handleMilestoneChangeFlag},
		"dispute_flag":            {"dispute", s.handleDisputeFlag},
		"dispute_resolve":         {"dispute", s.handleDisputeResolve},
		"token_balance":           {"token", s.handleTokenBalance},
		"token_allowance":         {"token", s.handleTokenAllowance},
		"token_approve":           {"token", s.handleTokenApprove},
		"user_register":           {"users", s.handleUserRegister},
		"user_login":              {"users", s.handleUserLogin},
	}
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowFundParams struct {
	ID     string `json:"id"`
	Signer string `json:"signer"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type escrowDistributeParams struct {
	ID            string `json:"id"`
	ReleaseSigner string `json:"releaseSigner"`
	Asset         string `json:"asset"`
	FeeRecipient  string `json:"feeRecipient"`
}

type escrowListParams struct {
	Party  string `json:"party"`
	Role   string `json:"role,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

type escrowInitializeResult struct {
	ID    string `json:"id"`
	Vault string `json:"vault"`
}

type okResult struct {
	OK bool `json:"ok"`
}

type escrowListEntry struct {
	EngagementID string `json:"engagementId"`
	Role         string `json:"role"`
	Amount       string `json:"amount"`
	PlatformFee  uint32 `json:"platformFeeBps"`
	DisputeFlag  bool   `json:"disputeFlag"`
	Distributed  bool   `json:"distributed"`
	Sequence     uint64 `json:"sequence"`
}

type escrowListResult struct {
	Party   string            `json:"party"`
	Escrows []escrowListEntry `json:"escrows"`
}

type escrowVaultResult struct {
	ID      string `json:"id"`
	Vault   string `json:"vault"`
	Balance string `json:"balance,omitempty"`
}

type escrowVaultParams struct {
	ID    string `json:"id"`
	Asset string `json:"asset,omitempty"`
}

func (s *Server) handleEscrowInitialize(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowParamsJSON
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := params.toParams()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.consumeCreateQuota(ctx, "escrow"); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := s.deps.Escrow.InitializeEscrow(ctx, p)
	if err != nil {
		return nil, s.escrowError(err)
	}
	vault, err := s.deps.Escrow.VaultAddress(id)
	if err != nil {
		return nil, s.escrowError(err)
	}
	return escrowInitializeResult{ID: id, Vault: formatAddress(vault)}, nil
}

func (s *Server) handleEscrowFund(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowFundParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	signer, rpcErr := parseAddress("signer", params.Signer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Escrow.FundEscrow(ctx, id, signer, asset, amount); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleEscrowDistribute(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowDistributeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	signer, rpcErr := parseAddress("releaseSigner", params.ReleaseSigner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress("feeRecipient", params.FeeRecipient)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Escrow.DistributeEscrowEarnings(ctx, id, signer, asset, recipient); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleEscrowChangeProperties(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowParamsJSON
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := params.toParams()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Escrow.ChangeEscrowProperties(ctx, p); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleEscrowGet(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.deps.Escrow.GetEscrowByID(ctx, id)
	if err != nil {
		return nil, s.escrowError(err)
	}
	var vaultPtr *[20]byte
	if vault, err := s.deps.Escrow.VaultAddress(id); err == nil {
		vaultPtr = &vault
	}
	return formatEscrowJSON(esc, vaultPtr), nil
}

func (s *Server) handleEscrowList(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.deps.Index == nil {
		return nil, s.escrowError(errNoIndex)
	}
	var params escrowListParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	party, rpcErr := parseAddress("party", params.Party)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Limit < 0 || params.Offset < 0 {
		return nil, invalidParams("limit and offset must be non-negative")
	}
	rows, err := s.deps.Index.List(ctx, formatAddress(party), params.Role, params.Limit, params.Offset)
	if err != nil {
		return nil, s.escrowError(err)
	}
	result := escrowListResult{Party: formatAddress(party), Escrows: make([]escrowListEntry, 0, len(rows))}
	for _, row := range rows {
		result.Escrows = append(result.Escrows, listEntry(row))
	}
	return result, nil
}

func listEntry(row index.Entry) escrowListEntry {
	return escrowListEntry{
		EngagementID: row.EngagementID,
		Role:         row.Role,
		Amount:       row.Amount,
		PlatformFee:  row.PlatformFee,
		DisputeFlag:  row.DisputeFlag,
		Distributed:  row.Distributed,
		Sequence:     row.Sequence,
	}
}

func (s *Server) handleEscrowVault(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowVaultParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	vault, err := s.deps.Escrow.VaultAddress(id)
	if err != nil {
		return nil, s.escrowError(err)
	}
	result := escrowVaultResult{ID: id, Vault: formatAddress(vault)}
	if params.Asset != "" {
		asset, rpcErr := parseAddress("asset", params.Asset)
		if rpcErr != nil {
			return nil, rpcErr
		}
		balance, err := s.deps.Escrow.VaultBalance(ctx, id, asset)
		if err != nil {
			return nil, s.escrowError(err)
		}
		result.Balance = balance.String()
	}
	return result, nil
}

var _ EscrowService = (*escrow.Engine)(nil)
