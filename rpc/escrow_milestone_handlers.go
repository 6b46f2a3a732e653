package rpc

import "context"

type milestoneStatusParams struct {
	ID              string `json:"id"`
	Index           *int   `json:"index"`
	Status          string `json:"status"`
	ServiceProvider string `json:"serviceProvider"`
}

type milestoneFlagParams struct {
	ID     string `json:"id"`
	Index  *int   `json:"index"`
	Flag   bool   `json:"flag"`
	Client string `json:"client"`
}

type disputeFlagParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type disputeResolveParams struct {
	ID                   string `json:"id"`
	Resolver             string `json:"resolver"`
	Asset                string `json:"asset"`
	ClientFunds          string `json:"clientFunds"`
	ServiceProviderFunds string `json:"serviceProviderFunds"`
}

func (s *Server) handleMilestoneChangeStatus(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params milestoneStatusParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Index == nil {
		return nil, invalidParams("index required")
	}
	provider, rpcErr := parseAddress("serviceProvider", params.ServiceProvider)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Escrow.ChangeMilestoneStatus(ctx, id, *params.Index, params.Status, provider); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleMilestoneChangeFlag(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params milestoneFlagParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Index == nil {
		return nil, invalidParams("index required")
	}
	client, rpcErr := parseAddress("client", params.Client)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Escrow.ChangeMilestoneFlag(ctx, id, *params.Index, params.Flag, client); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleDisputeFlag(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params disputeFlagParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Escrow.ChangeDisputeFlag(ctx, id, caller); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleDisputeResolve(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params disputeResolveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireID(params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	resolver, rpcErr := parseAddress("resolver", params.Resolver)
	if rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	clientFunds, rpcErr := parseAmount("clientFunds", params.ClientFunds)
	if rpcErr != nil {
		return nil, rpcErr
	}
	providerFunds, rpcErr := parseAmount("serviceProviderFunds", params.ServiceProviderFunds)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Escrow.ResolvingDisputes(ctx, id, resolver, asset, clientFunds, providerFunds); err != nil {
		return nil, s.escrowError(err)
	}
	return okResult{OK: true}, nil
}
