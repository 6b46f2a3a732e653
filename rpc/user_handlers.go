package rpc

import "context"

type userRegisterParams struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

type userLoginParams struct {
	Address string `json:"address"`
}

type userRegisterResult struct {
	Registered bool `json:"registered"`
}

type userLoginResult struct {
	Name string `json:"name"`
}

func (s *Server) handleUserRegister(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.deps.Users == nil {
		return nil, s.escrowError(errNoUsers)
	}
	var params userRegisterParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	address, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.consumeCreateQuota(ctx, "users"); rpcErr != nil {
		return nil, rpcErr
	}
	created, err := s.deps.Users.Register(ctx, address, params.Name, params.Email)
	if err != nil {
		return nil, s.escrowError(err)
	}
	return userRegisterResult{Registered: created}, nil
}

func (s *Server) handleUserLogin(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.deps.Users == nil {
		return nil, s.escrowError(errNoUsers)
	}
	var params userLoginParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	address, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	name, err := s.deps.Users.Login(ctx, address)
	if err != nil {
		return nil, s.escrowError(err)
	}
	return userLoginResult{Name: name}, nil
}
