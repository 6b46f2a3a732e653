package rpc

import (
	"errors"
	"net/http"

	"engagement/auth"
	"engagement/native/common"
	"engagement/native/escrow"
	"engagement/native/users"
	"engagement/state/index"
)

const (
	codeEscrowInvalidParams     = -32021
	codeEscrowNotFound          = -32022
	codeEscrowForbidden         = -32023
	codeEscrowConflict          = -32024
	codeEscrowInternal          = -32025
	codeEscrowInsufficientFunds = -32026
)

// errorData is attached to every domain error response.
type errorData struct {
	Code   uint32 `json:"code,omitempty"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

type errorClass struct {
	status  int
	code    int
	message string
}

var (
	classInvalidParams = errorClass{http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"}
	classNotFound      = errorClass{http.StatusNotFound, codeEscrowNotFound, "not_found"}
	classForbidden     = errorClass{http.StatusForbidden, codeEscrowForbidden, "forbidden"}
	classConflict      = errorClass{http.StatusConflict, codeEscrowConflict, "conflict"}
	classInternal      = errorClass{http.StatusInternalServerError, codeEscrowInternal, "internal_error"}
	classInsufficient  = errorClass{http.StatusUnprocessableEntity, codeEscrowInsufficientFunds, "insufficient_funds"}
)

var escrowClasses = map[escrow.Code]errorClass{
	escrow.CodeAmountCannotBeZero:                        classInvalidParams,
	escrow.CodeAmountToDepositGreatherThanEscrowAmount:   classInvalidParams,
	escrow.CodeNoMileStoneDefined:                        classInvalidParams,
	escrow.CodeInvalidMileStoneIndex:                     classInvalidParams,
	escrow.CodeInvalidFeeConfiguration:                   classInvalidParams,
	escrow.CodeInvalidAmount:                             classInvalidParams,
	escrow.CodeInvalidPlatformFee:                        classInvalidParams,
	escrow.CodeInvalidEngagementID:                       classInvalidParams,
	escrow.CodeInvalidMilestone:                          classInvalidParams,
	escrow.CodeEscrowNotFound:                            classNotFound,
	escrow.CodeEscrowNotInitialized:                      classNotFound,
	escrow.CodeOnlySignerCanFundEscrow:                   classForbidden,
	escrow.CodeOnlySignerCanCompleteEscrow:               classForbidden,
	escrow.CodeOnlyServiceProviderCanCancelEscrow:        classForbidden,
	escrow.CodeOnlySignerCanRequestRefund:                classForbidden,
	escrow.CodeOnlyServiceProviderCanClaimEarnings:       classForbidden,
	escrow.CodeOnlyPlatformAddressExecuteThisFunction:    classForbidden,
	escrow.CodeOnlyReleaseSignerCanClaimEarnings:         classForbidden,
	escrow.CodeOnlyServiceProviderChangeMilstoneStatus:   classForbidden,
	escrow.CodeOnlyClientChangeMilstoneFlag:              classForbidden,
	escrow.CodeOnlyDisputeResolverCanExecuteThisFunction: classForbidden,
	escrow.CodeUnauthorized:                              classForbidden,
	escrow.CodeSignerInsufficientFunds:                   classInsufficient,
	escrow.CodeNotEnoughAllowance:                        classInsufficient,
	escrow.CodeSignerInsufficientFundsToComplete:         classInsufficient,
	escrow.CodeContractHasInsufficientBalance:            classInsufficient,
	escrow.CodeEscrowBalanceNotSufficienteToSendEarnings: classInsufficient,
	escrow.CodeContractInsufficientFunds:                 classInsufficient,
	escrow.CodeInsufficientFundsForResolution:            classInsufficient,
	escrow.CodeTransferFailed:                            classInternal,
}

// escrowError maps a manager error onto the JSON-RPC error space. Codes not
// listed above are state conflicts.
func (s *Server) escrowError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if code, ok := escrow.CodeOf(err); ok {
		class, known := escrowClasses[code]
		if !known {
			class = classConflict
		}
		if code == escrow.CodeUnauthorized && errors.Is(err, auth.ErrUnauthenticated) {
			class.status = http.StatusUnauthorized
		}
		if class == classInternal {
			s.logger.Error("escrow call failed", "code", code.String(), "error", err)
		}
		return &RPCError{
			HTTPStatus: class.status,
			Code:       class.code,
			Message:    class.message,
			Data:       errorData{Code: uint32(code), Name: code.String(), Detail: err.Error()},
		}
	}
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return domainError(classForbidden, http.StatusUnauthorized, "Unauthorized", err)
	case errors.Is(err, users.ErrUnauthorized), errors.Is(err, auth.ErrIdentityMismatch):
		return domainError(classForbidden, 0, "Unauthorized", err)
	case errors.Is(err, users.ErrInvalidName):
		return domainError(classInvalidParams, 0, "InvalidName", err)
	case errors.Is(err, users.ErrInvalidEmail):
		return domainError(classInvalidParams, 0, "InvalidEmail", err)
	case errors.Is(err, index.ErrUnknownRole):
		return domainError(classInvalidParams, 0, "UnknownRole", err)
	case errors.Is(err, common.ErrModulePaused):
		return domainError(classConflict, 0, "ModulePaused", err)
	}
	s.logger.Error("rpc call failed", "error", err)
	return &RPCError{
		HTTPStatus: classInternal.status,
		Code:       classInternal.code,
		Message:    classInternal.message,
		Data:       errorData{Name: "Internal"},
	}
}

func domainError(class errorClass, status int, name string, err error) *RPCError {
	if status == 0 {
		status = class.status
	}
	return &RPCError{
		HTTPStatus: status,
		Code:       class.code,
		Message:    class.message,
		Data:       errorData{Name: name, Detail: err.Error()},
	}
}

func invalidParams(detail string) *RPCError {
	return &RPCError{
		HTTPStatus: http.StatusBadRequest,
		Code:       codeEscrowInvalidParams,
		Message:    classInvalidParams.message,
		Data:       errorData{Name: "InvalidParams", Detail: detail},
	}
}

// errorName is the metric and audit label of a failed call.
func errorName(e *RPCError) string {
	if data, ok := e.Data.(errorData); ok && data.Name != "" {
		return data.Name
	}
	return e.Message
}
