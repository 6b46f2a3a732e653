package escrow

import (
	"errors"
	"fmt"
)

// Code is the stable numeric identifier of an escrow failure. Values are part
// of the public contract and must never be renumbered; new codes are appended.
type Code uint32

const (
	CodeEscrowNotFunded                           Code = 1
	CodeAmountCannotBeZero                        Code = 2
	CodeEscrowAlreadyInitialized                  Code = 3
	CodeOnlySignerCanFundEscrow                   Code = 4
	CodeEscrowAlreadyFunded                       Code = 5
	CodeEscrowFullyFunded                         Code = 6
	CodeSignerInsufficientFunds                   Code = 7
	CodeNotEnoughAllowance                        Code = 8
	CodeOnlySignerCanCompleteEscrow               Code = 9
	CodeEscrowAlreadyCompleted                    Code = 10
	CodeSignerInsufficientFundsToComplete         Code = 11
	CodeOnlyServiceProviderCanCancelEscrow        Code = 12
	CodeEscrowAlreadyCancelled                    Code = 13
	CodeOnlySignerCanRequestRefund                Code = 14
	CodeEscrowNotCancelled                        Code = 15
	CodeNoFundsToRefund                           Code = 16
	CodeContractHasInsufficientBalance            Code = 17
	CodeEscrowNotFound                            Code = 18
	CodeOnlyServiceProviderCanClaimEarnings       Code = 19
	CodeEscrowNotCompleted                        Code = 20
	CodeEscrowBalanceNotSufficienteToSendEarnings Code = 21
	CodeContractInsufficientFunds                 Code = 22
	CodeOnlyPlatformAddressExecuteThisFunction    Code = 23
	CodeEscrowOpenedForDisputeResolution          Code = 24
	CodeAmountToDepositGreatherThanEscrowAmount   Code = 25
	CodeOnlyReleaseSignerCanClaimEarnings         Code = 26
	CodeNoMileStoneDefined                        Code = 27
	CodeInvalidState                              Code = 28
	CodeEscrowNotInitialized                      Code = 29
	CodeOnlyServiceProviderChangeMilstoneStatus   Code = 30
	CodeInvalidMileStoneIndex                     Code = 31
	CodeOnlyClientChangeMilstoneFlag              Code = 32
	CodeOnlyDisputeResolverCanExecuteThisFunction Code = 33
	CodeEscrowNotInDispute                        Code = 34
	CodeInsufficientFundsForResolution            Code = 35
	CodeEscrowAlreadyInDispute                    Code = 36
	CodeUnauthorized                              Code = 37
	CodeInvalidFeeConfiguration                   Code = 38
	CodeInvalidAmount                             Code = 39
	CodeInvalidPlatformFee                        Code = 40
	CodeInvalidEngagementID                       Code = 41
	CodeInvalidMilestone                          Code = 42
	CodeModulePaused                              Code = 43
	CodeConcurrentUpdate                          Code = 44
	CodeTransferFailed                            Code = 45
)

var codeNames = map[Code]string{
	CodeEscrowNotFunded:                           "EscrowNotFunded",
	CodeAmountCannotBeZero:                        "AmountCannotBeZero",
	CodeEscrowAlreadyInitialized:                  "EscrowAlreadyInitialized",
	CodeOnlySignerCanFundEscrow:                   "OnlySignerCanFundEscrow",
	CodeEscrowAlreadyFunded:                       "EscrowAlreadyFunded",
	CodeEscrowFullyFunded:                         "EscrowFullyFunded",
	CodeSignerInsufficientFunds:                   "SignerInsufficientFunds",
	CodeNotEnoughAllowance:                        "NotEnoughAllowance",
	CodeOnlySignerCanCompleteEscrow:               "OnlySignerCanCompleteEscrow",
	CodeEscrowAlreadyCompleted:                    "EscrowAlreadyCompleted",
	CodeSignerInsufficientFundsToComplete:         "SignerInsufficientFundsToComplete",
	CodeOnlyServiceProviderCanCancelEscrow:        "OnlyServiceProviderCanCancelEscrow",
	CodeEscrowAlreadyCancelled:                    "EscrowAlreadyCancelled",
	CodeOnlySignerCanRequestRefund:                "OnlySignerCanRequestRefund",
	CodeEscrowNotCancelled:                        "EscrowNotCancelled",
	CodeNoFundsToRefund:                           "NoFundsToRefund",
	CodeContractHasInsufficientBalance:            "ContractHasInsufficientBalance",
	CodeEscrowNotFound:                            "EscrowNotFound",
	CodeOnlyServiceProviderCanClaimEarnings:       "OnlyServiceProviderCanClaimEarnings",
	CodeEscrowNotCompleted:                        "EscrowNotCompleted",
	CodeEscrowBalanceNotSufficienteToSendEarnings: "EscrowBalanceNotSufficienteToSendEarnings",
	CodeContractInsufficientFunds:                 "ContractInsufficientFunds",
	CodeOnlyPlatformAddressExecuteThisFunction:    "OnlyPlatformAddressExecuteThisFunction",
	CodeEscrowOpenedForDisputeResolution:          "EscrowOpenedForDisputeResolution",
	CodeAmountToDepositGreatherThanEscrowAmount:   "AmountToDepositGreatherThanEscrowAmount",
	CodeOnlyReleaseSignerCanClaimEarnings:         "OnlyReleaseSignerCanClaimEarnings",
	CodeNoMileStoneDefined:                        "NoMileStoneDefined",
	CodeInvalidState:                              "InvalidState",
	CodeEscrowNotInitialized:                      "EscrowNotInitialized",
	CodeOnlyServiceProviderChangeMilstoneStatus:   "OnlyServiceProviderChangeMilstoneStatus",
	CodeInvalidMileStoneIndex:                     "InvalidMileStoneIndex",
	CodeOnlyClientChangeMilstoneFlag:              "OnlyClientChangeMilstoneFlag",
	CodeOnlyDisputeResolverCanExecuteThisFunction: "OnlyDisputeResolverCanExecuteThisFunction",
	CodeEscrowNotInDispute:                        "EscrowNotInDispute",
	CodeInsufficientFundsForResolution:            "InsufficientFundsForResolution",
	CodeEscrowAlreadyInDispute:                    "EscrowAlreadyInDispute",
	CodeUnauthorized:                              "Unauthorized",
	CodeInvalidFeeConfiguration:                   "InvalidFeeConfiguration",
	CodeInvalidAmount:                             "InvalidAmount",
	CodeInvalidPlatformFee:                        "InvalidPlatformFee",
	CodeInvalidEngagementID:                       "InvalidEngagementID",
	CodeInvalidMilestone:                          "InvalidMilestone",
	CodeModulePaused:                              "ModulePaused",
	CodeConcurrentUpdate:                          "ConcurrentUpdate",
	CodeTransferFailed:                            "TransferFailed",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Codes returns every defined code in ascending order.
func Codes() []Code {
	out := make([]Code, 0, len(codeNames))
	for c := CodeEscrowNotFunded; c <= CodeTransferFailed; c++ {
		if _, ok := codeNames[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Error is the typed failure returned by every escrow operation. Two errors
// match under errors.Is when their codes are equal, so the exported sentinels
// can be compared against errors carrying extra detail.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "escrow: " + e.Code.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func wrapError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the escrow code carried by err. The boolean is false for
// infrastructure failures that carry no code.
func CodeOf(err error) (Code, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code, true
	}
	return 0, false
}

var (
	ErrEscrowNotFunded                           = &Error{Code: CodeEscrowNotFunded}
	ErrAmountCannotBeZero                        = &Error{Code: CodeAmountCannotBeZero}
	ErrEscrowAlreadyInitialized                  = &Error{Code: CodeEscrowAlreadyInitialized}
	ErrOnlySignerCanFundEscrow                   = &Error{Code: CodeOnlySignerCanFundEscrow}
	ErrEscrowFullyFunded                         = &Error{Code: CodeEscrowFullyFunded}
	ErrSignerInsufficientFunds                   = &Error{Code: CodeSignerInsufficientFunds}
	ErrNotEnoughAllowance                        = &Error{Code: CodeNotEnoughAllowance}
	ErrEscrowAlreadyCompleted                    = &Error{Code: CodeEscrowAlreadyCompleted}
	ErrEscrowNotFound                            = &Error{Code: CodeEscrowNotFound}
	ErrEscrowNotCompleted                        = &Error{Code: CodeEscrowNotCompleted}
	ErrEscrowBalanceNotSufficienteToSendEarnings = &Error{Code: CodeEscrowBalanceNotSufficienteToSendEarnings}
	ErrOnlyPlatformAddressExecuteThisFunction    = &Error{Code: CodeOnlyPlatformAddressExecuteThisFunction}
	ErrEscrowOpenedForDisputeResolution          = &Error{Code: CodeEscrowOpenedForDisputeResolution}
	ErrAmountToDepositGreatherThanEscrowAmount   = &Error{Code: CodeAmountToDepositGreatherThanEscrowAmount}
	ErrOnlyReleaseSignerCanClaimEarnings         = &Error{Code: CodeOnlyReleaseSignerCanClaimEarnings}
	ErrNoMileStoneDefined                        = &Error{Code: CodeNoMileStoneDefined}
	ErrInvalidState                              = &Error{Code: CodeInvalidState}
	ErrEscrowNotInitialized                      = &Error{Code: CodeEscrowNotInitialized}
	ErrOnlyServiceProviderChangeMilstoneStatus   = &Error{Code: CodeOnlyServiceProviderChangeMilstoneStatus}
	ErrInvalidMileStoneIndex                     = &Error{Code: CodeInvalidMileStoneIndex}
	ErrOnlyClientChangeMilstoneFlag              = &Error{Code: CodeOnlyClientChangeMilstoneFlag}
	ErrOnlyDisputeResolverCanExecuteThisFunction = &Error{Code: CodeOnlyDisputeResolverCanExecuteThisFunction}
	ErrEscrowNotInDispute                        = &Error{Code: CodeEscrowNotInDispute}
	ErrInsufficientFundsForResolution            = &Error{Code: CodeInsufficientFundsForResolution}
	ErrEscrowAlreadyInDispute                    = &Error{Code: CodeEscrowAlreadyInDispute}
	ErrUnauthorized                              = &Error{Code: CodeUnauthorized}
	ErrInvalidFeeConfiguration                   = &Error{Code: CodeInvalidFeeConfiguration}
	ErrInvalidAmount                             = &Error{Code: CodeInvalidAmount}
	ErrInvalidPlatformFee                        = &Error{Code: CodeInvalidPlatformFee}
	ErrInvalidEngagementID                       = &Error{Code: CodeInvalidEngagementID}
	ErrInvalidMilestone                          = &Error{Code: CodeInvalidMilestone}
	ErrModulePaused                              = &Error{Code: CodeModulePaused}
	ErrConcurrentUpdate                          = &Error{Code: CodeConcurrentUpdate}
	ErrTransferFailed                            = &Error{Code: CodeTransferFailed}
)
