package app

import "errors"

var (
	// ErrPackNotFound indicates the pack id does not exist.
	ErrPackNotFound = errors.New("pack not found")
	// ErrFlowActive indicates another checkout or confirmation for the same
	// user and pack is already in flight.
	ErrFlowActive = errors.New("unlock already in progress")
	// ErrNoActiveOrder indicates a confirm or cancel arrived without a
	// preceding checkout for this user and pack.
	ErrNoActiveOrder = errors.New("no active order for this pack")
	// ErrOrderMismatch indicates the confirmed order id does not match the
	// order created at checkout.
	ErrOrderMismatch = errors.New("order does not match active checkout")
	// ErrVerificationFailed indicates the payment may have succeeded but the
	// gateway refused to verify it. The purchase is not recorded and the
	// caller must be told to contact support rather than retry.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrReceiptRequired indicates confirm input was missing identifiers.
	ErrReceiptRequired = errors.New("orderId, paymentId, and signature are required")
)
