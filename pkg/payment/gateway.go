package payment

import (
	"context"
	"errors"

	"exammate/pkg/domain"
)

var (
	// ErrGatewayUnavailable indicates the payment provider could not be
	// reached. Callers may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrSignatureMismatch indicates the payment signature did not verify.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrPaymentNotCaptured indicates the provider did not capture the
	// payment for the given payment id.
	ErrPaymentNotCaptured = errors.New("payment not captured")
)

// Gateway creates payment orders and verifies completed payments.
type Gateway interface {
	// CreateOrder registers an order with the provider. Amount is in the
	// currency's minor unit (paise for INR).
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (domain.PaymentOrder, error)
	// VerifyPayment checks the provider signature over (orderID, paymentID)
	// and confirms the payment was captured. Returns ErrSignatureMismatch
	// or ErrPaymentNotCaptured when verification fails.
	VerifyPayment(ctx context.Context, orderID, paymentID, signature string) error
}
