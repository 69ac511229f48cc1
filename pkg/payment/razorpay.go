package payment

import (
	"context"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	razorpayutils "github.com/razorpay/razorpay-go/utils"

	"exammate/pkg/domain"
)

// RazorpayGateway implements Gateway against the Razorpay Orders and
// Payments APIs.
type RazorpayGateway struct {
	client *razorpay.Client
	secret string
}

// NewRazorpayGateway builds a gateway from API credentials.
func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{
		client: razorpay.NewClient(keyID, keySecret),
		secret: keySecret,
	}
}

// CreateOrder registers an order with Razorpay. Amount is in paise.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (domain.PaymentOrder, error) {
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		return domain.PaymentOrder{}, fmt.Errorf("%w: create order: %v", ErrGatewayUnavailable, err)
	}
	orderID, _ := body["id"].(string)
	if orderID == "" {
		return domain.PaymentOrder{}, fmt.Errorf("%w: create order: missing order id", ErrGatewayUnavailable)
	}
	return domain.PaymentOrder{
		ID:       orderID,
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

// VerifyPayment checks the payment signature and the captured status.
func (g *RazorpayGateway) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) error {
	params := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	if !razorpayutils.VerifyPaymentSignature(params, signature, g.secret) {
		return ErrSignatureMismatch
	}
	body, err := g.client.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: fetch payment: %v", ErrGatewayUnavailable, err)
	}
	status, _ := body["status"].(string)
	if !strings.EqualFold(status, "captured") {
		return fmt.Errorf("%w: status %q", ErrPaymentNotCaptured, status)
	}
	gotOrderID, _ := body["order_id"].(string)
	if gotOrderID != "" && gotOrderID != orderID {
		return ErrSignatureMismatch
	}
	return nil
}
