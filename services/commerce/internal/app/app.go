package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"exammate/pkg/domain"
	"exammate/pkg/events"
	"exammate/pkg/payment"
	"exammate/pkg/store"
)

// FlowState names a position in the pack unlock flow.
type FlowState string

const (
	FlowLocked           FlowState = "locked"
	FlowAwaitingPayment  FlowState = "awaiting_payment"
	FlowVerifyingPayment FlowState = "verifying_payment"
	FlowUnlocked         FlowState = "unlocked"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Gateway     payment.Gateway
	Publisher   events.Publisher

	RazorpayKeyID     string
	RazorpayKeySecret string

	AMQPURL string
}

// App drives the pack unlock flow: entitlement checks, gateway orders,
// payment verification, and the purchase ledger.
type App struct {
	store     store.Store
	gateway   payment.Gateway
	publisher events.Publisher
	keyID     string
	currency  string
	theme     string

	mu    sync.Mutex
	flows map[string]*packFlow
}

// packFlow is the single in-flight unlock attempt for one (user, pack).
// Re-entry while a flow is awaiting payment or verifying is refused, so a
// burst of duplicate requests cannot create duplicate gateway orders or
// double-verify one receipt.
type packFlow struct {
	state   FlowState
	orderID string
	amount  int64
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	gateway := cfg.Gateway
	if gateway == nil {
		if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
			return nil, fmt.Errorf("razorpay credentials required")
		}
		gateway = payment.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		if cfg.AMQPURL == "" {
			publisher = events.NoopPublisher{}
		} else {
			var err error
			publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, events.DefaultExchange)
			if err != nil {
				return nil, fmt.Errorf("init event publisher: %w", err)
			}
		}
	}
	return &App{
		store:     dataStore,
		gateway:   gateway,
		publisher: publisher,
		keyID:     cfg.RazorpayKeyID,
		currency:  "INR",
		theme:     "#4F46E5",
		flows:     make(map[string]*packFlow),
	}, nil
}

// Close releases the event publisher connection.
func (a *App) Close() error {
	if a.publisher == nil {
		return nil
	}
	return a.publisher.Close()
}

func flowKey(userID, packID string) string {
	return userID + "/" + packID
}

// Entitlement reports whether the user owns the pack. It has no side
// effects and never touches the gateway.
func (a *App) Entitlement(user domain.User, packID string) (bool, error) {
	if _, ok, err := a.store.GetPack(packID); err != nil {
		return false, fmt.Errorf("fetch pack: %w", err)
	} else if !ok {
		return false, ErrPackNotFound
	}
	purchased, err := a.store.HasPurchase(user.ID, packID)
	if err != nil {
		return false, fmt.Errorf("check purchase: %w", err)
	}
	return purchased, nil
}

// Prefill carries checkout contact details for the payment sheet.
type Prefill struct {
	Contact string `json:"contact"`
	Email   string `json:"email"`
}

// CheckoutResponse is handed to the client to open the payment sheet. The
// amount is bound to the order server-side; the client cannot alter it.
type CheckoutResponse struct {
	State    FlowState `json:"state"`
	OrderID  string    `json:"orderId,omitempty"`
	Amount   int64     `json:"amount,omitempty"` // paise
	Currency string    `json:"currency,omitempty"`
	KeyID    string    `json:"keyId,omitempty"`
	Prefill  Prefill   `json:"prefill"`
	Theme    string    `json:"theme,omitempty"`
}

// Checkout creates a gateway order for the pack's price. Already-entitled
// users get an immediate unlocked response with zero gateway calls. A second
// checkout while one is awaiting payment or verifying is refused.
func (a *App) Checkout(ctx context.Context, user domain.User, packID string) (CheckoutResponse, error) {
	pack, ok, err := a.store.GetPack(packID)
	if err != nil {
		return CheckoutResponse{}, fmt.Errorf("fetch pack: %w", err)
	}
	if !ok {
		return CheckoutResponse{}, ErrPackNotFound
	}

	purchased, err := a.store.HasPurchase(user.ID, packID)
	if err != nil {
		return CheckoutResponse{}, fmt.Errorf("check purchase: %w", err)
	}
	if purchased {
		return CheckoutResponse{State: FlowUnlocked}, nil
	}

	key := flowKey(user.ID, packID)
	a.mu.Lock()
	if flow, exists := a.flows[key]; exists && (flow.state == FlowAwaitingPayment || flow.state == FlowVerifyingPayment) {
		a.mu.Unlock()
		return CheckoutResponse{}, ErrFlowActive
	}
	// reserve the flow before the gateway call so concurrent checkouts for
	// the same pack cannot both create orders
	flow := &packFlow{state: FlowAwaitingPayment}
	a.flows[key] = flow
	a.mu.Unlock()

	amount := pack.Price * 100 // rupees to paise
	order, err := a.gateway.CreateOrder(ctx, amount, a.currency, "pack_"+packID)
	if err != nil {
		a.resetFlow(key)
		return CheckoutResponse{}, fmt.Errorf("create order: %w", err)
	}

	a.mu.Lock()
	flow.orderID = order.ID
	flow.amount = order.Amount
	a.mu.Unlock()

	return CheckoutResponse{
		State:    FlowAwaitingPayment,
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: a.currency,
		KeyID:    a.keyID,
		Prefill:  a.prefillFor(user),
		Theme:    a.theme,
	}, nil
}

// ConfirmInput carries the payment receipt identifiers from the client.
type ConfirmInput struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// ConfirmResult reports the outcome of a verified purchase.
type ConfirmResult struct {
	State    FlowState       `json:"state"`
	Purchase domain.Purchase `json:"purchase"`
}

// Confirm verifies the payment receipt with the gateway exactly once per
// flow and, on success, persists the Purchase row, backfills the profile
// phone, and publishes the purchase event. Verification failure leaves the
// flow locked: the money may have moved without entitlement, so the caller
// is told to contact support instead of retrying. A transient gateway
// outage instead returns the flow to awaiting payment, so the same receipt
// can be re-confirmed after the outage.
func (a *App) Confirm(ctx context.Context, user domain.User, packID string, input ConfirmInput) (ConfirmResult, error) {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.PaymentID) == "" || strings.TrimSpace(input.Signature) == "" {
		return ConfirmResult{}, ErrReceiptRequired
	}

	purchased, err := a.store.HasPurchase(user.ID, packID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("check purchase: %w", err)
	}
	if purchased {
		return ConfirmResult{State: FlowUnlocked}, nil
	}

	key := flowKey(user.ID, packID)
	a.mu.Lock()
	flow, exists := a.flows[key]
	switch {
	case !exists || flow.state == FlowLocked:
		a.mu.Unlock()
		return ConfirmResult{}, ErrNoActiveOrder
	case flow.state == FlowVerifyingPayment:
		a.mu.Unlock()
		return ConfirmResult{}, ErrFlowActive
	case flow.orderID != input.OrderID:
		a.mu.Unlock()
		return ConfirmResult{}, ErrOrderMismatch
	}
	flow.state = FlowVerifyingPayment
	amount := flow.amount
	a.mu.Unlock()

	if err := a.gateway.VerifyPayment(ctx, input.OrderID, input.PaymentID, input.Signature); err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			// the payment may already be captured, so keep the order on
			// file and let the same receipt be confirmed again once the
			// gateway recovers
			a.mu.Lock()
			flow.state = FlowAwaitingPayment
			a.mu.Unlock()
			return ConfirmResult{}, fmt.Errorf("verify payment: %w", err)
		}
		a.resetFlow(key)
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	purchase := domain.Purchase{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		PackID:    packID,
		OrderID:   input.OrderID,
		PaymentID: input.PaymentID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SavePurchase(purchase); err != nil {
		// verified but not persisted, keep the order so a retry can finish
		a.mu.Lock()
		flow.state = FlowAwaitingPayment
		a.mu.Unlock()
		return ConfirmResult{}, fmt.Errorf("save purchase: %w", err)
	}

	a.backfillProfilePhone(user)

	event := domain.PurchaseEvent{
		PurchaseID: purchase.ID,
		UserID:     purchase.UserID,
		PackID:     purchase.PackID,
		PaymentID:  purchase.PaymentID,
		Amount:     purchase.Amount,
		OccurredAt: purchase.CreatedAt,
	}
	if err := a.publisher.PublishPurchaseVerified(ctx, event); err != nil {
		// the purchase is already durable, downstream consumers catch up later
		slog.Warn("publish purchase event failed", "purchaseId", purchase.ID, "err", err)
	}

	a.mu.Lock()
	delete(a.flows, key)
	a.mu.Unlock()

	return ConfirmResult{State: FlowUnlocked, Purchase: purchase}, nil
}

// Cancel aborts an awaiting flow after the payment sheet was dismissed or
// the gateway declined. No verification call is made and no purchase row is
// written.
func (a *App) Cancel(user domain.User, packID string) (FlowState, error) {
	key := flowKey(user.ID, packID)
	a.mu.Lock()
	defer a.mu.Unlock()
	flow, exists := a.flows[key]
	if !exists {
		return FlowLocked, ErrNoActiveOrder
	}
	if flow.state == FlowVerifyingPayment {
		return FlowLocked, ErrFlowActive
	}
	delete(a.flows, key)
	return FlowLocked, nil
}

// LibraryItem pairs a purchase with its pack for the library screen.
type LibraryItem struct {
	Purchase domain.Purchase `json:"purchase"`
	Pack     domain.Pack     `json:"pack"`
}

// Library returns the user's purchases joined with their packs, newest
// first.
func (a *App) Library(user domain.User) ([]LibraryItem, error) {
	purchases, packs, err := a.store.ListPurchasesWithPacks(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	items := make([]LibraryItem, 0, len(purchases))
	for i := range purchases {
		items = append(items, LibraryItem{Purchase: purchases[i], Pack: packs[i]})
	}
	return items, nil
}

// FlowStateFor reports the current flow position for a (user, pack). Used
// by tests and the entitlement endpoint response.
func (a *App) FlowStateFor(userID, packID string) FlowState {
	a.mu.Lock()
	defer a.mu.Unlock()
	flow, exists := a.flows[flowKey(userID, packID)]
	if !exists {
		return FlowLocked
	}
	return flow.state
}

func (a *App) resetFlow(key string) {
	a.mu.Lock()
	delete(a.flows, key)
	a.mu.Unlock()
}

func (a *App) prefillFor(user domain.User) Prefill {
	prefill := Prefill{Contact: user.Phone, Email: user.Email}
	if profile, ok, err := a.store.GetProfile(user.ID); err == nil && ok && profile.Phone != "" {
		prefill.Contact = profile.Phone
	}
	return prefill
}

// backfillProfilePhone copies the payment contact onto the profile when the
// profile has no phone yet.
func (a *App) backfillProfilePhone(user domain.User) {
	if user.Phone == "" {
		return
	}
	profile, ok, err := a.store.GetProfile(user.ID)
	if err != nil {
		slog.Warn("profile lookup failed during phone backfill", "userId", user.ID, "err", err)
		return
	}
	if !ok {
		profile = domain.Profile{ID: user.ID, CreatedAt: time.Now().UTC()}
	}
	if profile.Phone != "" {
		return
	}
	profile.Phone = user.Phone
	profile.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveProfile(profile); err != nil {
		slog.Warn("profile phone backfill failed", "userId", user.ID, "err", err)
	}
}
