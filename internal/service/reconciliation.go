package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadconf/registration-service/internal/config"
	"github.com/leadconf/registration-service/internal/interfaces"
	"github.com/leadconf/registration-service/internal/korapay"
	"github.com/leadconf/registration-service/internal/metrics"
	"github.com/leadconf/registration-service/internal/models"
	"github.com/leadconf/registration-service/internal/reference"
)

// Triggers identify which signal caused a state change.
const (
	TriggerWebhook = "webhook"
	TriggerPoll    = "poll"
)

const webhookLockTTL = 30 * time.Second

// Engine owns the payment lifecycle of a registration. Webhook deliveries,
// status polls and checkout retries all race into it; every applied outcome
// funnels through the store's atomic ApplyPaymentOutcome, and PAID being
// absorbing makes the result convergent regardless of arrival order. Only
// a confirming Verify call against the provider may set PAID.
type Engine struct {
	store     interfaces.RegistrationStore
	gateway   interfaces.PaymentGateway
	locker    Locker
	publisher EventPublisher
	logger    *zap.Logger
	cfg       *config.Config
}

func NewEngine(
	store interfaces.RegistrationStore,
	gateway interfaces.PaymentGateway,
	locker Locker,
	publisher EventPublisher,
	logger *zap.Logger,
	cfg *config.Config,
) *Engine {
	return &Engine{
		store:     store,
		gateway:   gateway,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// RegistrationResult is returned to the frontend after a form submission.
type RegistrationResult struct {
	RegistrationID   string `json:"registrationId"`
	PaymentReference string `json:"paymentReference"`
	CheckoutURL      string `json:"checkoutUrl"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// Register creates or resets the registration under a fresh reference and
// opens a checkout session for the conference fee. A resubmission for an
// unpaid email retires the previous reference; the provider treats
// references as single-use, so a retried checkout never reuses one.
func (e *Engine) Register(ctx context.Context, req *models.CreateRegistrationRequest) (*RegistrationResult, error) {
	ref := reference.New("LEAD")

	reg, err := e.store.UpsertPending(ctx, req, ref, e.cfg.ConferenceFee, e.cfg.Currency)
	if err != nil {
		return nil, err
	}

	session, err := e.gateway.Initialize(ctx, korapay.InitiateRequest{
		Amount:          e.cfg.ConferenceFee,
		Currency:        e.cfg.Currency,
		Reference:       reg.PaymentReference,
		CustomerName:    reg.FirstName + " " + reg.LastName,
		CustomerEmail:   reg.Email,
		RedirectURL:     e.cfg.RedirectURL,
		NotificationURL: e.cfg.WebhookURL,
		Metadata: map[string]any{
			"registrationId": reg.ID,
			"source":         "lead-conference-form",
		},
	})
	if err != nil {
		// The pair stays PENDING; the next submission issues a fresh
		// reference and retries.
		return nil, fmt.Errorf("initiate checkout: %w", err)
	}

	e.logger.Info("Registration pending checkout",
		zap.String("registration_id", reg.ID),
		zap.String("reference", reg.PaymentReference),
	)

	return &RegistrationResult{
		RegistrationID:   reg.ID,
		PaymentReference: reg.PaymentReference,
		CheckoutURL:      session.CheckoutURL,
		Amount:           e.cfg.ConferenceFee,
		Currency:         e.cfg.Currency,
	}, nil
}

// InitiatePaymentRequest is the registration-independent checkout entry.
type InitiatePaymentRequest struct {
	Amount        int64          `json:"amount"`
	CustomerName  string         `json:"customerName"`
	CustomerEmail string         `json:"customerEmail"`
	Metadata      map[string]any `json:"metadata"`
}

// InitiatePayment opens a checkout session that is not tied to a
// registration record.
func (e *Engine) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*korapay.InitiateResult, error) {
	return e.gateway.Initialize(ctx, korapay.InitiateRequest{
		Amount:          req.Amount,
		Currency:        e.cfg.Currency,
		Reference:       reference.New("LEAD"),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		RedirectURL:     e.cfg.RedirectURL,
		NotificationURL: e.cfg.WebhookURL,
		Metadata:        req.Metadata,
	})
}

// VerifyPayment is the poll path: ask the provider for the live state of a
// reference, fold it into the store, and hand the live result back to the
// caller regardless of what was stored before.
func (e *Engine) VerifyPayment(ctx context.Context, ref string) (*korapay.VerifyResult, error) {
	result, err := e.gateway.Verify(ctx, ref)
	if err != nil {
		return nil, err
	}

	outcome := models.StatusFailed
	var paidAt *time.Time
	if result.Paid {
		outcome = models.StatusPaid
		now := time.Now()
		paidAt = &now
	}

	previous, applied, err := e.store.ApplyPaymentOutcome(ctx, ref, outcome, paidAt, result.Raw)
	switch {
	case errors.Is(err, models.ErrNotFound):
		// References from the bare /payment/initiate flow have no stored
		// pair; the live result still answers the poll.
		e.logger.Debug("No stored payment for verified reference", zap.String("reference", ref))
	case err != nil:
		return nil, err
	case applied:
		e.recordStateChange(ctx, ref, previous, outcome, TriggerPoll)
	}

	return result, nil
}

// ProcessWebhookEvent runs after the webhook has been acknowledged. For
// charge.success the webhook body is never trusted: the provider is
// re-verified and only its answer may mark the pair PAID. For charge.failed
// the store discards the signal if the pair is already PAID.
func (e *Engine) ProcessWebhookEvent(ctx context.Context, payload *korapay.WebhookPayload) error {
	data, err := payload.ChargeData()
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(payload.Event, "error").Inc()
		return fmt.Errorf("decode webhook data: %w", err)
	}

	lockKey := "webhook_lock:" + data.Reference
	acquired, err := e.locker.Acquire(ctx, lockKey, webhookLockTTL)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(payload.Event, "error").Inc()
		return fmt.Errorf("acquire webhook lock: %w", err)
	}
	if !acquired {
		e.logger.Info("Webhook for reference already in flight, skipping",
			zap.String("reference", data.Reference),
			zap.String("event", payload.Event),
		)
		metrics.WebhookEvents.WithLabelValues(payload.Event, "skipped").Inc()
		return nil
	}
	defer e.locker.Release(ctx, lockKey)

	switch payload.Event {
	case korapay.EventChargeSuccess:
		err = e.confirmCharge(ctx, data.Reference)
	case korapay.EventChargeFailed:
		err = e.failCharge(ctx, data.Reference)
	case korapay.EventTransferSuccess, korapay.EventTransferFailed,
		korapay.EventRefundSuccess, korapay.EventRefundFailed:
		e.logger.Info("Ignoring non-charge event",
			zap.String("event", payload.Event),
			zap.String("reference", data.Reference),
		)
		metrics.WebhookEvents.WithLabelValues(payload.Event, "ignored").Inc()
		return nil
	default:
		e.logger.Info("Unhandled webhook event type", zap.String("event", payload.Event))
		metrics.WebhookEvents.WithLabelValues(payload.Event, "ignored").Inc()
		return nil
	}

	if err != nil {
		metrics.WebhookEvents.WithLabelValues(payload.Event, "error").Inc()
		return err
	}
	metrics.WebhookEvents.WithLabelValues(payload.Event, "processed").Inc()
	return nil
}

func (e *Engine) confirmCharge(ctx context.Context, ref string) error {
	result, err := e.gateway.Verify(ctx, ref)
	if err != nil {
		return fmt.Errorf("re-verify %s: %w", ref, err)
	}
	if !result.Paid {
		e.logger.Warn("charge.success webhook not confirmed by provider",
			zap.String("reference", ref),
			zap.String("provider_status", result.Status),
		)
		return nil
	}

	now := time.Now()
	previous, applied, err := e.store.ApplyPaymentOutcome(ctx, ref, models.StatusPaid, &now, result.Raw)
	if errors.Is(err, models.ErrNotFound) {
		e.logger.Warn("Webhook for unknown reference", zap.String("reference", ref))
		return nil
	}
	if err != nil {
		return err
	}

	if !applied {
		e.logger.Info("Payment already PAID, webhook is a no-op", zap.String("reference", ref))
		return nil
	}

	e.logger.Info("Payment confirmed",
		zap.String("reference", ref),
		zap.Int64("amount", result.Amount),
	)
	e.recordStateChange(ctx, ref, previous, models.StatusPaid, TriggerWebhook)
	return nil
}

func (e *Engine) failCharge(ctx context.Context, ref string) error {
	previous, applied, err := e.store.ApplyPaymentOutcome(ctx, ref, models.StatusFailed, nil, nil)
	if errors.Is(err, models.ErrNotFound) {
		e.logger.Warn("Webhook for unknown reference", zap.String("reference", ref))
		return nil
	}
	if err != nil {
		return err
	}

	if !applied {
		e.logger.Info("Payment already PAID, discarding failed signal", zap.String("reference", ref))
		return nil
	}

	e.logger.Info("Payment failed", zap.String("reference", ref))
	e.recordStateChange(ctx, ref, previous, models.StatusFailed, TriggerWebhook)
	return nil
}

func (e *Engine) recordStateChange(ctx context.Context, ref string, previous, status models.PaymentStatus, trigger string) {
	metrics.ReconciliationOutcomes.WithLabelValues(string(status), trigger).Inc()

	event := StateChangeEvent{
		Reference:      ref,
		PreviousStatus: previous,
		Status:         status,
		Trigger:        trigger,
		Timestamp:      time.Now(),
	}
	if err := e.publisher.PublishStateChange(ctx, event); err != nil {
		// The store already committed; a lost event must not fail the
		// reconciliation.
		e.logger.Error("Failed to publish state change",
			zap.String("reference", ref),
			zap.Error(err),
		)
	}
}

func (e *Engine) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	return e.store.GetByID(ctx, id)
}

func (e *Engine) GetRegistrationByReference(ctx context.Context, ref string) (*models.Registration, error) {
	return e.store.GetByReference(ctx, ref)
}

func (e *Engine) ListPaidRegistrations(ctx context.Context) ([]models.Registration, error) {
	return e.store.ListPaid(ctx)
}
