package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/leadconf/registration-service/internal/config"
	"github.com/leadconf/registration-service/internal/korapay"
	"github.com/leadconf/registration-service/internal/models"
	"github.com/leadconf/registration-service/internal/repository"
)

// fakeGateway scripts provider answers per reference and counts calls.
type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]string // reference -> provider status for Verify
	initErr     error
	verifyErr   error
	initCalls   []korapay.InitiateRequest
	verifyCalls []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (g *fakeGateway) setStatus(ref, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[ref] = status
}

func (g *fakeGateway) Initialize(_ context.Context, req korapay.InitiateRequest) (*korapay.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls = append(g.initCalls, req)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &korapay.InitiateResult{
		CheckoutURL: "https://checkout.korapay.test/" + req.Reference,
		Reference:   req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, ref string) (*korapay.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls = append(g.verifyCalls, ref)
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	status, ok := g.statuses[ref]
	if !ok {
		status = "pending"
	}
	raw, _ := json.Marshal(map[string]any{"reference": ref, "status": status, "amount": 5000})
	return &korapay.VerifyResult{
		Paid:      status == "success",
		Status:    status,
		Reference: ref,
		Amount:    5000,
		Currency:  "NGN",
		Raw:       raw,
	}, nil
}

func (g *fakeGateway) ValidateSignature([]byte, string) bool { return true }

type recordingPublisher struct {
	mu     sync.Mutex
	events []StateChangeEvent
}

func (p *recordingPublisher) PublishStateChange(_ context.Context, event StateChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []StateChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StateChangeEvent(nil), p.events...)
}

type EngineSuite struct {
	suite.Suite
	ctx       context.Context
	store     *repository.InMemory
	gateway   *fakeGateway
	publisher *recordingPublisher
	engine    *Engine
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = repository.NewInMemory()
	s.gateway = newFakeGateway()
	s.publisher = &recordingPublisher{}
	s.engine = NewEngine(s.store, s.gateway, NewMemoryLocker(), s.publisher, zap.NewNop(), &config.Config{
		ConferenceFee: 5000,
		Currency:      "NGN",
		RedirectURL:   "https://conf.example.com/redirect",
		WebhookURL:    "https://conf.example.com/api/payment/webhook",
	})
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) register(email string) *RegistrationResult {
	member := true
	result, err := s.engine.Register(s.ctx, &models.CreateRegistrationRequest{
		FirstName:      "Ada",
		LastName:       "Obi",
		Phone:          "+2348012345678",
		Email:          email,
		IsMember:       &member,
		Branch:         "Ikeja",
		PhysicalCourse: "leadership-101",
	})
	s.Require().NoError(err)
	return result
}

func (s *EngineSuite) successWebhook(ref string) *korapay.WebhookPayload {
	data, _ := json.Marshal(map[string]any{"reference": ref, "status": "success", "amount": 5000, "currency": "NGN"})
	return &korapay.WebhookPayload{Event: korapay.EventChargeSuccess, Data: data}
}

func (s *EngineSuite) failedWebhook(ref string) *korapay.WebhookPayload {
	data, _ := json.Marshal(map[string]any{"reference": ref, "status": "failed", "amount": 5000, "currency": "NGN"})
	return &korapay.WebhookPayload{Event: korapay.EventChargeFailed, Data: data}
}

func (s *EngineSuite) TestRegister() {
	s.Run("creates a pending pair and opens checkout", func() {
		result := s.register("ada@example.com")

		s.GreaterOrEqual(len(result.PaymentReference), 8)
		s.Contains(result.CheckoutURL, result.PaymentReference)
		s.EqualValues(5000, result.Amount)
		s.Equal("NGN", result.Currency)

		reg, err := s.store.FindByEmail(s.ctx, "ada@example.com")
		s.Require().NoError(err)
		s.Equal(models.StatusPending, reg.PaymentStatus)

		s.Require().Len(s.gateway.initCalls, 1)
		call := s.gateway.initCalls[0]
		s.Equal(result.PaymentReference, call.Reference)
		s.Equal("https://conf.example.com/api/payment/webhook", call.NotificationURL)
	})

	s.Run("resubmission issues a fresh reference", func() {
		first := s.register("bola@example.com")
		second := s.register("bola@example.com")

		s.Equal(first.RegistrationID, second.RegistrationID)
		s.NotEqual(first.PaymentReference, second.PaymentReference)

		_, err := s.store.GetPayment(s.ctx, first.PaymentReference)
		s.Require().ErrorIs(err, models.ErrNotFound)
	})

	s.Run("rejects an already paid email", func() {
		result := s.register("chi@example.com")
		s.gateway.setStatus(result.PaymentReference, "success")
		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.successWebhook(result.PaymentReference)))

		member := true
		_, err := s.engine.Register(s.ctx, &models.CreateRegistrationRequest{
			FirstName: "Chi", LastName: "Obi", Phone: "+2348012345678",
			Email: "chi@example.com", IsMember: &member, Branch: "Ikeja",
			PhysicalCourse: "leadership-101",
		})
		s.Require().ErrorIs(err, models.ErrAlreadyPaid)

		reg, err := s.store.FindByEmail(s.ctx, "chi@example.com")
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, reg.PaymentStatus)
		s.Equal(result.PaymentReference, reg.PaymentReference)
	})
}

func (s *EngineSuite) TestWebhookChargeSuccess() {
	s.Run("re-verifies and marks the pair paid", func() {
		result := s.register("dee@example.com")
		ref := result.PaymentReference
		s.gateway.setStatus(ref, "success")

		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.successWebhook(ref)))

		payment, err := s.store.GetPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, payment.Status)
		s.Require().NotNil(payment.PaidAt)
		s.NotEmpty(payment.RawResponse)

		reg, err := s.store.GetByReference(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, reg.PaymentStatus)

		s.Contains(s.gateway.verifyCalls, ref, "webhook body alone never sets PAID")
	})

	s.Run("duplicate delivery is a no-op", func() {
		result := s.register("efe@example.com")
		ref := result.PaymentReference
		s.gateway.setStatus(ref, "success")

		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.successWebhook(ref)))
		paidOnce, err := s.store.GetPayment(s.ctx, ref)
		s.Require().NoError(err)

		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.successWebhook(ref)))
		paidTwice, err := s.store.GetPayment(s.ctx, ref)
		s.Require().NoError(err)

		s.Equal(models.StatusPaid, paidTwice.Status)
		s.Equal(paidOnce.PaidAt, paidTwice.PaidAt, "paidAt set exactly once")

		var paidEvents int
		for _, event := range s.publisher.all() {
			if event.Reference == ref && event.Status == models.StatusPaid {
				paidEvents++
			}
		}
		s.Equal(1, paidEvents, "second delivery publishes nothing")
	})

	s.Run("unconfirmed success claim leaves the pair pending", func() {
		result := s.register("femi@example.com")
		ref := result.PaymentReference
		s.gateway.setStatus(ref, "processing")

		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.successWebhook(ref)))

		payment, err := s.store.GetPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, payment.Status)
	})
}

func (s *EngineSuite) TestWebhookChargeFailed() {
	s.Run("marks the pair failed", func() {
		result := s.register("gbenga@example.com")
		ref := result.PaymentReference

		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.failedWebhook(ref)))

		reg, err := s.store.GetByReference(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, reg.PaymentStatus)
		s.Empty(s.gateway.verifyCalls, "failed events are applied without a provider call")
	})

	s.Run("a stale failed retry never leaves PAID", func() {
		result := s.register("hauwa@example.com")
		ref := result.PaymentReference
		s.gateway.setStatus(ref, "success")
		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.successWebhook(ref)))

		s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.failedWebhook(ref)))

		payment, err := s.store.GetPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, payment.Status)
	})
}

func (s *EngineSuite) TestWebhookIgnoredEvents() {
	result := s.register("ini@example.com")
	ref := result.PaymentReference

	for _, event := range []string{
		korapay.EventTransferSuccess,
		korapay.EventRefundFailed,
		"subscription.created",
	} {
		data, _ := json.Marshal(map[string]any{"reference": ref, "status": "success"})
		err := s.engine.ProcessWebhookEvent(s.ctx, &korapay.WebhookPayload{Event: event, Data: data})
		s.Require().NoError(err)
	}

	reg, err := s.store.GetByReference(s.ctx, ref)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, reg.PaymentStatus)
	s.Empty(s.gateway.verifyCalls)
}

func (s *EngineSuite) TestVerifyPayment() {
	s.Run("poll folds provider truth into the store", func() {
		result := s.register("jide@example.com")
		ref := result.PaymentReference
		s.gateway.setStatus(ref, "success")

		live, err := s.engine.VerifyPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.True(live.Paid)

		reg, err := s.store.GetByReference(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, reg.PaymentStatus)
	})

	s.Run("stored PAID survives a stale provider answer", func() {
		result := s.register("kemi@example.com")
		ref := result.PaymentReference
		s.gateway.setStatus(ref, "success")
		_, err := s.engine.VerifyPayment(s.ctx, ref)
		s.Require().NoError(err)

		s.gateway.setStatus(ref, "failed")
		live, err := s.engine.VerifyPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.False(live.Paid, "live answer is passed through")

		payment, err := s.store.GetPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, payment.Status, "store keeps the absorbing state")
	})

	s.Run("pending result applies FAILED and converges on later polls", func() {
		result := s.register("lanre@example.com")
		ref := result.PaymentReference

		live, err := s.engine.VerifyPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.False(live.Paid)

		s.gateway.setStatus(ref, "success")
		live, err = s.engine.VerifyPayment(s.ctx, ref)
		s.Require().NoError(err)
		s.True(live.Paid)

		reg, err := s.store.GetByReference(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, reg.PaymentStatus)
	})

	s.Run("reference without stored rows still answers", func() {
		s.gateway.setStatus("LEAD-STANDALONE-1", "success")
		live, err := s.engine.VerifyPayment(s.ctx, "LEAD-STANDALONE-1")
		s.Require().NoError(err)
		s.True(live.Paid)
	})
}

func (s *EngineSuite) TestStateChangeEvents() {
	result := s.register("mide@example.com")
	ref := result.PaymentReference
	s.gateway.setStatus(ref, "success")
	s.Require().NoError(s.engine.ProcessWebhookEvent(s.ctx, s.successWebhook(ref)))

	events := s.publisher.all()
	s.Require().NotEmpty(events)
	last := events[len(events)-1]
	s.Equal(ref, last.Reference)
	s.Equal(models.StatusPending, last.PreviousStatus)
	s.Equal(models.StatusPaid, last.Status)
	s.Equal(TriggerWebhook, last.Trigger)
	s.WithinDuration(time.Now(), last.Timestamp, time.Minute)
}
