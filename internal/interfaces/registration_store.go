package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leadconf/registration-service/internal/korapay"
	"github.com/leadconf/registration-service/internal/models"
)

// RegistrationStore defines the contract for registration and payment
// persistence. A Registration and its Payment always change together: every
// mutating operation updates both rows in one transaction or neither.
type RegistrationStore interface {
	// FindByEmail looks a registration up by normalized email. Returns
	// models.ErrNotFound when the email is unknown.
	FindByEmail(ctx context.Context, email string) (*models.Registration, error)

	// UpsertPending creates the registration+payment pair for a new email,
	// or resets an existing unpaid pair to PENDING under the given fresh
	// reference. Returns models.ErrAlreadyPaid when the email's payment has
	// already been confirmed.
	UpsertPending(ctx context.Context, req *models.CreateRegistrationRequest, reference string, amount int64, currency string) (*models.Registration, error)

	// ApplyPaymentOutcome moves the pair matched by reference to the given
	// outcome. PAID is terminal: once reached, later outcomes are ignored
	// and applied is false. Returns the status held before the call.
	ApplyPaymentOutcome(ctx context.Context, reference string, outcome models.PaymentStatus, paidAt *time.Time, raw json.RawMessage) (previous models.PaymentStatus, applied bool, err error)

	GetByID(ctx context.Context, id string) (*models.Registration, error)
	GetByReference(ctx context.Context, reference string) (*models.Registration, error)
	GetPayment(ctx context.Context, reference string) (*models.Payment, error)

	// ListPaid returns confirmed registrations, newest first.
	ListPaid(ctx context.Context) ([]models.Registration, error)
}

// PaymentGateway is the provider boundary the reconciliation engine talks
// to. Satisfied by *korapay.Client and by fakes in tests.
type PaymentGateway interface {
	Initialize(ctx context.Context, req korapay.InitiateRequest) (*korapay.InitiateResult, error)
	Verify(ctx context.Context, reference string) (*korapay.VerifyResult, error)
	ValidateSignature(data []byte, signature string) bool
}
