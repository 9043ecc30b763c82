package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadconf/registration-service/internal/models"
)

// InMemory is a map-backed store with the same transactional semantics as
// PostgresStore. Used in tests and local development.
type InMemory struct {
	mu            sync.Mutex
	registrations map[string]*models.Registration // keyed by id
	payments      map[string]*models.Payment      // keyed by reference
	nextPaymentID int64
}

func NewInMemory() *InMemory {
	return &InMemory{
		registrations: make(map[string]*models.Registration),
		payments:      make(map[string]*models.Payment),
	}
}

func (s *InMemory) findByEmailLocked(email string) *models.Registration {
	for _, reg := range s.registrations {
		if reg.Email == email {
			return reg
		}
	}
	return nil
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg := s.findByEmailLocked(strings.ToLower(strings.TrimSpace(email))); reg != nil {
		copied := *reg
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

func (s *InMemory) GetByID(_ context.Context, id string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *reg
	return &copied, nil
}

func (s *InMemory) GetByReference(_ context.Context, ref string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, reg := range s.registrations {
		if reg.PaymentReference == ref {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *InMemory) GetPayment(_ context.Context, ref string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[ref]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *InMemory) ListPaid(_ context.Context) ([]models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var regs []models.Registration
	for _, reg := range s.registrations {
		if reg.PaymentStatus == models.StatusPaid {
			regs = append(regs, *reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool {
		return regs[i].CreatedAt.After(regs[j].CreatedAt)
	})
	return regs, nil
}

func (s *InMemory) UpsertPending(_ context.Context, req *models.CreateRegistrationRequest, reference string, amount int64, currency string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	email := req.NormalizedEmail()
	isMember := req.IsMember != nil && *req.IsMember
	branch := ""
	if isMember {
		branch = strings.TrimSpace(req.Branch)
	}

	reg := s.findByEmailLocked(email)
	if reg != nil {
		if reg.PaymentStatus == models.StatusPaid {
			return nil, models.ErrAlreadyPaid
		}
		// Retire the old reference along with its payment row.
		delete(s.payments, reg.PaymentReference)
		reg.FirstName = strings.TrimSpace(req.FirstName)
		reg.LastName = strings.TrimSpace(req.LastName)
		reg.Phone = strings.TrimSpace(req.Phone)
		reg.IsMember = isMember
		reg.Branch = branch
		reg.PhysicalCourse = strings.TrimSpace(req.PhysicalCourse)
		reg.OnlineCourses = append([]string(nil), req.OnlineCourses...)
		reg.PaymentStatus = models.StatusPending
		reg.PaymentReference = reference
		reg.UpdatedAt = now
	} else {
		reg = &models.Registration{
			ID:               uuid.NewString(),
			FirstName:        strings.TrimSpace(req.FirstName),
			LastName:         strings.TrimSpace(req.LastName),
			Phone:            strings.TrimSpace(req.Phone),
			Email:            email,
			IsMember:         isMember,
			Branch:           branch,
			PhysicalCourse:   strings.TrimSpace(req.PhysicalCourse),
			OnlineCourses:    append([]string(nil), req.OnlineCourses...),
			PaymentStatus:    models.StatusPending,
			PaymentReference: reference,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.registrations[reg.ID] = reg
	}

	s.nextPaymentID++
	s.payments[reference] = &models.Payment{
		ID:             s.nextPaymentID,
		RegistrationID: reg.ID,
		Reference:      reference,
		Amount:         amount,
		Currency:       currency,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	copied := *reg
	return &copied, nil
}

func (s *InMemory) ApplyPaymentOutcome(_ context.Context, reference string, outcome models.PaymentStatus, paidAt *time.Time, raw json.RawMessage) (models.PaymentStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[reference]
	if !ok {
		return "", false, models.ErrNotFound
	}

	previous := p.Status
	if previous == models.StatusPaid {
		return previous, false, nil
	}

	now := time.Now()
	p.Status = outcome
	p.UpdatedAt = now
	if outcome == models.StatusPaid && paidAt != nil {
		t := *paidAt
		p.PaidAt = &t
	}
	if len(raw) > 0 {
		p.RawResponse = append(json.RawMessage(nil), raw...)
	}

	for _, reg := range s.registrations {
		if reg.PaymentReference == reference {
			reg.PaymentStatus = outcome
			reg.UpdatedAt = now
			break
		}
	}
	return previous, true, nil
}
