package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/leadconf/registration-service/internal/models"
)

type StoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func boolPtr(b bool) *bool { return &b }

func (s *StoreSuite) newRequest(email string) *models.CreateRegistrationRequest {
	return &models.CreateRegistrationRequest{
		FirstName:      "Ada",
		LastName:       "Obi",
		Phone:          "+2348012345678",
		Email:          email,
		IsMember:       boolPtr(true),
		Branch:         "Ikeja",
		PhysicalCourse: "leadership-101",
		OnlineCourses:  []string{"stewardship"},
	}
}

func (s *StoreSuite) TestUpsertPending() {
	s.Run("creates registration and payment together", func() {
		reg, err := s.store.UpsertPending(s.ctx, s.newRequest("Ada@Example.com "), "LEAD-T1-AAAAAA", 5000, "NGN")
		s.Require().NoError(err)

		s.Equal("ada@example.com", reg.Email)
		s.Equal(models.StatusPending, reg.PaymentStatus)
		s.Equal("LEAD-T1-AAAAAA", reg.PaymentReference)

		payment, err := s.store.GetPayment(s.ctx, "LEAD-T1-AAAAAA")
		s.Require().NoError(err)
		s.Equal(reg.ID, payment.RegistrationID)
		s.Equal(models.StatusPending, payment.Status)
		s.EqualValues(5000, payment.Amount)
		s.Nil(payment.PaidAt)
	})

	s.Run("resubmission rotates the reference and retires the old one", func() {
		first, err := s.store.UpsertPending(s.ctx, s.newRequest("bola@example.com"), "LEAD-T1-BBBBBB", 5000, "NGN")
		s.Require().NoError(err)

		second, err := s.store.UpsertPending(s.ctx, s.newRequest("bola@example.com"), "LEAD-T2-CCCCCC", 5000, "NGN")
		s.Require().NoError(err)

		s.Equal(first.ID, second.ID, "same registration is reused")
		s.NotEqual(first.PaymentReference, second.PaymentReference)

		_, err = s.store.GetPayment(s.ctx, "LEAD-T1-BBBBBB")
		s.Require().ErrorIs(err, models.ErrNotFound, "old reference no longer resolves")

		_, err = s.store.GetByReference(s.ctx, "LEAD-T2-CCCCCC")
		s.Require().NoError(err)
	})

	s.Run("refuses when the email is already paid", func() {
		_, err := s.store.UpsertPending(s.ctx, s.newRequest("chi@example.com"), "LEAD-T1-DDDDDD", 5000, "NGN")
		s.Require().NoError(err)

		now := time.Now()
		_, applied, err := s.store.ApplyPaymentOutcome(s.ctx, "LEAD-T1-DDDDDD", models.StatusPaid, &now, nil)
		s.Require().NoError(err)
		s.Require().True(applied)

		_, err = s.store.UpsertPending(s.ctx, s.newRequest("chi@example.com"), "LEAD-T2-EEEEEE", 5000, "NGN")
		s.Require().ErrorIs(err, models.ErrAlreadyPaid)

		// The paid pair is untouched.
		reg, err := s.store.FindByEmail(s.ctx, "chi@example.com")
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, reg.PaymentStatus)
		s.Equal("LEAD-T1-DDDDDD", reg.PaymentReference)
	})
}

func (s *StoreSuite) TestApplyPaymentOutcome() {
	raw := json.RawMessage(`{"status":"success","reference":"LEAD-T1-FFFFFF"}`)

	s.Run("marks both rows paid atomically", func() {
		reg, err := s.store.UpsertPending(s.ctx, s.newRequest("dee@example.com"), "LEAD-T1-FFFFFF", 5000, "NGN")
		s.Require().NoError(err)

		now := time.Now()
		previous, applied, err := s.store.ApplyPaymentOutcome(s.ctx, "LEAD-T1-FFFFFF", models.StatusPaid, &now, raw)
		s.Require().NoError(err)
		s.True(applied)
		s.Equal(models.StatusPending, previous)

		payment, err := s.store.GetPayment(s.ctx, "LEAD-T1-FFFFFF")
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, payment.Status)
		s.Require().NotNil(payment.PaidAt)
		s.JSONEq(string(raw), string(payment.RawResponse))

		updated, err := s.store.GetByID(s.ctx, reg.ID)
		s.Require().NoError(err)
		s.Equal(payment.Status, updated.PaymentStatus, "registration mirrors the payment status")
	})

	s.Run("PAID is absorbing", func() {
		_, err := s.store.UpsertPending(s.ctx, s.newRequest("efe@example.com"), "LEAD-T1-GGGGGG", 5000, "NGN")
		s.Require().NoError(err)

		now := time.Now()
		_, applied, err := s.store.ApplyPaymentOutcome(s.ctx, "LEAD-T1-GGGGGG", models.StatusPaid, &now, nil)
		s.Require().NoError(err)
		s.Require().True(applied)

		paidBefore, err := s.store.GetPayment(s.ctx, "LEAD-T1-GGGGGG")
		s.Require().NoError(err)

		previous, applied, err := s.store.ApplyPaymentOutcome(s.ctx, "LEAD-T1-GGGGGG", models.StatusFailed, nil, nil)
		s.Require().NoError(err)
		s.False(applied, "a failed signal after PAID is a no-op")
		s.Equal(models.StatusPaid, previous)

		paidAfter, err := s.store.GetPayment(s.ctx, "LEAD-T1-GGGGGG")
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, paidAfter.Status)
		s.Equal(paidBefore.PaidAt, paidAfter.PaidAt, "paidAt set exactly once")

		reg, err := s.store.FindByEmail(s.ctx, "efe@example.com")
		s.Require().NoError(err)
		s.Equal(models.StatusPaid, reg.PaymentStatus)
	})

	s.Run("failed then retried returns the pair to pending", func() {
		_, err := s.store.UpsertPending(s.ctx, s.newRequest("femi@example.com"), "LEAD-T1-HHHHHH", 5000, "NGN")
		s.Require().NoError(err)

		_, applied, err := s.store.ApplyPaymentOutcome(s.ctx, "LEAD-T1-HHHHHH", models.StatusFailed, nil, nil)
		s.Require().NoError(err)
		s.True(applied)

		reg, err := s.store.UpsertPending(s.ctx, s.newRequest("femi@example.com"), "LEAD-T2-IIIIII", 5000, "NGN")
		s.Require().NoError(err)
		s.Equal(models.StatusPending, reg.PaymentStatus)
		s.Equal("LEAD-T2-IIIIII", reg.PaymentReference)
	})

	s.Run("unknown reference", func() {
		_, _, err := s.store.ApplyPaymentOutcome(s.ctx, "LEAD-NO-SUCHRF", models.StatusPaid, nil, nil)
		s.Require().ErrorIs(err, models.ErrNotFound)
	})
}

func (s *StoreSuite) TestListPaid() {
	now := time.Now()
	for i, email := range []string{"one@example.com", "two@example.com", "three@example.com"} {
		ref := "LEAD-LP-" + string(rune('A'+i)) + "AAAAA"
		_, err := s.store.UpsertPending(s.ctx, s.newRequest(email), ref, 5000, "NGN")
		s.Require().NoError(err)
		if email != "two@example.com" {
			_, _, err = s.store.ApplyPaymentOutcome(s.ctx, ref, models.StatusPaid, &now, nil)
			s.Require().NoError(err)
		}
	}

	paid, err := s.store.ListPaid(s.ctx)
	s.Require().NoError(err)
	s.Len(paid, 2)
	for _, reg := range paid {
		s.Equal(models.StatusPaid, reg.PaymentStatus)
		s.NotEqual("two@example.com", reg.Email)
	}
	// Newest first.
	for i := 1; i < len(paid); i++ {
		s.False(paid[i-1].CreatedAt.Before(paid[i].CreatedAt))
	}
}
