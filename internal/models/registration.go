package models

import (
	"encoding/json"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "PENDING"
	StatusPaid    PaymentStatus = "PAID"
	StatusFailed  PaymentStatus = "FAILED"
)

var (
	// ErrNotFound is returned when no registration or payment matches the
	// given key.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyPaid is returned when a registration for the email exists
	// and its payment has already been confirmed.
	ErrAlreadyPaid = errors.New("registration already paid")
)

// Registration is one attendee's form submission plus its payment status.
// The email is the natural key; PaymentReference links it to its Payment row.
type Registration struct {
	ID               string        `json:"id"`
	FirstName        string        `json:"firstName"`
	LastName         string        `json:"lastName"`
	Phone            string        `json:"phone"`
	Email            string        `json:"email"`
	IsMember         bool          `json:"isMember"`
	Branch           string        `json:"branch,omitempty"`
	PhysicalCourse   string        `json:"physicalCourse,omitempty"`
	OnlineCourses    []string      `json:"onlineCourses,omitempty"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	PaymentReference string        `json:"paymentReference"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Payment records one checkout attempt. Reference is the external-facing
// identifier shared with the provider; RawResponse keeps the provider's
// verify payload for audit.
type Payment struct {
	ID             int64           `json:"id"`
	RegistrationID string          `json:"registrationId"`
	Reference      string          `json:"reference"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PaymentStatus   `json:"status"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	RawResponse    json.RawMessage `json:"rawResponse,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CreateRegistrationRequest is the form submission body.
type CreateRegistrationRequest struct {
	FirstName      string   `json:"firstName"`
	LastName       string   `json:"lastName"`
	Phone          string   `json:"phone"`
	Email          string   `json:"email"`
	IsMember       *bool    `json:"isMember"`
	Branch         string   `json:"branch"`
	PhysicalCourse string   `json:"physicalCourse"`
	OnlineCourses  []string `json:"onlineCourses"`
}

// NormalizedEmail returns the trimmed, lower-cased form used as the
// registration's natural key.
func (r *CreateRegistrationRequest) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}

// ValidationErrors maps field names to user-facing messages.
type ValidationErrors map[string]string

var phoneRe = regexp.MustCompile(`^\+?[\d\s\-()]{7,15}$`)

// Validate checks the form submission and returns a field-keyed error map.
// An empty map means the request is acceptable.
func (r *CreateRegistrationRequest) Validate() ValidationErrors {
	errs := ValidationErrors{}

	if strings.TrimSpace(r.FirstName) == "" {
		errs["firstName"] = "First name is required."
	}
	if strings.TrimSpace(r.LastName) == "" {
		errs["lastName"] = "Last name is required."
	}

	phone := strings.TrimSpace(r.Phone)
	if phone == "" {
		errs["phone"] = "Phone number is required."
	} else if !phoneRe.MatchString(phone) {
		errs["phone"] = "Please enter a valid phone number."
	}

	email := strings.TrimSpace(r.Email)
	if email == "" {
		errs["email"] = "Email address is required."
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs["email"] = "Please enter a valid email address."
	}

	if r.IsMember == nil {
		errs["isMember"] = "Please indicate your membership status."
	} else if *r.IsMember && strings.TrimSpace(r.Branch) == "" {
		errs["branch"] = "Please select your branch."
	}

	// At least one course, physical or online, must be chosen.
	if strings.TrimSpace(r.PhysicalCourse) == "" && len(r.OnlineCourses) == 0 {
		errs["physicalCourse"] = "Please select a physical or online course."
	}
	if len(r.OnlineCourses) > 2 {
		errs["onlineCourses"] = "You may select at most two online courses."
	}

	return errs
}
