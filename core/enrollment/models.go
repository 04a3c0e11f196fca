package enrollment

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/payment"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPaymentPending Status = "payment_pending"
	StatusEnrolled       Status = "enrolled"
	StatusActivating     Status = "activating"
	StatusActive         Status = "active"
	StatusCancelled      Status = "cancelled"
)

// transitions is the complete lifecycle; a move missing here is refused.
var transitions = map[Status][]Status{
	StatusPending:        {StatusPaymentPending, StatusEnrolled},
	StatusPaymentPending: {StatusEnrolled, StatusCancelled},
	StatusEnrolled:       {StatusActivating, StatusActive},
	StatusActivating:     {StatusActivating, StatusActive},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaymentPending, StatusEnrolled, StatusActivating, StatusActive, StatusCancelled:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, st := range transitions[s] {
		if st == to {
			return true
		}
	}
	return false
}

// errors
var (
	ErrNotFound          = core.NewNotFoundError("enrollment_not_found", "enrollment not found")
	ErrAlreadyEnrolled   = core.NewConflictError("already_enrolled", "you are already enrolled in this course")
	ErrInvalidTransition = core.NewConflictError("invalid_transition", "this enrollment cannot move to the requested status")
	ErrInvalidState      = core.NewConflictError("invalid_state", "this operation is not allowed in the current enrollment status")
	ErrPaymentInProgress = core.NewRetryableConflictError("payment_in_progress", "a payment for this enrollment is already being processed")
	ErrRetryNotEligible  = core.NewRetryableConflictError("retry_not_eligible", "activation cannot be retried yet")
	ErrActivationFailed  = core.NewUnavailableError("activation_failed", "course activation failed, please retry later")
	ErrRetriesExhausted  = core.NewRetryExhaustedError("activation_retries_exhausted", "course activation failed too many times, please contact support")
)

type Enrollment struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	CourseID           string         `json:"course_id"`
	FullName           string         `json:"full_name"`
	Email              string         `json:"email"`
	Status             Status         `json:"status"`
	PaymentStatus      payment.Status `json:"payment_status"`
	PaymentAmount      int64          `json:"payment_amount"` // list price quoted at registration
	DiscountAmount     int64          `json:"discount_amount"`
	DiscountCode       *string        `json:"discount_code"`
	FinalAmount        int64          `json:"final_amount"`
	Currency           string         `json:"currency"`
	AccessGranted      bool           `json:"access_granted"`
	EnrolledAt         time.Time      `json:"enrolled_at"`
	ActivatedAt        *time.Time     `json:"activated_at"`
	ActivationAttempts int            `json:"activation_attempts"`
	MaxRetries         int            `json:"max_retries"`
	NextRetryAt        *time.Time     `json:"next_retry_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (e *Enrollment) transition(to Status) error {
	if !e.Status.CanTransitionTo(to) {
		return ErrInvalidTransition.WithData(map[string]interface{}{"from": e.Status, "to": to})
	}
	e.Status = to
	return nil
}

func (e Enrollment) RetriesLeft() int {
	if left := e.MaxRetries - e.ActivationAttempts; left > 0 {
		return left
	}
	return 0
}

func (e Enrollment) retryData() map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id": e.ID,
		"attempts":      e.ActivationAttempts,
		"retries_left":  e.RetriesLeft(),
		"next_retry_at": e.NextRetryAt,
	}
}

// Backoff is the wait after the given failed attempt: base, 2*base, 4*base...
func Backoff(attempts int, base time.Duration) time.Duration {
	if attempts < 1 {
		return 0
	}
	return time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
}

// NextRetry decides whether an activation may be attempted again after `attempts` failures,
// the last one at `last`, and when it becomes eligible.
func NextRetry(attempts, max int, last time.Time, base time.Duration) (allowed bool, at time.Time) {
	if attempts >= max {
		return false, time.Time{}
	}
	return true, last.Add(Backoff(attempts, base))
}

type RegisterRequest struct {
	CourseID     string `json:"course_id" validate:"required"`
	FullName     string `json:"full_name" validate:"required,min=2,max=100,personname"`
	Email        string `json:"email" validate:"required,email,max=255"`
	DiscountCode string `json:"discount_code" validate:"max=50"`
}

func (r *RegisterRequest) Validate(validate *validator.Validate) error {
	r.CourseID = core.CleanString(r.CourseID, true /* lower */)
	r.FullName = core.CleanString(r.FullName)
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.DiscountCode = core.CleanString(r.DiscountCode)
	return validate.Struct(r)
}

type RegisterResult struct {
	Enrollment      Enrollment `json:"enrollment"`
	PaymentRequired bool       `json:"payment_required"`
	PaymentURL      string     `json:"payment_url,omitempty"`
	AccessImmediate bool       `json:"access_immediate"`
}

type PaymentRequest struct {
	EnrollmentID string          `json:"enrollment_id" validate:"required"`
	Method       payment.Method  `json:"method" validate:"required,oneof=card wallet bank_transfer"`
	Details      payment.Details `json:"details"`
}

func (r *PaymentRequest) Validate(validate *validator.Validate) error {
	r.EnrollmentID = core.CleanString(r.EnrollmentID, true /* lower */)
	r.Details.HolderName = core.CleanString(r.Details.HolderName)
	if err := validate.Struct(r); err != nil {
		return err
	}
	if fe := payment.CheckDetails(r.Method, r.Details); fe != nil {
		fe.Field = "details." + fe.Field
		return core.NewValidationError(nil, *fe)
	}
	return nil
}

type PaymentResult struct {
	Enrollment Enrollment      `json:"enrollment"`
	Payment    payment.Payment `json:"payment"`
}

type Detail struct {
	Enrollment
	Payments []payment.Payment `json:"payments"`
}

type QueryFilter struct {
	Status Status `query:"status"`
}

type ListResult struct {
	Items      []Enrollment    `json:"items"`
	Pagination core.Pagination `json:"pagination"`
}
