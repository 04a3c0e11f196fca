package payment

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/trezcool/academia/core"
)

type Method string

const (
	MethodCard         Method = "card"
	MethodWallet       Method = "wallet"
	MethodBankTransfer Method = "bank_transfer"
	MethodCoupon       Method = "coupon" // zero-amount orders fully covered by a coupon
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

func (s Status) IsTerminal() bool { return s != StatusPending }

// Gateway failure codes raised by the adapter itself.
const (
	CodeGatewayTimeout = "gateway_timeout"
	CodeGatewayError   = "gateway_error"
	CodeDeclined       = "payment_declined"
)

var ErrNotFound = core.NewNotFoundError("payment_not_found", "payment not found")

// Payment is one attempt to collect money for an enrollment.
type Payment struct {
	ID             string    `json:"id"`
	EnrollmentID   string    `json:"enrollment_id"`
	UserID         string    `json:"user_id"`
	Method         Method    `json:"method"`
	Status         Status    `json:"status"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Gateway        string    `json:"gateway"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	CardLast4      string    `json:"card_last4,omitempty"`
	HolderName     string    `json:"holder_name,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Details holds the instrument data of a charge. It is never persisted.
type Details struct {
	CardNumber  string `json:"card_number" validate:"omitempty,numeric,min=12,max=19"`
	ExpiryMonth int    `json:"expiry_month" validate:"required_with=CardNumber,omitempty,min=1,max=12"`
	ExpiryYear  int    `json:"expiry_year" validate:"required_with=CardNumber,omitempty,min=2000"`
	CVV         string `json:"cvv" validate:"required_with=CardNumber,omitempty,numeric,min=3,max=4"`
	HolderName  string `json:"holder_name" validate:"max=100"`

	CardToken     string `json:"card_token"`
	SourceID      string `json:"source_id"`
	BankReference string `json:"bank_reference" validate:"max=100"`
}

// Instrument is the masked summary of Details that may be stored.
type Instrument struct {
	Last4      string `json:"last4,omitempty"`
	HolderName string `json:"holder_name,omitempty"`
}

// Mask keeps the last four digits of the card number (or bank reference) and the holder name.
func Mask(d Details) Instrument {
	digits := d.CardNumber
	if digits == "" {
		digits = d.BankReference
	}
	digits = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || unicode.IsLetter(r) {
			return r
		}
		return -1
	}, digits)
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return Instrument{Last4: digits, HolderName: core.CleanString(d.HolderName)}
}

type ChargeRequest struct {
	PaymentID   string
	Amount      int64
	Currency    string
	Method      Method
	Description string
	Details     Details
}

type ChargeResult struct {
	Success        bool
	TransactionRef string
	FailureCode    string
	FailureMessage string
	Instrument     Instrument
}

// Gateway charges an instrument. A declined charge is a ChargeResult with Success unset;
// errors are reserved for transport failures and timeouts.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

type Repository interface {
	CreatePayment(ctx context.Context, pmt Payment, exec ...core.DBExecutor) (Payment, error)
	// UpdatePayment only updates pending payments; terminal payments are immutable.
	UpdatePayment(ctx context.Context, pmt Payment, exec ...core.DBExecutor) (Payment, error)
	GetPendingPayment(ctx context.Context, enrollmentID string, exec ...core.DBExecutor) (Payment, error)
	QueryPayments(ctx context.Context, enrollmentID string, exec ...core.DBExecutor) ([]Payment, error)
	// QueryPendingPayments returns the pending payments created before createdBefore, oldest first.
	QueryPendingPayments(ctx context.Context, createdBefore time.Time, exec ...core.DBExecutor) ([]Payment, error)
}

// CheckDetails reports the first field a charge of method cannot go without.
func CheckDetails(method Method, d Details) *core.FieldError {
	switch method {
	case MethodCard:
		if d.CardNumber == "" && d.CardToken == "" {
			return &core.FieldError{Field: "card_number", Error: "a card number or card token is required"}
		}
	case MethodWallet:
		if d.SourceID == "" {
			return &core.FieldError{Field: "source_id", Error: "a wallet source is required"}
		}
	case MethodBankTransfer:
		if d.SourceID == "" && d.BankReference == "" {
			return &core.FieldError{Field: "bank_reference", Error: "a bank reference or source is required"}
		}
	default:
		return &core.FieldError{Field: "method", Error: "unsupported payment method"}
	}
	return nil
}
