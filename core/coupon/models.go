package coupon

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/academia/core"
)

type Type string

const (
	TypePercentage  Type = "percentage"
	TypeFixedAmount Type = "fixed_amount"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Coupon struct {
	Code                  string          `json:"code"`
	Name                  string          `json:"name"`
	Description           string          `json:"description"`
	Type                  Type            `json:"type"`
	Value                 decimal.Decimal `json:"value"` // percent, or minor units for fixed amounts
	MinimumOrderAmount    int64           `json:"minimum_order_amount"`
	MaximumDiscountAmount *int64          `json:"maximum_discount_amount"`
	UsageLimit            *int            `json:"usage_limit"` // nil: unlimited
	UsageLimitPerUser     int             `json:"usage_limit_per_user"`
	ValidFrom             time.Time       `json:"valid_from"`
	ValidUntil            *time.Time      `json:"valid_until"`
	Status                Status          `json:"status"`
	CourseIDs             []string        `json:"course_ids"` // empty: every course
	TotalUsed             int             `json:"total_used"`
	TotalDiscountGiven    int64           `json:"total_discount_given"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (c Coupon) appliesTo(courseID string) bool {
	if len(c.CourseIDs) == 0 {
		return true
	}
	for _, id := range c.CourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}

// Usage is one recorded application of a coupon.
type Usage struct {
	ID             string    `json:"id"`
	CouponCode     string    `json:"coupon_code"`
	UserID         string    `json:"user_id"`
	EnrollmentID   string    `json:"enrollment_id,omitempty"`
	OrderAmount    int64     `json:"order_amount"`
	DiscountAmount int64     `json:"discount_amount"`
	UsedAt         time.Time `json:"used_at"`
}

// Result is the outcome of a successful evaluation.
type Result struct {
	Code           string `json:"code"`
	OrderAmount    int64  `json:"order_amount"`
	DiscountAmount int64  `json:"discount_amount"`
	FinalAmount    int64  `json:"final_amount"`
}

type NewCoupon struct {
	Code                  string     `json:"code" validate:"required,max=50,alphanum_"`
	Name                  string     `json:"name" validate:"required,max=100"`
	Description           string     `json:"description" validate:"max=1000"`
	Type                  Type       `json:"type" validate:"required,oneof=percentage fixed_amount"`
	Value                 string     `json:"value" validate:"required,numeric"`
	MinimumOrderAmount    int64      `json:"minimum_order_amount" validate:"min=0"`
	MaximumDiscountAmount *int64     `json:"maximum_discount_amount" validate:"omitempty,min=1"`
	UsageLimit            *int       `json:"usage_limit" validate:"omitempty,min=1"`
	UsageLimitPerUser     int        `json:"usage_limit_per_user" validate:"min=0"`
	ValidFrom             *time.Time `json:"valid_from"`
	ValidUntil            *time.Time `json:"valid_until"`
	CourseIDs             []string   `json:"course_ids" validate:"omitempty,dive,uuid4"`
}

func (nc *NewCoupon) Validate(validate *validator.Validate) (decimal.Decimal, error) {
	nc.Code = strings.ToUpper(core.CleanString(nc.Code))
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	nc.Value = core.CleanString(nc.Value)
	if nc.UsageLimitPerUser == 0 {
		nc.UsageLimitPerUser = 1
	}

	if err := validate.Struct(nc); err != nil {
		return decimal.Decimal{}, err
	}

	value, err := decimal.NewFromString(nc.Value)
	if err != nil || !value.IsPositive() {
		return decimal.Decimal{}, core.NewValidationError(nil, core.FieldError{Field: "value", Error: "value must be a positive number"})
	}
	if nc.Type == TypePercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Decimal{}, core.NewValidationError(nil, core.FieldError{Field: "value", Error: "a percentage cannot exceed 100"})
	}
	if nc.ValidFrom != nil && nc.ValidUntil != nil && !nc.ValidUntil.After(*nc.ValidFrom) {
		return decimal.Decimal{}, core.NewValidationError(nil, core.FieldError{Field: "valid_until", Error: "valid_until must be after valid_from"})
	}
	return value, nil
}

type QueryFilter struct {
	Status Status `query:"status"`
}
