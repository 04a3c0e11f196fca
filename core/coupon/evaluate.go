package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/academia/core"
)

// errors
var (
	ErrNotFound      = core.NewNotFoundError("coupon_not_found", "coupon not found")
	ErrExpired       = core.NewConflictError("coupon_expired", "coupon is expired or not yet valid")
	ErrNotApplicable = core.NewConflictError("coupon_not_applicable", "coupon does not apply to this course")
	ErrBelowMinimum  = core.NewConflictError("below_minimum_order", "order amount is below the coupon minimum")
	ErrLimitExceeded = core.NewConflictError("usage_limit_exceeded", "coupon usage limit exceeded")
	ErrCodeExists    = core.NewConflictError("coupon_exists", "a coupon with this code already exists")
)

var hundred = decimal.NewFromInt(100)

// Evaluate checks that cpn can discount an order of orderAmount for courseID and computes the discount.
// userUsed is how many times the ordering user already redeemed cpn, checked against UsageLimitPerUser.
// The global count is cpn.TotalUsed, checked against UsageLimit.
func Evaluate(cpn Coupon, orderAmount int64, courseID string, userUsed int, now time.Time) (Result, error) {
	if cpn.Status != StatusActive {
		return Result{}, ErrNotFound
	}
	if now.Before(cpn.ValidFrom) || (cpn.ValidUntil != nil && now.After(*cpn.ValidUntil)) {
		return Result{}, ErrExpired
	}
	if !cpn.appliesTo(courseID) {
		return Result{}, ErrNotApplicable
	}
	if orderAmount < cpn.MinimumOrderAmount {
		return Result{}, ErrBelowMinimum.WithData(map[string]interface{}{"minimum_order_amount": cpn.MinimumOrderAmount})
	}
	if cpn.UsageLimit != nil && cpn.TotalUsed >= *cpn.UsageLimit {
		return Result{}, ErrLimitExceeded
	}
	if cpn.UsageLimitPerUser > 0 && userUsed >= cpn.UsageLimitPerUser {
		return Result{}, ErrLimitExceeded
	}

	discount := Discount(cpn, orderAmount)
	return Result{
		Code:           cpn.Code,
		OrderAmount:    orderAmount,
		DiscountAmount: discount,
		FinalAmount:    orderAmount - discount,
	}, nil
}

// Discount computes the discount cpn gives on orderAmount, never more than orderAmount.
// Percentages are rounded half-up to the minor unit.
func Discount(cpn Coupon, orderAmount int64) int64 {
	if orderAmount <= 0 {
		return 0
	}

	var discount int64
	switch cpn.Type {
	case TypePercentage:
		discount = decimal.NewFromInt(orderAmount).Mul(cpn.Value).Div(hundred).Round(0).IntPart()
		if cpn.MaximumDiscountAmount != nil && discount > *cpn.MaximumDiscountAmount {
			discount = *cpn.MaximumDiscountAmount
		}
	case TypeFixedAmount:
		discount = cpn.Value.Round(0).IntPart()
	}

	if discount < 0 {
		return 0
	}
	if discount > orderAmount {
		return orderAmount
	}
	return discount
}
