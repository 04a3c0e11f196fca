package coupon

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)

	welcome := Coupon{
		Code:              "WELCOME10",
		Type:              TypePercentage,
		Value:             decimal.NewFromInt(10),
		UsageLimitPerUser: 1,
		ValidFrom:         lastWeek,
		Status:            StatusActive,
	}
	with := func(mut func(c *Coupon)) Coupon {
		c := welcome
		mut(&c)
		return c
	}

	tests := []struct {
		name         string
		cpn          Coupon
		order        int64
		courseID     string
		userUsed     int
		wantDiscount int64
		wantErr      error
	}{
		{name: "percentage", cpn: welcome, order: 299000, wantDiscount: 29900},
		{name: "percentage rounds half up", cpn: with(func(c *Coupon) { c.Value = decimal.NewFromFloat(12.5) }), order: 1004, wantDiscount: 126},
		{name: "percentage capped", cpn: with(func(c *Coupon) { c.MaximumDiscountAmount = int64Ptr(5000) }), order: 299000, wantDiscount: 5000},
		{
			name:         "fixed capped at order",
			cpn:          with(func(c *Coupon) { c.Type, c.Value = TypeFixedAmount, decimal.NewFromInt(50000) }),
			order:        30000,
			wantDiscount: 30000,
		},
		{name: "full percentage", cpn: with(func(c *Coupon) { c.Value = decimal.NewFromInt(100) }), order: 4999, wantDiscount: 4999},
		{name: "inactive", cpn: with(func(c *Coupon) { c.Status = StatusInactive }), order: 1000, wantErr: ErrNotFound},
		{name: "expired", cpn: with(func(c *Coupon) { c.ValidUntil = &yesterday }), order: 1000, wantErr: ErrExpired},
		{name: "not yet valid", cpn: with(func(c *Coupon) { c.ValidFrom = now.Add(time.Hour) }), order: 1000, wantErr: ErrExpired},
		{
			name:     "other course",
			cpn:      with(func(c *Coupon) { c.CourseIDs = []string{"course-a"} }),
			order:    1000,
			courseID: "course-b",
			wantErr:  ErrNotApplicable,
		},
		{
			name:         "listed course",
			cpn:          with(func(c *Coupon) { c.CourseIDs = []string{"course-a"} }),
			order:        1000,
			courseID:     "course-a",
			wantDiscount: 100,
		},
		{name: "below minimum", cpn: with(func(c *Coupon) { c.MinimumOrderAmount = 5000 }), order: 4999, wantErr: ErrBelowMinimum},
		{
			name:    "global limit",
			cpn:     with(func(c *Coupon) { c.UsageLimit, c.TotalUsed = intPtr(3), 3 }),
			order:   1000,
			wantErr: ErrLimitExceeded,
		},
		{name: "per user limit", cpn: welcome, order: 1000, userUsed: 1, wantErr: ErrLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(tt.cpn, tt.order, tt.courseID, tt.userUsed, now)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDiscount, res.DiscountAmount)
			assert.Equal(t, tt.order-tt.wantDiscount, res.FinalAmount)
			assert.GreaterOrEqual(t, res.FinalAmount, int64(0))
		})
	}
}
