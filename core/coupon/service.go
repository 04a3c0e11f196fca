package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/academia/core"
)

var NowFunc = time.Now // mockable

type (
	Repository interface {
		CreateCoupon(ctx context.Context, cpn Coupon, exec ...core.DBExecutor) (Coupon, error)
		// GetCoupon locks the coupon row until the end of the transaction when forUpdate is set.
		GetCoupon(ctx context.Context, code string, forUpdate bool, exec ...core.DBExecutor) (Coupon, error)
		QueryCoupons(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Coupon, error)
		CountUserUsages(ctx context.Context, code, userID string, exec ...core.DBExecutor) (int, error)
		// RecordUsage inserts usg and adds it to the coupon totals.
		RecordUsage(ctx context.Context, usg Usage, exec ...core.DBExecutor) (Usage, error)
	}

	ApplyRequest struct {
		Code         string
		OrderAmount  int64
		UserID       string
		CourseID     string
		EnrollmentID string
	}

	Service interface {
		// Apply evaluates the coupon and records its usage within the caller's transaction.
		Apply(ctx context.Context, req ApplyRequest, exec core.DBExecutor) (Result, error)
		// Quote evaluates the coupon without recording anything.
		Quote(ctx context.Context, req ApplyRequest) (Result, error)
		Create(ctx context.Context, nc NewCoupon) (Coupon, error)
		Query(ctx context.Context, filter QueryFilter) ([]Coupon, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func normalizeCode(code string) string {
	return strings.ToUpper(core.CleanString(code))
}

func (svc *service) evaluate(ctx context.Context, req ApplyRequest, forUpdate bool, exec ...core.DBExecutor) (Result, error) {
	cpn, err := svc.repo.GetCoupon(ctx, normalizeCode(req.Code), forUpdate, exec...)
	if err != nil {
		return Result{}, err
	}
	var used int
	if req.UserID != "" { // guests have no usages yet
		if used, err = svc.repo.CountUserUsages(ctx, cpn.Code, req.UserID, exec...); err != nil {
			return Result{}, errors.Wrap(err, "counting coupon usages")
		}
	}
	return Evaluate(cpn, req.OrderAmount, req.CourseID, used, NowFunc().UTC())
}

func (svc *service) Apply(ctx context.Context, req ApplyRequest, exec core.DBExecutor) (Result, error) {
	res, err := svc.evaluate(ctx, req, true, exec)
	if err != nil {
		return Result{}, err
	}
	_, err = svc.repo.RecordUsage(ctx, Usage{
		CouponCode:     res.Code,
		UserID:         req.UserID,
		EnrollmentID:   req.EnrollmentID,
		OrderAmount:    res.OrderAmount,
		DiscountAmount: res.DiscountAmount,
		UsedAt:         NowFunc().UTC(),
	}, exec)
	if err != nil {
		return Result{}, errors.Wrap(err, "recording coupon usage")
	}
	return res, nil
}

func (svc *service) Quote(ctx context.Context, req ApplyRequest) (Result, error) {
	return svc.evaluate(ctx, req, false)
}

func (svc *service) Create(ctx context.Context, nc NewCoupon) (Coupon, error) {
	value, err := decimal.NewFromString(nc.Value)
	if err != nil {
		return Coupon{}, errors.Wrap(err, "parsing coupon value")
	}
	now := NowFunc().UTC()
	validFrom := now
	if nc.ValidFrom != nil {
		validFrom = nc.ValidFrom.UTC()
	}
	courseIDs := nc.CourseIDs
	if courseIDs == nil {
		courseIDs = []string{}
	}

	return svc.repo.CreateCoupon(ctx, Coupon{
		Code:                  normalizeCode(nc.Code),
		Name:                  nc.Name,
		Description:           nc.Description,
		Type:                  nc.Type,
		Value:                 value,
		MinimumOrderAmount:    nc.MinimumOrderAmount,
		MaximumDiscountAmount: nc.MaximumDiscountAmount,
		UsageLimit:            nc.UsageLimit,
		UsageLimitPerUser:     nc.UsageLimitPerUser,
		ValidFrom:             validFrom,
		ValidUntil:            nc.ValidUntil,
		Status:                StatusActive,
		CourseIDs:             courseIDs,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Coupon, error) {
	return svc.repo.QueryCoupons(ctx, filter)
}
