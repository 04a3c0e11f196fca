package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/storage/database"
)

type couponRow struct {
	Code                  string          `db:"code"`
	Name                  string          `db:"name"`
	Description           string          `db:"description"`
	Type                  string          `db:"type"`
	Value                 decimal.Decimal `db:"value"`
	MinimumOrderAmount    int64           `db:"minimum_order_amount"`
	MaximumDiscountAmount null.Int64      `db:"maximum_discount_amount"`
	UsageLimit            null.Int        `db:"usage_limit"`
	UsageLimitPerUser     int             `db:"usage_limit_per_user"`
	ValidFrom             time.Time       `db:"valid_from"`
	ValidUntil            null.Time       `db:"valid_until"`
	Status                string          `db:"status"`
	CourseIDs             pq.StringArray  `db:"course_ids"`
	TotalUsed             int             `db:"total_used"`
	TotalDiscountGiven    int64           `db:"total_discount_given"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

const couponColumns = `code, name, description, type, value, minimum_order_amount, maximum_discount_amount,
	usage_limit, usage_limit_per_user, valid_from, valid_until, status, course_ids, total_used,
	total_discount_given, created_at, updated_at`

func toCouponRow(cpn coupon.Coupon) couponRow {
	ids := cpn.CourseIDs
	if ids == nil {
		ids = []string{}
	}
	row := couponRow{
		Code:                  cpn.Code,
		Name:                  cpn.Name,
		Description:           cpn.Description,
		Type:                  string(cpn.Type),
		Value:                 cpn.Value,
		MinimumOrderAmount:    cpn.MinimumOrderAmount,
		MaximumDiscountAmount: null.Int64FromPtr(cpn.MaximumDiscountAmount),
		UsageLimit:            null.IntFromPtr(cpn.UsageLimit),
		UsageLimitPerUser:     cpn.UsageLimitPerUser,
		ValidFrom:             cpn.ValidFrom.UTC(),
		Status:                string(cpn.Status),
		CourseIDs:             ids,
		TotalUsed:             cpn.TotalUsed,
		TotalDiscountGiven:    cpn.TotalDiscountGiven,
		CreatedAt:             cpn.CreatedAt.UTC(),
		UpdatedAt:             cpn.UpdatedAt.UTC(),
	}
	if cpn.ValidUntil != nil {
		row.ValidUntil = null.TimeFrom(cpn.ValidUntil.UTC())
	}
	return row
}

func (r couponRow) coupon() coupon.Coupon {
	cpn := coupon.Coupon{
		Code:                  r.Code,
		Name:                  r.Name,
		Description:           r.Description,
		Type:                  coupon.Type(r.Type),
		Value:                 r.Value,
		MinimumOrderAmount:    r.MinimumOrderAmount,
		MaximumDiscountAmount: r.MaximumDiscountAmount.Ptr(),
		UsageLimit:            r.UsageLimit.Ptr(),
		UsageLimitPerUser:     r.UsageLimitPerUser,
		ValidFrom:             r.ValidFrom.UTC(),
		Status:                coupon.Status(r.Status),
		CourseIDs:             r.CourseIDs,
		TotalUsed:             r.TotalUsed,
		TotalDiscountGiven:    r.TotalDiscountGiven,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
	if r.ValidUntil.Valid {
		t := r.ValidUntil.Time.UTC()
		cpn.ValidUntil = &t
	}
	return cpn
}

type couponRepository struct {
	baseRepo
}

var _ coupon.Repository = (*couponRepository)(nil) // interface compliance check

func NewCouponRepository(exec core.DBExecutor) coupon.Repository {
	return &couponRepository{baseRepo{exec: exec}}
}

func (repo couponRepository) CreateCoupon(ctx context.Context, cpn coupon.Coupon, exec ...core.DBExecutor) (coupon.Coupon, error) {
	row := toCouponRow(cpn)
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`INSERT INTO coupon (`+couponColumns+`)
		VALUES (:code, :name, :description, :type, :value, :minimum_order_amount, :maximum_discount_amount,
			:usage_limit, :usage_limit_per_user, :valid_from, :valid_until, :status, :course_ids, :total_used,
			:total_discount_given, :created_at, :updated_at)`,
		row)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return coupon.Coupon{}, coupon.ErrCodeExists
		}
		return coupon.Coupon{}, errors.Wrap(err, "inserting coupon")
	}
	return row.coupon(), nil
}

func (repo couponRepository) GetCoupon(ctx context.Context, code string, forUpdate bool, exec ...core.DBExecutor) (coupon.Coupon, error) {
	var row couponRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+couponColumns+` FROM coupon WHERE code = $1`+lockClause(forUpdate), code)
	if err != nil {
		return coupon.Coupon{}, trapNoRowsErr(err, coupon.ErrNotFound, "finding coupon")
	}
	return row.coupon(), nil
}

func (repo couponRepository) QueryCoupons(ctx context.Context, filter coupon.QueryFilter, exec ...core.DBExecutor) ([]coupon.Coupon, error) {
	q := `SELECT ` + couponColumns + ` FROM coupon`
	var args []interface{}
	if filter.Status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	q += ` ORDER BY created_at DESC`

	var rows []couponRow
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying coupons")
	}
	coupons := make([]coupon.Coupon, 0, len(rows))
	for _, r := range rows {
		coupons = append(coupons, r.coupon())
	}
	return coupons, nil
}

func (repo couponRepository) CountUserUsages(ctx context.Context, code, userID string, exec ...core.DBExecutor) (int, error) {
	var n int
	err := repo.getExec(exec).GetContext(ctx, &n,
		`SELECT COUNT(*) FROM coupon_usage WHERE coupon_code = $1 AND user_id = $2`, code, userID)
	if err != nil {
		return 0, errors.Wrap(err, "counting coupon usages")
	}
	return n, nil
}

func (repo couponRepository) RecordUsage(ctx context.Context, usg coupon.Usage, exec ...core.DBExecutor) (coupon.Usage, error) {
	exe := repo.getExec(exec)
	usg.ID = uuid.New().String()
	_, err := exe.ExecContext(ctx,
		`INSERT INTO coupon_usage (id, coupon_code, user_id, enrollment_id, order_amount, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usg.ID, usg.CouponCode, usg.UserID, null.NewString(usg.EnrollmentID, usg.EnrollmentID != ""),
		usg.OrderAmount, usg.DiscountAmount, usg.UsedAt.UTC())
	if err != nil {
		return coupon.Usage{}, errors.Wrap(err, "inserting coupon usage")
	}

	_, err = exe.ExecContext(ctx,
		`UPDATE coupon SET total_used = total_used + 1, total_discount_given = total_discount_given + $2, updated_at = $3
		WHERE code = $1`,
		usg.CouponCode, usg.DiscountAmount, usg.UsedAt.UTC())
	if err != nil {
		return coupon.Usage{}, errors.Wrap(err, "updating coupon totals")
	}
	return usg, nil
}
