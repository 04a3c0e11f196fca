package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/coupon"
)

type couponRepository struct {
	db     *table[string, coupon.Coupon]
	usages *table[string, coupon.Usage]
}

var _ coupon.Repository = (*couponRepository)(nil) // interface compliance check

func NewCouponRepository(db *DB) coupon.Repository {
	return &couponRepository{db: db.coupon, usages: db.couponUsage}
}

func (repo *couponRepository) CreateCoupon(_ context.Context, cpn coupon.Coupon, _ ...core.DBExecutor) (coupon.Coupon, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[cpn.Code]; ok {
		return coupon.Coupon{}, coupon.ErrCodeExists
	}
	repo.db.rows[cpn.Code] = cpn
	return cpn, nil
}

func (repo *couponRepository) GetCoupon(_ context.Context, code string, _ bool, _ ...core.DBExecutor) (coupon.Coupon, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cpn, ok := repo.db.rows[code]; ok {
		return cpn, nil
	}
	return coupon.Coupon{}, coupon.ErrNotFound
}

func (repo *couponRepository) QueryCoupons(_ context.Context, filter coupon.QueryFilter, _ ...core.DBExecutor) ([]coupon.Coupon, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	coupons := make([]coupon.Coupon, 0, len(repo.db.rows))
	for _, cpn := range repo.db.rows {
		if filter.Status == "" || cpn.Status == filter.Status {
			coupons = append(coupons, cpn)
		}
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].CreatedAt.After(coupons[j].CreatedAt) })
	return coupons, nil
}

func (repo *couponRepository) CountUserUsages(_ context.Context, code, userID string, _ ...core.DBExecutor) (int, error) {
	repo.usages.RLock()
	defer repo.usages.RUnlock()

	var n int
	for _, usg := range repo.usages.rows {
		if usg.CouponCode == code && usg.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (repo *couponRepository) RecordUsage(_ context.Context, usg coupon.Usage, _ ...core.DBExecutor) (coupon.Usage, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.usages.Lock()
	defer repo.usages.Unlock()

	cpn, ok := repo.db.rows[usg.CouponCode]
	if !ok {
		return coupon.Usage{}, coupon.ErrNotFound
	}
	usg.ID = uuid.New().String()
	repo.usages.rows[usg.ID] = usg

	cpn.TotalUsed++
	cpn.TotalDiscountGiven += usg.DiscountAmount
	cpn.UpdatedAt = usg.UsedAt
	repo.db.rows[cpn.Code] = cpn
	return usg, nil
}
