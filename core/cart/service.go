package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
)

// normalized drops the guest session of a signed-in owner: users have one cart whatever the session.
func (o Owner) normalized() Owner {
	if o.UserID != "" {
		return Owner{UserID: o.UserID}
	}
	return o
}

func (svc *service) expiry(now time.Time) time.Time {
	return now.Add(svc.conf.Cart.TTL)
}

// activeCart loads the owner's cart locked. An expired cart is abandoned and, like a missing one,
// replaced by a new cart when create is set.
func (svc *service) activeCart(ctx context.Context, owner Owner, create bool, exec core.DBExecutor) (Cart, error) {
	if !owner.Valid() {
		return Cart{}, ErrSessionRequired
	}

	now := NowFunc().UTC()
	c, err := svc.Repo.GetActiveCart(ctx, owner, true, exec)
	switch {
	case err == nil && !c.Expired(now):
		return c, nil
	case err == nil:
		c.Status = StatusAbandoned
		c.UpdatedAt = now
		if _, err = svc.Repo.UpdateCart(ctx, c, exec); err != nil {
			return Cart{}, errors.Wrap(err, "abandoning expired cart")
		}
	case !errors.Is(err, ErrNotFound):
		return Cart{}, errors.Wrap(err, "loading cart")
	}
	if !create {
		return Cart{}, ErrNotFound
	}

	err = svc.Tx.WithinSavepoint(ctx, exec, func(ctx context.Context) error {
		c, err = svc.Repo.CreateCart(ctx, Cart{
			UserID:    owner.UserID,
			SessionID: owner.SessionID,
			Status:    StatusActive,
			Items:     []Item{},
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: svc.expiry(now),
		}, exec)
		return err
	})
	if errors.Is(err, ErrExists) { // created concurrently
		return svc.Repo.GetActiveCart(ctx, owner, true, exec)
	}
	return c, err
}

type mutation func(ctx context.Context, c *Cart, exec core.DBExecutor) error

// update runs fn on the owner's locked cart, then saves it and pushes its expiry back.
func (svc *service) update(ctx context.Context, owner Owner, create bool, fn mutation) (Detail, error) {
	owner = owner.normalized()
	var c Cart
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if c, err = svc.activeCart(ctx, owner, create, exec); err != nil {
			return err
		}
		if fn == nil {
			return nil
		}
		if err = fn(ctx, &c, exec); err != nil {
			return err
		}
		now := NowFunc().UTC()
		c.UpdatedAt = now
		c.ExpiresAt = svc.expiry(now)
		c, err = svc.Repo.UpdateCart(ctx, c, exec)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	return svc.detail(ctx, c)
}

func (svc *service) Get(ctx context.Context, owner Owner) (Detail, error) {
	return svc.update(ctx, owner, true, nil)
}

func (svc *service) AddItem(ctx context.Context, owner Owner, req AddItemRequest) (Detail, error) {
	crs, err := svc.Courses.GetByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return Detail{}, core.NewValidationError(err, core.FieldError{Field: "course_id", Error: "course not found"})
		}
		return Detail{}, errors.Wrap(err, "loading course")
	}
	if !crs.IsPublished {
		return Detail{}, ErrCourseNotForSale
	}

	return svc.update(ctx, owner, true, func(ctx context.Context, c *Cart, exec core.DBExecutor) error {
		for _, it := range c.Items {
			if it.CourseID == crs.ID {
				return nil
			}
		}
		if len(c.Items) > 0 && c.Items[0].Currency != crs.Currency {
			return ErrCurrencyMismatch.WithData(map[string]interface{}{"currency": c.Items[0].Currency})
		}
		it, err := svc.Repo.AddItem(ctx, Item{
			CartID:       c.ID,
			CourseID:     crs.ID,
			CourseTitle:  crs.Title,
			InstructorID: crs.InstructorID,
			Price:        crs.Price,
			Currency:     crs.Currency,
			AddedAt:      NowFunc().UTC(),
		}, exec)
		if err != nil {
			return err
		}
		c.Items = append(c.Items, it)
		return nil
	})
}

func (svc *service) RemoveItem(ctx context.Context, owner Owner, itemID string) (Detail, error) {
	return svc.update(ctx, owner, false, func(ctx context.Context, c *Cart, exec core.DBExecutor) error {
		for i, it := range c.Items {
			if it.ID == itemID {
				if err := svc.Repo.DeleteItem(ctx, c.ID, itemID, exec); err != nil {
					return err
				}
				c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
				return nil
			}
		}
		return ErrItemNotFound
	})
}

func (svc *service) ApplyCoupon(ctx context.Context, owner Owner, code string) (Detail, error) {
	return svc.update(ctx, owner, false, func(ctx context.Context, c *Cart, _ core.DBExecutor) error {
		if len(c.Items) == 0 {
			return ErrEmpty
		}
		_, res, err := svc.bestDiscount(ctx, c.UserID, c.Items, code)
		if err != nil {
			if cerr, ok := core.AsError(err); ok {
				return core.NewValidationError(cerr, core.FieldError{Field: "code", Error: cerr.Message})
			}
			return err
		}
		c.DiscountCode = &res.Code
		return nil
	})
}

func (svc *service) RemoveCoupon(ctx context.Context, owner Owner) (Detail, error) {
	return svc.update(ctx, owner, false, func(_ context.Context, c *Cart, _ core.DBExecutor) error {
		c.DiscountCode = nil
		return nil
	})
}

func (svc *service) Clear(ctx context.Context, owner Owner) (Detail, error) {
	return svc.update(ctx, owner, false, func(ctx context.Context, c *Cart, exec core.DBExecutor) error {
		if err := svc.Repo.DeleteItems(ctx, c.ID, exec); err != nil {
			return errors.Wrap(err, "clearing cart")
		}
		c.Items = []Item{}
		c.DiscountCode = nil
		return nil
	})
}

func (svc *service) Merge(ctx context.Context, userID, sessionID string) (Detail, error) {
	if sessionID == "" {
		return Detail{}, ErrSessionRequired
	}

	var merged Cart
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		guest, err := svc.activeCart(ctx, Owner{SessionID: sessionID}, false, exec)
		if errors.Is(err, ErrNotFound) {
			merged, err = svc.activeCart(ctx, Owner{UserID: userID}, true, exec)
			return err
		}
		if err != nil {
			return err
		}

		now := NowFunc().UTC()
		merged, err = svc.activeCart(ctx, Owner{UserID: userID}, false, exec)
		switch {
		case errors.Is(err, ErrNotFound):
			// the guest cart becomes the user's
			guest.UserID = userID
			guest.SessionID = ""
			merged = guest
		case err != nil:
			return err
		default:
			if err = svc.moveItems(ctx, &guest, &merged, exec); err != nil {
				return err
			}
			guest.Status = StatusConverted
			guest.UpdatedAt = now
			if _, err = svc.Repo.UpdateCart(ctx, guest, exec); err != nil {
				return errors.Wrap(err, "converting guest cart")
			}
		}

		merged.UpdatedAt = now
		merged.ExpiresAt = svc.expiry(now)
		merged, err = svc.Repo.UpdateCart(ctx, merged, exec)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	return svc.detail(ctx, merged)
}

// moveItems adds the guest items to the user cart, skipping the courses it already holds and those
// priced in another currency, then empties the guest cart.
func (svc *service) moveItems(ctx context.Context, guest, usr *Cart, exec core.DBExecutor) error {
	held := make(map[string]bool, len(usr.Items))
	for _, it := range usr.Items {
		held[it.CourseID] = true
	}
	for _, it := range guest.Items {
		if held[it.CourseID] || (len(usr.Items) > 0 && usr.Items[0].Currency != it.Currency) {
			continue
		}
		it.ID = ""
		it.CartID = usr.ID
		added, err := svc.Repo.AddItem(ctx, it, exec)
		if err != nil {
			return errors.Wrap(err, "moving cart item")
		}
		usr.Items = append(usr.Items, added)
		held[it.CourseID] = true
	}
	if usr.DiscountCode == nil {
		usr.DiscountCode = guest.DiscountCode
	}

	if err := svc.Repo.DeleteItems(ctx, guest.ID, exec); err != nil {
		return errors.Wrap(err, "emptying guest cart")
	}
	guest.Items = []Item{}
	return nil
}

func (svc *service) PurgeExpired(ctx context.Context) (int, error) {
	now := NowFunc().UTC()
	n, err := svc.Repo.PurgeCarts(ctx, now, now.Add(-svc.conf.Cart.TTL))
	if err != nil {
		return 0, errors.Wrap(err, "purging carts")
	}
	svc.Logger.Info(fmt.Sprintf("cart.PurgeExpired: %d cart(s) deleted", n))
	return n, nil
}

// bestDiscount quotes the coupon on every paid item and picks the one it takes the most off.
// When it applies to none, the error of the last quote is returned.
func (svc *service) bestDiscount(ctx context.Context, userID string, items []Item, code string) (Item, coupon.Result, error) {
	var (
		best    Item
		bestRes coupon.Result
		lastErr error = coupon.ErrNotApplicable
	)
	for _, it := range items {
		if it.Price == 0 {
			continue
		}
		res, err := svc.Coupons.Quote(ctx, coupon.ApplyRequest{
			Code:        code,
			OrderAmount: it.Price,
			UserID:      userID,
			CourseID:    it.CourseID,
		})
		if err != nil {
			if _, ok := core.AsError(err); !ok {
				return Item{}, coupon.Result{}, errors.Wrap(err, "quoting coupon")
			}
			lastErr = err
			continue
		}
		if bestRes.Code == "" || res.DiscountAmount > bestRes.DiscountAmount {
			best, bestRes = it, res
		}
	}
	if bestRes.Code == "" {
		return Item{}, coupon.Result{}, lastErr
	}
	return best, bestRes, nil
}

func (svc *service) detail(ctx context.Context, c Cart) (Detail, error) {
	t := Totals{ItemCount: len(c.Items)}
	for _, it := range c.Items {
		t.TotalAmount += it.Price
		t.Currency = it.Currency
	}
	t.FinalAmount = t.TotalAmount

	if c.DiscountCode != nil && len(c.Items) > 0 {
		it, res, err := svc.bestDiscount(ctx, c.UserID, c.Items, *c.DiscountCode)
		if err != nil {
			cerr, ok := core.AsError(err)
			if !ok {
				return Detail{}, err
			}
			t.CouponError = cerr.Message
		} else {
			t.DiscountAmount = res.DiscountAmount
			t.FinalAmount -= res.DiscountAmount
			t.DiscountedCourseID = it.CourseID
		}
	}
	return Detail{Cart: c, Totals: t}, nil
}
