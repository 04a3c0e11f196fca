package cart

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/enrollment"
)

// Checkout registers the user to the cart courses one by one; each registration commits on its own.
// The registered courses leave the cart, as do those the user already holds. The others stay, with
// their error on the result line. The coupon goes to the course it discounts the most.
func (svc *service) Checkout(ctx context.Context, actor core.Actor, req CheckoutRequest) (CheckoutResult, error) {
	owner := Owner{UserID: actor.ID}
	var c Cart
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		c, err = svc.activeCart(ctx, owner, false, exec)
		return err
	})
	if errors.Is(err, ErrNotFound) || (err == nil && len(c.Items) == 0) {
		return CheckoutResult{}, ErrEmpty
	}
	if err != nil {
		return CheckoutResult{}, err
	}

	var discounted string
	if c.DiscountCode != nil {
		it, _, err := svc.bestDiscount(ctx, actor.ID, c.Items, *c.DiscountCode)
		switch {
		case err == nil:
			discounted = it.CourseID
		case core.IsKind(err, core.KindConflict) || core.IsKind(err, core.KindNotFound):
			svc.Logger.Info(fmt.Sprintf("cart.Checkout(%s): coupon %s dropped: %v", c.ID, *c.DiscountCode, err))
		default:
			return CheckoutResult{}, err
		}
	}

	res := CheckoutResult{Lines: make([]CheckoutLine, 0, len(c.Items))}
	done := make(map[string]bool, len(c.Items))
	var couponUsed bool
	for _, it := range c.Items {
		rr := enrollment.RegisterRequest{CourseID: it.CourseID, FullName: req.FullName, Email: req.Email}
		if it.CourseID == discounted {
			rr.DiscountCode = *c.DiscountCode
		}
		line := CheckoutLine{CourseID: it.CourseID}
		reg, err := svc.Enrollments.Register(ctx, actor, rr)
		switch {
		case err == nil:
			line.Enrollment = &reg
			done[it.ID] = true
			couponUsed = couponUsed || rr.DiscountCode != ""
		case errors.Is(err, enrollment.ErrAlreadyEnrolled):
			line.Error = err.Error()
			done[it.ID] = true
		default:
			var ve *core.ValidationError
			if _, ok := core.AsError(err); !ok && !errors.As(err, &ve) {
				svc.Logger.Error(fmt.Sprintf("cart.Checkout(%s): registering %s: %v", c.ID, it.CourseID, err), err)
			}
			line.Error = err.Error()
		}
		res.Lines = append(res.Lines, line)
	}

	// leave the items that could not be registered
	ctx = context.WithoutCancel(ctx)
	err = svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if c, err = svc.activeCart(ctx, owner, false, exec); err != nil {
			return err
		}
		left := make([]Item, 0, len(c.Items))
		for _, it := range c.Items {
			if !done[it.ID] {
				left = append(left, it)
				continue
			}
			if err = svc.Repo.DeleteItem(ctx, c.ID, it.ID, exec); err != nil && !errors.Is(err, ErrItemNotFound) {
				return errors.Wrap(err, "removing checked out item")
			}
		}
		c.Items = left
		if couponUsed {
			c.DiscountCode = nil
		}
		now := NowFunc().UTC()
		c.UpdatedAt = now
		if len(left) == 0 {
			c.Status = StatusConverted
		} else {
			c.ExpiresAt = svc.expiry(now)
		}
		c, err = svc.Repo.UpdateCart(ctx, c, exec)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) { // cleared meanwhile
			return res, nil
		}
		return res, err
	}

	if c.Status == StatusActive {
		d, err := svc.detail(ctx, c)
		if err != nil {
			return res, err
		}
		res.Cart = &d
	}
	return res, nil
}
