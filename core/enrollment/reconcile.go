package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/payment"
)

// pendingGrace is how long past the gateway timeout a pending payment may still get its outcome recorded.
const pendingGrace = time.Minute

const interruptedMessage = "the payment was interrupted before its outcome was recorded"

func (svc *service) staleBefore(now time.Time) time.Time {
	return now.Add(-(svc.conf.Payment.GatewayTimeout + pendingGrace))
}

// settleStalePayment fails the pending payment of enr once nothing can record its outcome anymore.
// It returns ErrPaymentInProgress while the payment is still young, and false when there is none.
func (svc *service) settleStalePayment(ctx context.Context, enr *Enrollment, exec core.DBExecutor) (bool, error) {
	pmt, err := svc.PaymentRepo.GetPendingPayment(ctx, enr.ID, exec)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "checking pending payment")
	}

	now := NowFunc().UTC()
	if !pmt.CreatedAt.Before(svc.staleBefore(now)) {
		return false, ErrPaymentInProgress
	}

	pmt.Status = payment.StatusFailed
	pmt.ErrorCode = payment.CodeGatewayTimeout
	pmt.ErrorMessage = interruptedMessage
	pmt.UpdatedAt = now
	if _, err = svc.PaymentRepo.UpdatePayment(ctx, pmt, exec); err != nil {
		return false, errors.Wrap(err, "failing stale payment")
	}
	enr.PaymentStatus = payment.StatusFailed
	enr.UpdatedAt = now
	if *enr, err = svc.Repo.UpdateEnrollment(ctx, *enr, exec); err != nil {
		return false, err
	}
	// the gateway may have charged it anyway
	svc.Logger.Warn(fmt.Sprintf("enrollment %s: stale payment %s (%d %s) marked failed", enr.ID, pmt.ID, pmt.Amount, pmt.Currency))
	return true, nil
}

func (svc *service) ReconcilePayments(ctx context.Context, actor core.Actor) (int, error) {
	if !actor.IsAdmin() {
		return 0, core.ErrPermissionDenied
	}

	pmts, err := svc.PaymentRepo.QueryPendingPayments(ctx, svc.staleBefore(NowFunc().UTC()))
	if err != nil {
		return 0, err
	}

	var settled int
	for _, pmt := range pmts {
		err = svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
			enr, err := svc.Repo.GetEnrollment(ctx, pmt.EnrollmentID, true, exec)
			if err != nil {
				return err
			}
			ok, err := svc.settleStalePayment(ctx, &enr, exec)
			if ok {
				settled++
			}
			return err
		})
		// a payment recorded or retried meanwhile is left alone
		if err != nil && !errors.Is(err, ErrPaymentInProgress) {
			return settled, errors.Wrapf(err, "reconciling payment %s", pmt.ID)
		}
	}
	svc.Logger.Info(fmt.Sprintf("enrollment.ReconcilePayments: %d stale payment(s) failed by %s", settled, actor.ID))
	return settled, nil
}
