package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/payment"
)

var NowFunc = time.Now // mockable

type (
	Repository interface {
		// CreateEnrollment returns ErrAlreadyEnrolled when the user holds a live enrollment for the course.
		CreateEnrollment(ctx context.Context, enr Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		// GetEnrollment locks the row until the end of the transaction when forUpdate is set.
		GetEnrollment(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (Enrollment, error)
		// QueryUserCourse returns every enrollment of the user in the course, newest first.
		QueryUserCourse(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) ([]Enrollment, error)
		QueryEnrollments(ctx context.Context, userID string, filter QueryFilter, page core.Page, exec ...core.DBExecutor) ([]Enrollment, int, error)
		UpdateEnrollment(ctx context.Context, enr Enrollment, exec ...core.DBExecutor) (Enrollment, error)
	}

	// Provisioner grants the content access of an enrollment being activated.
	Provisioner interface {
		Provision(ctx context.Context, enr Enrollment, exec core.DBExecutor) error
	}

	Service interface {
		Register(ctx context.Context, actor core.Actor, req RegisterRequest) (RegisterResult, error)
		// ProcessPayment charges the locked final amount of a payment_pending enrollment.
		ProcessPayment(ctx context.Context, actor core.Actor, req PaymentRequest) (PaymentResult, error)
		// Activate is the automatic activation step; it honors the retry backoff.
		Activate(ctx context.Context, actor core.Actor, id string) (Enrollment, error)
		// RetryActivation is the manual retry; it skips the backoff wait but not the retry cap.
		RetryActivation(ctx context.Context, actor core.Actor, id string) (Enrollment, error)
		// ResetActivation clears the attempt counter. Admins only.
		ResetActivation(ctx context.Context, actor core.Actor, id string) (Enrollment, error)
		Cancel(ctx context.Context, actor core.Actor, id string) (Enrollment, error)
		// ReconcilePayments fails the pending payments whose outcome was never recorded. Admins only.
		ReconcilePayments(ctx context.Context, actor core.Actor) (int, error)
		Get(ctx context.Context, actor core.Actor, id string) (Detail, error)
		ListForUser(ctx context.Context, actor core.Actor, filter QueryFilter, page core.Page) (ListResult, error)
	}

	Deps struct {
		Repo        Repository
		PaymentRepo payment.Repository
		Courses     course.Service
		Coupons     coupon.Service
		Gateway     payment.Gateway
		Provisioner Provisioner
		Tx          core.Transactor
		Notifier    notification.Emitter
		Logger      core.Logger
	}

	service struct {
		Deps
		conf *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(deps Deps, conf *core.Config) Service {
	return &service{Deps: deps, conf: conf}
}

func (svc *service) Register(ctx context.Context, actor core.Actor, req RegisterRequest) (RegisterResult, error) {
	crs, err := svc.Courses.GetByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return RegisterResult{}, core.NewValidationError(err, core.FieldError{Field: "course_id", Error: "course not found"})
		}
		return RegisterResult{}, errors.Wrap(err, "loading course")
	}
	if !crs.IsPublished {
		return RegisterResult{}, core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: "course is not open for enrollment"})
	}

	now := NowFunc().UTC()
	enr := Enrollment{
		ID:            uuid.New().String(),
		UserID:        actor.ID,
		CourseID:      crs.ID,
		FullName:      req.FullName,
		Email:         req.Email,
		Status:        StatusPending,
		PaymentStatus: payment.StatusPending,
		PaymentAmount: crs.Price,
		FinalAmount:   crs.Price,
		Currency:      crs.Currency,
		EnrolledAt:    now,
		MaxRetries:    svc.conf.Enrollment.MaxActivationRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		live, err := svc.Repo.QueryUserCourse(ctx, actor.ID, crs.ID, exec)
		if err != nil {
			return errors.Wrap(err, "checking enrollments")
		}
		for _, e := range live {
			if e.Status != StatusCancelled {
				return ErrAlreadyEnrolled.WithData(map[string]interface{}{"enrollment_id": e.ID, "status": e.Status})
			}
		}

		// coupons only matter for paid courses
		if !crs.IsFree() && req.DiscountCode != "" {
			res, err := svc.Coupons.Apply(ctx, coupon.ApplyRequest{
				Code:         req.DiscountCode,
				OrderAmount:  crs.Price,
				UserID:       actor.ID,
				CourseID:     crs.ID,
				EnrollmentID: enr.ID,
			}, exec)
			if err != nil {
				if cerr, ok := core.AsError(err); ok {
					return core.NewValidationError(cerr, core.FieldError{Field: "discount_code", Error: cerr.Message})
				}
				return errors.Wrap(err, "applying coupon")
			}
			enr.DiscountCode = &res.Code
			enr.DiscountAmount = res.DiscountAmount
			enr.FinalAmount = res.FinalAmount
		}

		switch {
		case crs.IsFree():
			if err := enr.transition(StatusEnrolled); err != nil {
				return err
			}
			enr.PaymentStatus = payment.StatusCompleted
			enr.AccessGranted = true
		case enr.FinalAmount == 0:
			if err := enr.transition(StatusEnrolled); err != nil {
				return err
			}
			enr.PaymentStatus = payment.StatusCompleted
		default:
			if err := enr.transition(StatusPaymentPending); err != nil {
				return err
			}
		}

		if enr, err = svc.Repo.CreateEnrollment(ctx, enr, exec); err != nil {
			return err
		}

		if !crs.IsFree() && enr.FinalAmount == 0 {
			_, err = svc.PaymentRepo.CreatePayment(ctx, payment.Payment{
				EnrollmentID: enr.ID,
				UserID:       enr.UserID,
				Method:       payment.MethodCoupon,
				Status:       payment.StatusCompleted,
				Currency:     enr.Currency,
				CreatedAt:    now,
				UpdatedAt:    now,
			}, exec)
			if err != nil {
				return errors.Wrap(err, "recording coupon payment")
			}
		}
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}

	result := RegisterResult{Enrollment: enr}
	if enr.Status == StatusPaymentPending {
		result.PaymentRequired = true
		result.PaymentURL = svc.conf.Payment.PaymentURLPrefix + enr.ID
		return result, nil
	}

	result.AccessImmediate = true
	// best effort: a failed activation stays retryable
	if activated, err := svc.activate(ctx, actor, enr.ID, false); err == nil {
		result.Enrollment = activated
	} else {
		svc.Logger.Warn(fmt.Sprintf("enrollment.Register(%s): immediate activation: %v", enr.ID, err))
		if current, gerr := svc.Repo.GetEnrollment(ctx, enr.ID, false); gerr == nil {
			result.Enrollment = current
		}
	}
	return result, nil
}

func (svc *service) ProcessPayment(ctx context.Context, actor core.Actor, req PaymentRequest) (PaymentResult, error) {
	var (
		enr Enrollment
		pmt payment.Payment
	)

	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if enr, err = svc.Repo.GetEnrollment(ctx, req.EnrollmentID, true, exec); err != nil {
			return err
		}
		if enr.UserID != actor.ID {
			return core.ErrPermissionDenied
		}
		if enr.Status != StatusPaymentPending {
			return ErrInvalidState.WithData(map[string]interface{}{"status": enr.Status})
		}
		if _, err = svc.settleStalePayment(ctx, &enr, exec); err != nil {
			return err
		}

		now := NowFunc().UTC()
		inst := payment.Mask(req.Details)
		pmt, err = svc.PaymentRepo.CreatePayment(ctx, payment.Payment{
			EnrollmentID: enr.ID,
			UserID:       enr.UserID,
			Method:       req.Method,
			Status:       payment.StatusPending,
			Amount:       enr.FinalAmount,
			Currency:     enr.Currency,
			Gateway:      svc.Gateway.Name(),
			CardLast4:    inst.Last4,
			HolderName:   inst.HolderName,
			CreatedAt:    now,
			UpdatedAt:    now,
		}, exec)
		return err
	})
	if err != nil {
		return PaymentResult{}, err
	}

	res := svc.charge(ctx, enr, pmt, req)

	// the outcome is recorded even when the caller went away
	ctx = context.WithoutCancel(ctx)
	err = svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if enr, err = svc.Repo.GetEnrollment(ctx, enr.ID, true, exec); err != nil {
			return err
		}
		now := NowFunc().UTC()
		pmt.UpdatedAt = now
		enr.UpdatedAt = now
		if res.Instrument.Last4 != "" {
			pmt.CardLast4 = res.Instrument.Last4
		}
		if res.Instrument.HolderName != "" {
			pmt.HolderName = res.Instrument.HolderName
		}

		if res.Success {
			pmt.Status = payment.StatusCompleted
			pmt.TransactionRef = res.TransactionRef
			if err = enr.transition(StatusEnrolled); err != nil {
				return err
			}
			enr.PaymentStatus = payment.StatusCompleted
		} else {
			pmt.Status = payment.StatusFailed
			pmt.ErrorCode = res.FailureCode
			pmt.ErrorMessage = res.FailureMessage
			enr.PaymentStatus = payment.StatusFailed
		}

		if pmt, err = svc.PaymentRepo.UpdatePayment(ctx, pmt, exec); err != nil {
			return errors.Wrap(err, "recording payment outcome")
		}
		enr, err = svc.Repo.UpdateEnrollment(ctx, enr, exec)
		return err
	})
	if err != nil {
		return PaymentResult{}, err
	}

	result := PaymentResult{Enrollment: enr, Payment: pmt}
	data := svc.eventData(ctx, enr, map[string]interface{}{
		"payment_id": pmt.ID,
		"amount":     pmt.Amount,
		"currency":   pmt.Currency,
	})
	if !res.Success {
		data["reason"] = res.FailureMessage
		svc.Notifier.Emit(ctx, notification.Event{Type: notification.TypePaymentFailed, RecipientID: enr.UserID, Data: data})
		return result, core.NewPaymentError(res.FailureCode, res.FailureMessage).WithData(map[string]interface{}{
			"enrollment_id": enr.ID,
			"payment_id":    pmt.ID,
		})
	}
	svc.Notifier.Emit(ctx, notification.Event{Type: notification.TypePaymentCompleted, RecipientID: enr.UserID, Data: data})
	return result, nil
}

// charge calls the gateway once, bounded by the configured timeout. Transport errors become failures.
func (svc *service) charge(ctx context.Context, enr Enrollment, pmt payment.Payment, req PaymentRequest) payment.ChargeResult {
	gctx, cancel := context.WithTimeout(ctx, svc.conf.Payment.GatewayTimeout)
	defer cancel()

	res, err := svc.Gateway.Charge(gctx, payment.ChargeRequest{
		PaymentID:   pmt.ID,
		Amount:      pmt.Amount,
		Currency:    pmt.Currency,
		Method:      pmt.Method,
		Description: fmt.Sprintf("Enrollment %s", enr.ID),
		Details:     req.Details,
	})
	if err != nil {
		code, msg := payment.CodeGatewayError, "the payment provider could not process the payment"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(gctx.Err(), context.DeadlineExceeded) {
			code, msg = payment.CodeGatewayTimeout, "the payment provider did not respond in time"
		}
		svc.Logger.Warn(fmt.Sprintf("enrollment.charge(%s): %s: %v", pmt.ID, code, err))
		return payment.ChargeResult{FailureCode: code, FailureMessage: msg}
	}
	if !res.Success && res.FailureCode == "" {
		res.FailureCode = payment.CodeDeclined
	}
	if !res.Success && res.FailureMessage == "" {
		res.FailureMessage = "the payment was declined"
	}
	return res
}

func (svc *service) Activate(ctx context.Context, actor core.Actor, id string) (Enrollment, error) {
	return svc.activate(ctx, actor, id, false)
}

func (svc *service) RetryActivation(ctx context.Context, actor core.Actor, id string) (Enrollment, error) {
	return svc.activate(ctx, actor, id, true)
}

func (svc *service) activate(ctx context.Context, actor core.Actor, id string, manual bool) (Enrollment, error) {
	var (
		enr       Enrollment
		failure   error
		activated bool
	)

	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if enr, err = svc.Repo.GetEnrollment(ctx, id, true, exec); err != nil {
			return err
		}
		if enr.UserID != actor.ID && !actor.IsAdmin() {
			return core.ErrPermissionDenied
		}
		switch {
		case enr.Status == StatusActive:
			return nil // a concurrent call won
		case enr.Status != StatusEnrolled && enr.Status != StatusActivating:
			return ErrInvalidState.WithData(map[string]interface{}{"status": enr.Status})
		case enr.PaymentStatus != payment.StatusCompleted:
			return ErrInvalidState.WithData(map[string]interface{}{"payment_status": enr.PaymentStatus})
		case enr.ActivationAttempts >= enr.MaxRetries:
			return ErrRetriesExhausted.WithData(enr.retryData())
		}

		now := NowFunc().UTC()
		if !manual && enr.NextRetryAt != nil && now.Before(*enr.NextRetryAt) {
			return ErrRetryNotEligible.WithData(enr.retryData())
		}

		perr := svc.Tx.WithinSavepoint(ctx, exec, func(ctx context.Context) error {
			return svc.Provisioner.Provision(ctx, enr, exec)
		})
		enr.UpdatedAt = now
		if perr == nil {
			if err = enr.transition(StatusActive); err != nil {
				return err
			}
			enr.AccessGranted = true
			enr.ActivatedAt = &now
			enr.NextRetryAt = nil
			activated = true
		} else {
			svc.Logger.Warn(fmt.Sprintf("enrollment.activate(%s): provisioning: %v", enr.ID, perr))
			if err = enr.transition(StatusActivating); err != nil {
				return err
			}
			enr.ActivationAttempts++
			if allowed, at := NextRetry(enr.ActivationAttempts, enr.MaxRetries, now, svc.conf.Enrollment.ActivationBackoff); allowed {
				enr.NextRetryAt = &at
				failure = ErrActivationFailed.WithData(enr.retryData())
			} else {
				enr.NextRetryAt = nil
				failure = ErrRetriesExhausted.WithData(enr.retryData())
			}
		}
		// the failed attempt is committed too
		enr, err = svc.Repo.UpdateEnrollment(ctx, enr, exec)
		return err
	})
	if err != nil {
		return Enrollment{}, err
	}
	if failure != nil {
		return enr, failure
	}

	if activated {
		svc.Notifier.Emit(ctx, notification.Event{
			Type:        notification.TypeEnrollmentActivated,
			RecipientID: enr.UserID,
			Data:        svc.eventData(ctx, enr, nil),
		})
	}
	return enr, nil
}

func (svc *service) ResetActivation(ctx context.Context, actor core.Actor, id string) (Enrollment, error) {
	if !actor.IsAdmin() {
		return Enrollment{}, core.ErrPermissionDenied
	}

	var enr Enrollment
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if enr, err = svc.Repo.GetEnrollment(ctx, id, true, exec); err != nil {
			return err
		}
		if enr.Status != StatusEnrolled && enr.Status != StatusActivating {
			return ErrInvalidState.WithData(map[string]interface{}{"status": enr.Status})
		}
		enr.ActivationAttempts = 0
		enr.NextRetryAt = nil
		enr.UpdatedAt = NowFunc().UTC()
		enr, err = svc.Repo.UpdateEnrollment(ctx, enr, exec)
		return err
	})
	if err != nil {
		return Enrollment{}, err
	}
	svc.Logger.Info(fmt.Sprintf("enrollment.ResetActivation(%s) by %s", enr.ID, actor.ID))
	return enr, nil
}

func (svc *service) Cancel(ctx context.Context, actor core.Actor, id string) (Enrollment, error) {
	var enr Enrollment
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if enr, err = svc.Repo.GetEnrollment(ctx, id, true, exec); err != nil {
			return err
		}
		if enr.UserID != actor.ID && !actor.IsAdmin() {
			return core.ErrPermissionDenied
		}
		if _, err = svc.settleStalePayment(ctx, &enr, exec); err != nil {
			return err
		}
		if err = enr.transition(StatusCancelled); err != nil {
			return err
		}
		enr.UpdatedAt = NowFunc().UTC()
		enr, err = svc.Repo.UpdateEnrollment(ctx, enr, exec)
		return err
	})
	if err != nil {
		return Enrollment{}, err
	}
	return enr, nil
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (Detail, error) {
	enr, err := svc.Repo.GetEnrollment(ctx, id, false)
	if err != nil {
		return Detail{}, err
	}
	if enr.UserID != actor.ID && !actor.IsAdmin() {
		return Detail{}, core.ErrPermissionDenied
	}
	pmts, err := svc.PaymentRepo.QueryPayments(ctx, enr.ID)
	if err != nil {
		return Detail{}, errors.Wrap(err, "querying payments")
	}
	if pmts == nil {
		pmts = []payment.Payment{}
	}
	return Detail{Enrollment: enr, Payments: pmts}, nil
}

func (svc *service) ListForUser(ctx context.Context, actor core.Actor, filter QueryFilter, page core.Page) (ListResult, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return ListResult{}, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "unknown enrollment status"})
	}
	page.Clean()
	items, total, err := svc.Repo.QueryEnrollments(ctx, actor.ID, filter, page)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "querying enrollments")
	}
	if items == nil {
		items = []Enrollment{}
	}
	return ListResult{Items: items, Pagination: core.NewPagination(page, total)}, nil
}

// eventData is the notification payload of an enrollment event.
func (svc *service) eventData(ctx context.Context, enr Enrollment, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"enrollment_id": enr.ID,
		"course_id":     enr.CourseID,
		"course_title":  "",
	}
	if crs, err := svc.Courses.GetByID(ctx, enr.CourseID); err == nil {
		data["course_title"] = crs.Title
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
