package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/payment"
)

type enrollmentRepository struct {
	db *table[string, enrollment.Enrollment]
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db.enrollment}
}

// liveConflict mirrors the partial unique index on (user, course) of non-cancelled enrollments.
func (repo *enrollmentRepository) liveConflict(enr enrollment.Enrollment) bool {
	if enr.Status == enrollment.StatusCancelled {
		return false
	}
	for _, e := range repo.db.rows {
		if e.ID != enr.ID && e.UserID == enr.UserID && e.CourseID == enr.CourseID && e.Status != enrollment.StatusCancelled {
			return true
		}
	}
	return false
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, enr enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.liveConflict(enr) {
		return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
	}
	if enr.ID == "" {
		enr.ID = uuid.New().String()
	}
	repo.db.rows[enr.ID] = enr
	return enr, nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, id string, _ bool, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if enr, ok := repo.db.rows[id]; ok {
		return enr, nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func newestFirst(enrs []enrollment.Enrollment) {
	sort.SliceStable(enrs, func(i, j int) bool { return enrs[i].CreatedAt.After(enrs[j].CreatedAt) })
}

func (repo *enrollmentRepository) QueryUserCourse(_ context.Context, userID, courseID string, _ ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrs := []enrollment.Enrollment{}
	for _, enr := range repo.db.rows {
		if enr.UserID == userID && enr.CourseID == courseID {
			enrs = append(enrs, enr)
		}
	}
	newestFirst(enrs)
	return enrs, nil
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, userID string, filter enrollment.QueryFilter, page core.Page, _ ...core.DBExecutor) ([]enrollment.Enrollment, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrs := []enrollment.Enrollment{}
	for _, enr := range repo.db.rows {
		if enr.UserID == userID && (filter.Status == "" || enr.Status == filter.Status) {
			enrs = append(enrs, enr)
		}
	}
	newestFirst(enrs)
	return paginate(enrs, page), len(enrs), nil
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, enr enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[enr.ID]; !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	if repo.liveConflict(enr) {
		return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
	}
	repo.db.rows[enr.ID] = enr
	return enr, nil
}

type paymentRepository struct {
	db *table[string, payment.Payment]
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *DB) payment.Repository {
	return &paymentRepository{db: db.payment}
}

func (repo *paymentRepository) CreatePayment(_ context.Context, pmt payment.Payment, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if pmt.Status == payment.StatusPending {
		for _, p := range repo.db.rows {
			if p.EnrollmentID == pmt.EnrollmentID && p.Status == payment.StatusPending {
				return payment.Payment{}, enrollment.ErrPaymentInProgress
			}
		}
	}
	pmt.ID = uuid.New().String()
	repo.db.rows[pmt.ID] = pmt
	return pmt, nil
}

func (repo *paymentRepository) UpdatePayment(_ context.Context, pmt payment.Payment, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	current, ok := repo.db.rows[pmt.ID]
	if !ok || current.Status != payment.StatusPending {
		return payment.Payment{}, payment.ErrNotFound
	}
	repo.db.rows[pmt.ID] = pmt
	return pmt, nil
}

func (repo *paymentRepository) GetPendingPayment(_ context.Context, enrollmentID string, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, p := range repo.db.rows {
		if p.EnrollmentID == enrollmentID && p.Status == payment.StatusPending {
			return p, nil
		}
	}
	return payment.Payment{}, payment.ErrNotFound
}

func (repo *paymentRepository) QueryPayments(_ context.Context, enrollmentID string, _ ...core.DBExecutor) ([]payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	pmts := []payment.Payment{}
	for _, p := range repo.db.rows {
		if p.EnrollmentID == enrollmentID {
			pmts = append(pmts, p)
		}
	}
	sort.SliceStable(pmts, func(i, j int) bool { return pmts[i].CreatedAt.After(pmts[j].CreatedAt) })
	return pmts, nil
}

func (repo *paymentRepository) QueryPendingPayments(_ context.Context, createdBefore time.Time, _ ...core.DBExecutor) ([]payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	pmts := []payment.Payment{}
	for _, p := range repo.db.rows {
		if p.Status == payment.StatusPending && p.CreatedAt.Before(createdBefore) {
			pmts = append(pmts, p)
		}
	}
	sort.SliceStable(pmts, func(i, j int) bool { return pmts[i].CreatedAt.Before(pmts[j].CreatedAt) })
	return pmts, nil
}

// paginate returns the page of items.
func paginate[T any](items []T, page core.Page) []T {
	page.Clean()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
