package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/payment"
	"github.com/trezcool/academia/storage/database"
)

type enrollmentRow struct {
	ID                 string      `db:"id"`
	UserID             string      `db:"user_id"`
	CourseID           string      `db:"course_id"`
	FullName           string      `db:"full_name"`
	Email              string      `db:"email"`
	Status             string      `db:"status"`
	PaymentStatus      string      `db:"payment_status"`
	PaymentAmount      int64       `db:"payment_amount"`
	DiscountAmount     int64       `db:"discount_amount"`
	DiscountCode       null.String `db:"discount_code"`
	FinalAmount        int64       `db:"final_amount"`
	Currency           string      `db:"currency"`
	AccessGranted      bool        `db:"access_granted"`
	EnrolledAt         time.Time   `db:"enrolled_at"`
	ActivatedAt        null.Time   `db:"activated_at"`
	ActivationAttempts int         `db:"activation_attempts"`
	MaxRetries         int         `db:"max_retries"`
	NextRetryAt        null.Time   `db:"next_retry_at"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
}

const enrollmentColumns = `id, user_id, course_id, full_name, email, status, payment_status, payment_amount,
	discount_amount, discount_code, final_amount, currency, access_granted, enrolled_at, activated_at,
	activation_attempts, max_retries, next_retry_at, created_at, updated_at`

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time.UTC()
	return &tt
}

func toEnrollmentRow(enr enrollment.Enrollment) enrollmentRow {
	return enrollmentRow{
		ID:                 enr.ID,
		UserID:             enr.UserID,
		CourseID:           enr.CourseID,
		FullName:           enr.FullName,
		Email:              enr.Email,
		Status:             string(enr.Status),
		PaymentStatus:      string(enr.PaymentStatus),
		PaymentAmount:      enr.PaymentAmount,
		DiscountAmount:     enr.DiscountAmount,
		DiscountCode:       null.StringFromPtr(enr.DiscountCode),
		FinalAmount:        enr.FinalAmount,
		Currency:           enr.Currency,
		AccessGranted:      enr.AccessGranted,
		EnrolledAt:         enr.EnrolledAt.UTC(),
		ActivatedAt:        nullTime(enr.ActivatedAt),
		ActivationAttempts: enr.ActivationAttempts,
		MaxRetries:         enr.MaxRetries,
		NextRetryAt:        nullTime(enr.NextRetryAt),
		CreatedAt:          enr.CreatedAt.UTC(),
		UpdatedAt:          enr.UpdatedAt.UTC(),
	}
}

func (r enrollmentRow) enrollment() enrollment.Enrollment {
	return enrollment.Enrollment{
		ID:                 r.ID,
		UserID:             r.UserID,
		CourseID:           r.CourseID,
		FullName:           r.FullName,
		Email:              r.Email,
		Status:             enrollment.Status(r.Status),
		PaymentStatus:      payment.Status(r.PaymentStatus),
		PaymentAmount:      r.PaymentAmount,
		DiscountAmount:     r.DiscountAmount,
		DiscountCode:       r.DiscountCode.Ptr(),
		FinalAmount:        r.FinalAmount,
		Currency:           r.Currency,
		AccessGranted:      r.AccessGranted,
		EnrolledAt:         r.EnrolledAt.UTC(),
		ActivatedAt:        timePtr(r.ActivatedAt),
		ActivationAttempts: r.ActivationAttempts,
		MaxRetries:         r.MaxRetries,
		NextRetryAt:        timePtr(r.NextRetryAt),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func enrollmentSlice(rows []enrollmentRow) []enrollment.Enrollment {
	enrs := make([]enrollment.Enrollment, 0, len(rows))
	for _, r := range rows {
		enrs = append(enrs, r.enrollment())
	}
	return enrs
}

type enrollmentRepository struct {
	baseRepo
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(exec core.DBExecutor) enrollment.Repository {
	return &enrollmentRepository{baseRepo{exec: exec}}
}

func (repo enrollmentRepository) CreateEnrollment(ctx context.Context, enr enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	if enr.ID == "" {
		enr.ID = uuid.New().String()
	}
	row := toEnrollmentRow(enr)
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`INSERT INTO enrollment (`+enrollmentColumns+`)
		VALUES (:id, :user_id, :course_id, :full_name, :email, :status, :payment_status, :payment_amount,
			:discount_amount, :discount_code, :final_amount, :currency, :access_granted, :enrolled_at, :activated_at,
			:activation_attempts, :max_retries, :next_retry_at, :created_at, :updated_at)`,
		row)
	if err != nil {
		if database.IsUniqueViolation(err, "enrollment_user_course_live_uniq") {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return row.enrollment(), nil
}

func (repo enrollmentRepository) GetEnrollment(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	var row enrollmentRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+enrollmentColumns+` FROM enrollment WHERE id = $1`+lockClause(forUpdate), id)
	if err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "finding enrollment")
	}
	return row.enrollment(), nil
}

func (repo enrollmentRepository) QueryUserCourse(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	if _, err := uuid.Parse(courseID); err != nil {
		return []enrollment.Enrollment{}, nil
	}
	var rows []enrollmentRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+enrollmentColumns+` FROM enrollment WHERE user_id = $1 AND course_id = $2
		ORDER BY created_at DESC`,
		userID, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	return enrollmentSlice(rows), nil
}

func (repo enrollmentRepository) QueryEnrollments(ctx context.Context, userID string, filter enrollment.QueryFilter, page core.Page, exec ...core.DBExecutor) ([]enrollment.Enrollment, int, error) {
	exe := repo.getExec(exec)
	where := `WHERE user_id = $1 AND ($2::text = '' OR status = $2::text)`
	args := []interface{}{userID, string(filter.Status)}

	var total int
	if err := exe.GetContext(ctx, &total, `SELECT COUNT(*) FROM enrollment `+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting enrollments")
	}

	var rows []enrollmentRow
	err := exe.SelectContext(ctx, &rows,
		`SELECT `+enrollmentColumns+` FROM enrollment `+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying enrollments")
	}
	return enrollmentSlice(rows), total, nil
}

func (repo enrollmentRepository) UpdateEnrollment(ctx context.Context, enr enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	row := toEnrollmentRow(enr)
	res, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`UPDATE enrollment SET status = :status, payment_status = :payment_status, access_granted = :access_granted,
			activated_at = :activated_at, activation_attempts = :activation_attempts, next_retry_at = :next_retry_at,
			updated_at = :updated_at
		WHERE id = :id`,
		row)
	if err != nil {
		if database.IsUniqueViolation(err, "enrollment_user_course_live_uniq") {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return row.enrollment(), nil
}
