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

type paymentRow struct {
	ID             string      `db:"id"`
	EnrollmentID   string      `db:"enrollment_id"`
	UserID         string      `db:"user_id"`
	Method         string      `db:"method"`
	Status         string      `db:"status"`
	Amount         int64       `db:"amount"`
	Currency       string      `db:"currency"`
	Gateway        string      `db:"gateway"`
	TransactionRef null.String `db:"transaction_ref"`
	CardLast4      string      `db:"card_last4"`
	HolderName     string      `db:"holder_name"`
	ErrorCode      null.String `db:"error_code"`
	ErrorMessage   null.String `db:"error_message"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

const paymentColumns = `id, enrollment_id, user_id, method, status, amount, currency, gateway, transaction_ref,
	card_last4, holder_name, error_code, error_message, created_at, updated_at`

func toPaymentRow(pmt payment.Payment) paymentRow {
	return paymentRow{
		ID:             pmt.ID,
		EnrollmentID:   pmt.EnrollmentID,
		UserID:         pmt.UserID,
		Method:         string(pmt.Method),
		Status:         string(pmt.Status),
		Amount:         pmt.Amount,
		Currency:       pmt.Currency,
		Gateway:        pmt.Gateway,
		TransactionRef: null.NewString(pmt.TransactionRef, pmt.TransactionRef != ""),
		CardLast4:      pmt.CardLast4,
		HolderName:     pmt.HolderName,
		ErrorCode:      null.NewString(pmt.ErrorCode, pmt.ErrorCode != ""),
		ErrorMessage:   null.NewString(pmt.ErrorMessage, pmt.ErrorMessage != ""),
		CreatedAt:      pmt.CreatedAt.UTC(),
		UpdatedAt:      pmt.UpdatedAt.UTC(),
	}
}

func (r paymentRow) payment() payment.Payment {
	return payment.Payment{
		ID:             r.ID,
		EnrollmentID:   r.EnrollmentID,
		UserID:         r.UserID,
		Method:         payment.Method(r.Method),
		Status:         payment.Status(r.Status),
		Amount:         r.Amount,
		Currency:       r.Currency,
		Gateway:        r.Gateway,
		TransactionRef: r.TransactionRef.String,
		CardLast4:      r.CardLast4,
		HolderName:     r.HolderName,
		ErrorCode:      r.ErrorCode.String,
		ErrorMessage:   r.ErrorMessage.String,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type paymentRepository struct {
	baseRepo
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(exec core.DBExecutor) payment.Repository {
	return &paymentRepository{baseRepo{exec: exec}}
}

func (repo paymentRepository) CreatePayment(ctx context.Context, pmt payment.Payment, exec ...core.DBExecutor) (payment.Payment, error) {
	pmt.ID = uuid.New().String()
	row := toPaymentRow(pmt)
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`INSERT INTO payment (`+paymentColumns+`)
		VALUES (:id, :enrollment_id, :user_id, :method, :status, :amount, :currency, :gateway, :transaction_ref,
			:card_last4, :holder_name, :error_code, :error_message, :created_at, :updated_at)`,
		row)
	if err != nil {
		if database.IsUniqueViolation(err, "payment_pending_uniq") {
			return payment.Payment{}, enrollment.ErrPaymentInProgress
		}
		return payment.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return row.payment(), nil
}

func (repo paymentRepository) UpdatePayment(ctx context.Context, pmt payment.Payment, exec ...core.DBExecutor) (payment.Payment, error) {
	row := toPaymentRow(pmt)
	res, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`UPDATE payment SET status = :status, transaction_ref = :transaction_ref, card_last4 = :card_last4,
			holder_name = :holder_name, error_code = :error_code, error_message = :error_message, updated_at = :updated_at
		WHERE id = :id AND status = 'pending'`,
		row)
	if err != nil {
		return payment.Payment{}, errors.Wrap(err, "updating payment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.Payment{}, payment.ErrNotFound
	}
	return row.payment(), nil
}

func (repo paymentRepository) GetPendingPayment(ctx context.Context, enrollmentID string, exec ...core.DBExecutor) (payment.Payment, error) {
	var row paymentRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+paymentColumns+` FROM payment WHERE enrollment_id = $1 AND status = 'pending'`, enrollmentID)
	if err != nil {
		return payment.Payment{}, trapNoRowsErr(err, payment.ErrNotFound, "finding pending payment")
	}
	return row.payment(), nil
}

func (repo paymentRepository) QueryPayments(ctx context.Context, enrollmentID string, exec ...core.DBExecutor) ([]payment.Payment, error) {
	var rows []paymentRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+paymentColumns+` FROM payment WHERE enrollment_id = $1 ORDER BY created_at DESC`, enrollmentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	pmts := make([]payment.Payment, 0, len(rows))
	for _, r := range rows {
		pmts = append(pmts, r.payment())
	}
	return pmts, nil
}

func (repo paymentRepository) QueryPendingPayments(ctx context.Context, createdBefore time.Time, exec ...core.DBExecutor) ([]payment.Payment, error) {
	var rows []paymentRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+paymentColumns+` FROM payment WHERE status = 'pending' AND created_at < $1 ORDER BY created_at`,
		createdBefore.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying pending payments")
	}
	pmts := make([]payment.Payment, 0, len(rows))
	for _, r := range rows {
		pmts = append(pmts, r.payment())
	}
	return pmts, nil
}
