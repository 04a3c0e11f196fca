package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/storage/database"
)

type cartRow struct {
	ID           string      `db:"id"`
	UserID       null.String `db:"user_id"`
	SessionID    null.String `db:"session_id"`
	Status       string      `db:"status"`
	DiscountCode null.String `db:"discount_code"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	ExpiresAt    time.Time   `db:"expires_at"`
}

const cartColumns = `id, user_id, session_id, status, discount_code, created_at, updated_at, expires_at`

func toCartRow(c cart.Cart) cartRow {
	return cartRow{
		ID:           c.ID,
		UserID:       null.NewString(c.UserID, c.UserID != ""),
		SessionID:    null.NewString(c.SessionID, c.SessionID != ""),
		Status:       string(c.Status),
		DiscountCode: null.StringFromPtr(c.DiscountCode),
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
		ExpiresAt:    c.ExpiresAt.UTC(),
	}
}

func (r cartRow) cart(items []cart.Item) cart.Cart {
	return cart.Cart{
		ID:           r.ID,
		UserID:       r.UserID.String,
		SessionID:    r.SessionID.String,
		Status:       cart.Status(r.Status),
		Items:        items,
		DiscountCode: r.DiscountCode.Ptr(),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		ExpiresAt:    r.ExpiresAt.UTC(),
	}
}

type cartItemRow struct {
	ID           string      `db:"id"`
	CartID       string      `db:"cart_id"`
	CourseID     string      `db:"course_id"`
	CourseTitle  string      `db:"course_title"`
	InstructorID null.String `db:"instructor_id"`
	Price        int64       `db:"price"`
	Currency     string      `db:"currency"`
	AddedAt      time.Time   `db:"added_at"`
}

const cartItemColumns = `id, cart_id, course_id, course_title, instructor_id, price, currency, added_at`

func (r cartItemRow) item() cart.Item {
	return cart.Item{
		ID:           r.ID,
		CartID:       r.CartID,
		CourseID:     r.CourseID,
		CourseTitle:  r.CourseTitle,
		InstructorID: r.InstructorID.String,
		Price:        r.Price,
		Currency:     r.Currency,
		AddedAt:      r.AddedAt.UTC(),
	}
}

type cartRepository struct {
	baseRepo
}

var _ cart.Repository = (*cartRepository)(nil) // interface compliance check

func NewCartRepository(exec core.DBExecutor) cart.Repository {
	return &cartRepository{baseRepo{exec: exec}}
}

func isActiveCartViolation(err error) bool {
	return database.IsUniqueViolation(err, "cart_user_active_uniq") || database.IsUniqueViolation(err, "cart_session_active_uniq")
}

func (repo cartRepository) CreateCart(ctx context.Context, c cart.Cart, exec ...core.DBExecutor) (cart.Cart, error) {
	c.ID = uuid.New().String()
	row := toCartRow(c)
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`INSERT INTO cart (`+cartColumns+`)
		VALUES (:id, :user_id, :session_id, :status, :discount_code, :created_at, :updated_at, :expires_at)`,
		row)
	if err != nil {
		if isActiveCartViolation(err) {
			return cart.Cart{}, cart.ErrExists
		}
		return cart.Cart{}, errors.Wrap(err, "inserting cart")
	}
	return row.cart([]cart.Item{}), nil
}

func (repo cartRepository) GetActiveCart(ctx context.Context, owner cart.Owner, forUpdate bool, exec ...core.DBExecutor) (cart.Cart, error) {
	exe := repo.getExec(exec)

	var (
		row cartRow
		err error
	)
	if owner.UserID != "" {
		err = exe.GetContext(ctx, &row,
			`SELECT `+cartColumns+` FROM cart WHERE user_id = $1 AND status = 'active'`+lockClause(forUpdate), owner.UserID)
	} else {
		err = exe.GetContext(ctx, &row,
			`SELECT `+cartColumns+` FROM cart WHERE session_id = $1 AND user_id IS NULL AND status = 'active'`+lockClause(forUpdate),
			owner.SessionID)
	}
	if err != nil {
		return cart.Cart{}, trapNoRowsErr(err, cart.ErrNotFound, "finding cart")
	}

	var rows []cartItemRow
	err = exe.SelectContext(ctx, &rows,
		`SELECT `+cartItemColumns+` FROM cart_item WHERE cart_id = $1 ORDER BY added_at, id`, row.ID)
	if err != nil {
		return cart.Cart{}, errors.Wrap(err, "querying cart items")
	}
	items := make([]cart.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item())
	}
	return row.cart(items), nil
}

func (repo cartRepository) UpdateCart(ctx context.Context, c cart.Cart, exec ...core.DBExecutor) (cart.Cart, error) {
	res, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`UPDATE cart SET user_id = :user_id, session_id = :session_id, status = :status, discount_code = :discount_code,
			updated_at = :updated_at, expires_at = :expires_at
		WHERE id = :id`,
		toCartRow(c))
	if err != nil {
		if isActiveCartViolation(err) {
			return cart.Cart{}, cart.ErrExists
		}
		return cart.Cart{}, errors.Wrap(err, "updating cart")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cart.Cart{}, cart.ErrNotFound
	}
	return c, nil
}

func (repo cartRepository) AddItem(ctx context.Context, it cart.Item, exec ...core.DBExecutor) (cart.Item, error) {
	it.ID = uuid.New().String()
	row := cartItemRow{
		ID:           it.ID,
		CartID:       it.CartID,
		CourseID:     it.CourseID,
		CourseTitle:  it.CourseTitle,
		InstructorID: null.NewString(it.InstructorID, it.InstructorID != ""),
		Price:        it.Price,
		Currency:     it.Currency,
		AddedAt:      it.AddedAt.UTC(),
	}
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`INSERT INTO cart_item (`+cartItemColumns+`)
		VALUES (:id, :cart_id, :course_id, :course_title, :instructor_id, :price, :currency, :added_at)`,
		row)
	if err != nil {
		if database.IsUniqueViolation(err, "cart_item_course_uniq") {
			return cart.Item{}, cart.ErrItemExists
		}
		return cart.Item{}, errors.Wrap(err, "inserting cart item")
	}
	return row.item(), nil
}

func (repo cartRepository) DeleteItem(ctx context.Context, cartID, itemID string, exec ...core.DBExecutor) error {
	if _, err := uuid.Parse(itemID); err != nil {
		return cart.ErrItemNotFound
	}
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM cart_item WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return errors.Wrap(err, "deleting cart item")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

func (repo cartRepository) DeleteItems(ctx context.Context, cartID string, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM cart_item WHERE cart_id = $1`, cartID)
	return errors.Wrap(err, "deleting cart items")
}

func (repo cartRepository) PurgeCarts(ctx context.Context, now, staleBefore time.Time, exec ...core.DBExecutor) (int, error) {
	// items go with their cart
	res, err := repo.getExec(exec).ExecContext(ctx,
		`DELETE FROM cart WHERE expires_at < $1 OR (status <> 'active' AND updated_at < $2)`,
		now.UTC(), staleBefore.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purging carts")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
