// Package cart keeps the courses a learner intends to buy, for signed-in users and guests alike,
// and checks them out through the enrollment flow.
package cart

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
)

var NowFunc = time.Now // mockable

// errors
var (
	ErrNotFound         = core.NewNotFoundError("cart_not_found", "cart not found")
	ErrItemNotFound     = core.NewNotFoundError("cart_item_not_found", "item not found in cart")
	ErrExists           = core.NewConflictError("cart_exists", "an active cart already exists")
	ErrItemExists       = core.NewConflictError("course_in_cart", "course already in cart")
	ErrEmpty            = core.NewConflictError("cart_empty", "the cart is empty")
	ErrCourseNotForSale = core.NewConflictError("course_not_for_sale", "course is not available for purchase")
	ErrCurrencyMismatch = core.NewConflictError("currency_mismatch", "the cart holds courses priced in another currency")
	ErrSessionRequired  = core.NewValidationError(nil, core.FieldError{Field: "session_id", Error: "a guest session is required"})
)

type Status string

const (
	StatusActive    Status = "active"
	StatusConverted Status = "converted" // merged into a user cart or checked out
	StatusAbandoned Status = "abandoned" // expired
)

// Owner identifies whose cart it is: a user, or else a guest session.
type Owner struct {
	UserID    string
	SessionID string
}

func (o Owner) IsGuest() bool { return o.UserID == "" }

func (o Owner) Valid() bool { return o.UserID != "" || o.SessionID != "" }

type Cart struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Status    Status `json:"status"`
	Items     []Item `json:"items"`
	// DiscountCode is the coupon attached to the cart; it discounts one course at checkout.
	DiscountCode *string   `json:"discount_code"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c Cart) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// Item captures the course as it was when added.
type Item struct {
	ID           string    `json:"id"`
	CartID       string    `json:"cart_id"`
	CourseID     string    `json:"course_id"`
	CourseTitle  string    `json:"course_title"`
	InstructorID string    `json:"instructor_id,omitempty"`
	Price        int64     `json:"price"` // minor units
	Currency     string    `json:"currency"`
	AddedAt      time.Time `json:"added_at"`
}

// Totals are computed on read from the items and the attached coupon.
type Totals struct {
	ItemCount      int    `json:"item_count"`
	TotalAmount    int64  `json:"total_amount"`
	DiscountAmount int64  `json:"discount_amount"`
	FinalAmount    int64  `json:"final_amount"`
	Currency       string `json:"currency,omitempty"`
	// DiscountedCourseID is the course the coupon applies to.
	DiscountedCourseID string `json:"discounted_course_id,omitempty"`
	// CouponError tells why the attached coupon does not apply anymore.
	CouponError string `json:"coupon_error,omitempty"`
}

type Detail struct {
	Cart
	Totals
}

type AddItemRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

func (r *AddItemRequest) Validate(validate *validator.Validate) error {
	r.CourseID = core.CleanString(r.CourseID, true /* lower */)
	return validate.Struct(r)
}

type CouponRequest struct {
	Code string `json:"code" validate:"required,max=50"`
}

func (r *CouponRequest) Validate(validate *validator.Validate) error {
	r.Code = core.CleanString(r.Code)
	return validate.Struct(r)
}

type CheckoutRequest struct {
	FullName string `json:"full_name" validate:"required,min=2,max=100,personname"`
	Email    string `json:"email" validate:"required,email,max=255"`
}

func (r *CheckoutRequest) Validate(validate *validator.Validate) error {
	r.FullName = core.CleanString(r.FullName)
	r.Email = core.CleanString(r.Email, true /* lower */)
	return validate.Struct(r)
}

// CheckoutLine is the registration outcome of one cart item.
type CheckoutLine struct {
	CourseID   string                     `json:"course_id"`
	Enrollment *enrollment.RegisterResult `json:"enrollment,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

type CheckoutResult struct {
	Lines []CheckoutLine `json:"lines"`
	// Cart holds the items that could not be registered; it is nil once everything was.
	Cart *Detail `json:"cart"`
}

type (
	Repository interface {
		// CreateCart returns ErrExists when the owner already holds an active cart.
		CreateCart(ctx context.Context, c Cart, exec ...core.DBExecutor) (Cart, error)
		// GetActiveCart returns the active cart of the owner with its items, oldest first.
		GetActiveCart(ctx context.Context, owner Owner, forUpdate bool, exec ...core.DBExecutor) (Cart, error)
		// UpdateCart saves the owner, status, coupon and dates of c; not its items.
		UpdateCart(ctx context.Context, c Cart, exec ...core.DBExecutor) (Cart, error)
		// AddItem returns ErrItemExists when the course is already in the cart.
		AddItem(ctx context.Context, it Item, exec ...core.DBExecutor) (Item, error)
		DeleteItem(ctx context.Context, cartID, itemID string, exec ...core.DBExecutor) error
		DeleteItems(ctx context.Context, cartID string, exec ...core.DBExecutor) error
		// PurgeCarts deletes the carts expired before now and the inactive ones last touched before staleBefore.
		PurgeCarts(ctx context.Context, now, staleBefore time.Time, exec ...core.DBExecutor) (int, error)
	}

	// Registrar registers the user to one course.
	Registrar interface {
		Register(ctx context.Context, actor core.Actor, req enrollment.RegisterRequest) (enrollment.RegisterResult, error)
	}

	Service interface {
		// Get returns the owner's active cart, creating it when there is none.
		Get(ctx context.Context, owner Owner) (Detail, error)
		// AddItem is idempotent: a course already in the cart leaves it unchanged.
		AddItem(ctx context.Context, owner Owner, req AddItemRequest) (Detail, error)
		RemoveItem(ctx context.Context, owner Owner, itemID string) (Detail, error)
		ApplyCoupon(ctx context.Context, owner Owner, code string) (Detail, error)
		RemoveCoupon(ctx context.Context, owner Owner) (Detail, error)
		Clear(ctx context.Context, owner Owner) (Detail, error)
		// Merge moves the guest session's items into the user's cart, skipping the courses already there.
		Merge(ctx context.Context, userID, sessionID string) (Detail, error)
		// Checkout registers the user to every course of the cart.
		Checkout(ctx context.Context, actor core.Actor, req CheckoutRequest) (CheckoutResult, error)
		// PurgeExpired deletes the expired carts.
		PurgeExpired(ctx context.Context) (int, error)
	}

	Deps struct {
		Repo        Repository
		Courses     course.Service
		Coupons     coupon.Service
		Enrollments Registrar
		Tx          core.Transactor
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
