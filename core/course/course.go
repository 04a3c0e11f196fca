package course

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var (
	NowFunc = time.Now // mockable

	ErrNotFound = core.NewNotFoundError("course_not_found", "course not found")
)

type Course struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        int64     `json:"price"` // minor units
	Currency     string    `json:"currency"`
	IsPublished  bool      `json:"is_published"`
	InstructorID string    `json:"instructor_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c Course) IsFree() bool { return c.Price == 0 }

// Progress is the learning record materialized when an enrollment is activated.
type Progress struct {
	EnrollmentID    string    `json:"enrollment_id"`
	UserID          string    `json:"user_id"`
	CourseID        string    `json:"course_id"`
	ProgressPercent int       `json:"progress_percent"`
	StartedAt       time.Time `json:"started_at"`
}

type NewCourse struct {
	Title        string `json:"title" validate:"required,min=3,max=200"`
	Price        int64  `json:"price" validate:"min=0"`
	Currency     string `json:"currency" validate:"required,len=3,alpha"`
	IsPublished  bool   `json:"is_published"`
	InstructorID string `json:"instructor_id" validate:"omitempty,uuid4"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Currency = strings.ToUpper(core.CleanString(nc.Currency))
	nc.InstructorID = core.CleanString(nc.InstructorID, true /* lower */)
	return validate.Struct(nc)
}

type QueryFilter struct {
	PublishedOnly bool
	InstructorID  string
}

type (
	Repository interface {
		CreateCourse(ctx context.Context, crs Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error)
		QueryCourses(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Course, error)
		// CreateProgress is a no-op when the enrollment already has a progress record.
		CreateProgress(ctx context.Context, prog Progress, exec ...core.DBExecutor) (Progress, error)
	}

	Service interface {
		Create(ctx context.Context, nc NewCourse) (Course, error)
		GetByID(ctx context.Context, id string) (Course, error)
		Query(ctx context.Context, filter QueryFilter) ([]Course, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	now := NowFunc().UTC()
	crs, err := svc.repo.CreateCourse(ctx, Course{
		Title:        nc.Title,
		Price:        nc.Price,
		Currency:     nc.Currency,
		IsPublished:  nc.IsPublished,
		InstructorID: nc.InstructorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Course{}, errors.Wrap(err, "creating course")
	}
	return crs, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter)
}
