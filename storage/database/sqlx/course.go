package sqlxrepos

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
)

type courseRow struct {
	ID           string      `db:"id"`
	Title        string      `db:"title"`
	Price        int64       `db:"price"`
	Currency     string      `db:"currency"`
	IsPublished  bool        `db:"is_published"`
	InstructorID null.String `db:"instructor_id"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (r courseRow) course() course.Course {
	return course.Course{
		ID:           r.ID,
		Title:        r.Title,
		Price:        r.Price,
		Currency:     r.Currency,
		IsPublished:  r.IsPublished,
		InstructorID: r.InstructorID.String,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

const courseColumns = `id, title, price, currency, is_published, instructor_id, created_at, updated_at`

type courseRepository struct {
	baseRepo
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(exec core.DBExecutor) course.Repository {
	return &courseRepository{baseRepo{exec: exec}}
}

func (repo courseRepository) CreateCourse(ctx context.Context, crs course.Course, exec ...core.DBExecutor) (course.Course, error) {
	row := courseRow{
		ID:           uuid.New().String(),
		Title:        crs.Title,
		Price:        crs.Price,
		Currency:     crs.Currency,
		IsPublished:  crs.IsPublished,
		InstructorID: null.NewString(crs.InstructorID, crs.InstructorID != ""),
		CreatedAt:    crs.CreatedAt.UTC(),
		UpdatedAt:    crs.UpdatedAt.UTC(),
	}
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`INSERT INTO course (`+courseColumns+`)
		VALUES (:id, :title, :price, :currency, :is_published, :instructor_id, :created_at, :updated_at)`,
		row)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return row.course(), nil
}

func (repo courseRepository) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+courseColumns+` FROM course WHERE id = $1`, id)
	if err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "finding course")
	}
	return row.course(), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, filter course.QueryFilter, exec ...core.DBExecutor) ([]course.Course, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.PublishedOnly {
		conds = append(conds, "is_published")
	}
	if filter.InstructorID != "" {
		args = append(args, filter.InstructorID)
		conds = append(conds, "instructor_id::text = $"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + courseColumns + ` FROM course`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC"

	var rows []courseRow
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.course())
	}
	return courses, nil
}

func (repo courseRepository) CreateProgress(ctx context.Context, prog course.Progress, exec ...core.DBExecutor) (course.Progress, error) {
	_, err := repo.getExec(exec).ExecContext(ctx,
		`INSERT INTO course_progress (enrollment_id, user_id, course_id, progress_percent, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (enrollment_id) DO NOTHING`,
		prog.EnrollmentID, prog.UserID, prog.CourseID, prog.ProgressPercent, prog.StartedAt.UTC())
	if err != nil {
		return course.Progress{}, errors.Wrap(err, "inserting course progress")
	}
	return prog, nil
}
