package enrollment

import (
	"context"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
)

type progressProvisioner struct {
	courses course.Repository
}

var _ Provisioner = (*progressProvisioner)(nil) // interface compliance check

// NewProgressProvisioner activates enrollments by starting their course progress record.
func NewProgressProvisioner(courses course.Repository) Provisioner {
	return &progressProvisioner{courses: courses}
}

func (p *progressProvisioner) Provision(ctx context.Context, enr Enrollment, exec core.DBExecutor) error {
	_, err := p.courses.CreateProgress(ctx, course.Progress{
		EnrollmentID: enr.ID,
		UserID:       enr.UserID,
		CourseID:     enr.CourseID,
		StartedAt:    NowFunc().UTC(),
	}, exec)
	return err
}
