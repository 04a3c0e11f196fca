// Package access answers whether a user may consume the content of a course.
package access

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/enrollment"
)

// Reasons a user has no access.
const (
	ReasonNotEnrolled       = "NOT_ENROLLED"
	ReasonPaymentPending    = "PAYMENT_PENDING"
	ReasonActivationPending = "ACTIVATION_PENDING"
	ReasonExpired           = "ENROLLMENT_EXPIRED"
)

type Decision struct {
	HasAccess    bool              `json:"has_access"`
	Reason       string            `json:"reason,omitempty"`
	EnrollmentID string            `json:"enrollment_id,omitempty"`
	Status       enrollment.Status `json:"status,omitempty"`
}

// EnrollmentFinder is the read side of the enrollment store the gate needs.
type EnrollmentFinder interface {
	QueryUserCourse(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) ([]enrollment.Enrollment, error)
}

type Gate struct {
	enrollments EnrollmentFinder
}

func NewGate(enrollments EnrollmentFinder) *Gate {
	return &Gate{enrollments: enrollments}
}

// Check is a pure read: it never changes enrollments.
func (g *Gate) Check(ctx context.Context, userID, courseID string) (Decision, error) {
	enrs, err := g.enrollments.QueryUserCourse(ctx, userID, courseID)
	if err != nil {
		return Decision{}, errors.Wrap(err, "querying enrollments")
	}
	return Decide(enrs), nil
}

// Decide picks the live enrollment among enrs (newest first) and explains the decision.
func Decide(enrs []enrollment.Enrollment) Decision {
	var cancelled *enrollment.Enrollment
	for i := range enrs {
		enr := enrs[i]
		if enr.Status == enrollment.StatusCancelled {
			if cancelled == nil {
				cancelled = &enrs[i]
			}
			continue
		}

		d := Decision{EnrollmentID: enr.ID, Status: enr.Status}
		switch enr.Status {
		case enrollment.StatusActive:
			if enr.AccessGranted {
				d.HasAccess = true
			} else {
				d.Reason = ReasonActivationPending
			}
		case enrollment.StatusPending, enrollment.StatusPaymentPending:
			d.Reason = ReasonPaymentPending
		default:
			d.Reason = ReasonActivationPending
		}
		return d
	}

	if cancelled != nil {
		return Decision{Reason: ReasonExpired, EnrollmentID: cancelled.ID, Status: cancelled.Status}
	}
	return Decision{Reason: ReasonNotEnrolled}
}
