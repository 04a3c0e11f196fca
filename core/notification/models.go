package notification

import (
	"time"

	"github.com/trezcool/academia/core"
)

type Type string

const (
	TypeQuestionAnswered    Type = "question_answered"
	TypeAnswerAccepted      Type = "answer_accepted"
	TypeQuestionVoted       Type = "question_voted"
	TypeAnswerVoted         Type = "answer_voted"
	TypeCommentAdded        Type = "comment_added"
	TypeQuestionPinned      Type = "question_pinned"
	TypeQuestionClosed      Type = "question_closed"
	TypeEnrollmentActivated Type = "enrollment_activated"
	TypePaymentCompleted    Type = "payment_completed"
	TypePaymentFailed       Type = "payment_failed"
)

// Types lists every notification type, in display order.
var Types = []Type{
	TypeQuestionAnswered,
	TypeAnswerAccepted,
	TypeQuestionVoted,
	TypeAnswerVoted,
	TypeCommentAdded,
	TypeQuestionPinned,
	TypeQuestionClosed,
	TypeEnrollmentActivated,
	TypePaymentCompleted,
	TypePaymentFailed,
}

func (t Type) Valid() bool {
	_, ok := templates[t]
	return ok
}

// emailByDefault lists the types delivered by email unless the user opted out.
var emailByDefault = map[Type]bool{
	TypeQuestionAnswered:    true,
	TypeAnswerAccepted:      true,
	TypeEnrollmentActivated: true,
}

var ErrNotFound = core.NewNotFoundError("notification_not_found", "notification not found")

// Event is a domain event that may notify its recipient.
type Event struct {
	Type        Type
	RecipientID string
	ActorID     string
	Data        map[string]interface{}
}

type Notification struct {
	ID          string                 `json:"id"`
	RecipientID string                 `json:"recipient_id"`
	Type        Type                   `json:"type"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data"`
	IsRead      bool                   `json:"is_read"`
	ReadAt      *time.Time             `json:"read_at"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ExpiresAt   *time.Time             `json:"expires_at"`
}

type Preference struct {
	UserID string `json:"-"`
	Type   Type   `json:"type"`
	InApp  bool   `json:"in_app"`
	Email  bool   `json:"email"`
}

func DefaultPreference(userID string, typ Type) Preference {
	return Preference{UserID: userID, Type: typ, InApp: true, Email: emailByDefault[typ]}
}

type PreferenceUpdate struct {
	Type  Type  `json:"type" validate:"required"`
	InApp *bool `json:"in_app"`
	Email *bool `json:"email"`
}

type UpdatePreferences struct {
	Preferences []PreferenceUpdate `json:"preferences" validate:"required,min=1,dive"`
}

type QueryFilter struct {
	Unread bool `query:"unread"`
	Type   Type `query:"type"`
}

type Stats struct {
	Total  int          `json:"total"`
	Unread int          `json:"unread"`
	ByType map[Type]int `json:"by_type"`
}

type ListResult struct {
	Items       []Notification  `json:"items"`
	Pagination  core.Pagination `json:"pagination"`
	UnreadCount int             `json:"unread_count"`
}
