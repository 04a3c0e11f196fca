package qa

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusAnswered   Status = "answered"
	StatusClosed     Status = "closed"
)

// transitions of Question.Status; leaving `closed` is a moderator reopen.
var transitions = map[Status][]Status{
	StatusNew:        {StatusInProgress, StatusAnswered, StatusClosed},
	StatusInProgress: {StatusAnswered, StatusNew, StatusClosed},
	StatusAnswered:   {StatusInProgress, StatusNew, StatusClosed},
	StatusClosed:     {StatusNew, StatusInProgress, StatusAnswered},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, st := range transitions[s] {
		if st == to {
			return true
		}
	}
	return false
}

// derivedStatus is the status an open question has given its answers.
func derivedStatus(answerCount int, hasAccepted bool) Status {
	switch {
	case hasAccepted:
		return StatusAnswered
	case answerCount > 0:
		return StatusInProgress
	}
	return StatusNew
}

type ScopeType string

const (
	ScopeCourse     ScopeType = "course"
	ScopeModule     ScopeType = "module"
	ScopeLesson     ScopeType = "lesson"
	ScopeQuiz       ScopeType = "quiz"
	ScopeAssignment ScopeType = "assignment"
)

type TargetType string

const (
	TargetQuestion TargetType = "question"
	TargetAnswer   TargetType = "answer"
)

func (t TargetType) Valid() bool { return t == TargetQuestion || t == TargetAnswer }

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Value is the weight of d in a vote score.
func (d Direction) Value() int {
	if d == Up {
		return 1
	}
	return -1
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases name and joins its words with hyphens.
func Slugify(name string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

type Question struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	CourseID       string    `json:"course_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Category       string    `json:"category"`
	ScopeType      ScopeType `json:"scope_type"`
	ScopeID        string    `json:"scope_id"`
	Status         Status    `json:"status"`
	IsPinned       bool      `json:"is_pinned"`
	IsFeatured     bool      `json:"is_featured"`
	VoteScore      int       `json:"vote_score"`
	AnswerCount    int       `json:"answer_count"`
	ViewCount      int       `json:"view_count"`
	Tags           []Tag     `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// setStatus moves q along the status table; staying put is always allowed.
func (q *Question) setStatus(to Status) error {
	if q.Status == to {
		return nil
	}
	if !q.Status.CanTransitionTo(to) {
		return ErrInvalidTransition.WithData(map[string]interface{}{"from": q.Status, "to": to})
	}
	q.Status = to
	return nil
}

type Answer struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	IsAccepted bool      `json:"is_accepted"`
	IsPinned   bool      `json:"is_pinned"`
	VoteScore  int       `json:"vote_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Comment struct {
	ID         string     `json:"id"`
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	QuestionID string     `json:"question_id"`
	AuthorID   string     `json:"author_id"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Vote struct {
	VoterID    string     `json:"voter_id"`
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Direction  Direction  `json:"direction"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func cleanTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		t = core.CleanString(t)
		if slug := Slugify(t); slug != "" && !seen[slug] {
			seen[slug] = true
			cleaned = append(cleaned, t)
		}
	}
	return cleaned
}

type NewQuestion struct {
	CourseID  string    `json:"course_id" validate:"required"`
	Title     string    `json:"title" validate:"required,min=10,max=200"`
	Body      string    `json:"body" validate:"required,min=20,max=10000"`
	Category  string    `json:"category" validate:"max=50"`
	ScopeType ScopeType `json:"scope_type" validate:"omitempty,oneof=course module lesson quiz assignment"`
	ScopeID   string    `json:"scope_id" validate:"max=64"`
	Tags      []string  `json:"tags" validate:"max=5,dive,max=50"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.CourseID = core.CleanString(nq.CourseID, true /* lower */)
	nq.Title = core.CleanString(nq.Title)
	nq.Body = core.CleanString(nq.Body)
	nq.Category = core.CleanString(nq.Category)
	nq.ScopeID = core.CleanString(nq.ScopeID)
	nq.Tags = cleanTags(nq.Tags)
	if nq.ScopeType == "" {
		nq.ScopeType = ScopeCourse
	}
	return validate.Struct(nq)
}

type UpdateQuestion struct {
	Title    *string   `json:"title" validate:"omitempty,min=10,max=200"`
	Body     *string   `json:"body" validate:"omitempty,min=20,max=10000"`
	Category *string   `json:"category" validate:"omitempty,max=50"`
	Tags     *[]string `json:"tags" validate:"omitempty,max=5,dive,max=50"`
}

func (uq *UpdateQuestion) Validate(validate *validator.Validate) error {
	for _, s := range []*string{uq.Title, uq.Body, uq.Category} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	if uq.Tags != nil {
		tags := cleanTags(*uq.Tags)
		uq.Tags = &tags
	}
	return validate.Struct(uq)
}

type NewAnswer struct {
	Body string `json:"body" validate:"required,min=10,max=5000"`
}

func (na *NewAnswer) Validate(validate *validator.Validate) error {
	na.Body = core.CleanString(na.Body)
	return validate.Struct(na)
}

type NewComment struct {
	Body string `json:"body" validate:"required,min=1,max=1000"`
}

func (nc *NewComment) Validate(validate *validator.Validate) error {
	nc.Body = core.CleanString(nc.Body)
	return validate.Struct(nc)
}

type VoteRequest struct {
	Direction Direction `json:"direction" validate:"required,oneof=up down"`
}

func (vr *VoteRequest) Validate(validate *validator.Validate) error {
	vr.Direction = Direction(core.CleanString(string(vr.Direction), true /* lower */))
	return validate.Struct(vr)
}

type VoteResult struct {
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Score      int        `json:"score"`
	UserVote   *Direction `json:"user_vote"`
}

type Action string

const (
	ActionPin       Action = "pin"
	ActionUnpin     Action = "unpin"
	ActionFeature   Action = "feature"
	ActionUnfeature Action = "unfeature"
	ActionClose     Action = "close"
	ActionReopen    Action = "reopen"
)

type ModerateRequest struct {
	Action Action `json:"action" validate:"required,oneof=pin unpin feature unfeature close reopen"`
}

func (mr *ModerateRequest) Validate(validate *validator.Validate) error {
	mr.Action = Action(core.CleanString(string(mr.Action), true /* lower */))
	return validate.Struct(mr)
}

type Sort string

const (
	SortNewest     Sort = "newest"
	SortVotes      Sort = "votes"
	SortActivity   Sort = "activity"
	SortUnanswered Sort = "unanswered"
)

type QueryFilter struct {
	CourseID string `json:"course_id" query:"course_id"`
	Status   Status `json:"status" query:"status" validate:"omitempty,oneof=new in_progress answered closed"`
	Tag      string `json:"tag" query:"tag"`
	AuthorID string `json:"author_id" query:"author_id"`
	Search   string `json:"search" query:"search" validate:"max=100"`
	Sort     Sort   `json:"sort" query:"sort" validate:"omitempty,oneof=newest votes activity unanswered"`
}

func (f *QueryFilter) Validate(validate *validator.Validate) error {
	f.CourseID = core.CleanString(f.CourseID, true /* lower */)
	f.Tag = Slugify(f.Tag)
	f.AuthorID = core.CleanString(f.AuthorID, true /* lower */)
	f.Search = core.CleanString(f.Search)
	if f.Sort == "" {
		f.Sort = SortNewest
	}
	return validate.Struct(f)
}

type QuestionDetail struct {
	Question
	UserVote *Direction `json:"user_vote"`
}

type QuestionList struct {
	Items      []Question      `json:"items"`
	Pagination core.Pagination `json:"pagination"`
}
