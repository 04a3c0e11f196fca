package sqlxrepos

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/qa"
	"github.com/trezcool/academia/storage/database"
)

type questionRow struct {
	ID             string    `db:"id"`
	AuthorID       string    `db:"author_id"`
	CourseID       string    `db:"course_id"`
	Title          string    `db:"title"`
	Body           string    `db:"body"`
	Category       string    `db:"category"`
	ScopeType      string    `db:"scope_type"`
	ScopeID        string    `db:"scope_id"`
	Status         string    `db:"status"`
	IsPinned       bool      `db:"is_pinned"`
	IsFeatured     bool      `db:"is_featured"`
	VoteScore      int       `db:"vote_score"`
	AnswerCount    int       `db:"answer_count"`
	ViewCount      int       `db:"view_count"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
}

const questionColumns = `id, author_id, course_id, title, body, category, scope_type, scope_id, status, is_pinned,
	is_featured, vote_score, answer_count, view_count, created_at, updated_at, last_activity_at`

func toQuestionRow(q qa.Question) questionRow {
	return questionRow{
		ID:             q.ID,
		AuthorID:       q.AuthorID,
		CourseID:       q.CourseID,
		Title:          q.Title,
		Body:           q.Body,
		Category:       q.Category,
		ScopeType:      string(q.ScopeType),
		ScopeID:        q.ScopeID,
		Status:         string(q.Status),
		IsPinned:       q.IsPinned,
		IsFeatured:     q.IsFeatured,
		VoteScore:      q.VoteScore,
		AnswerCount:    q.AnswerCount,
		ViewCount:      q.ViewCount,
		CreatedAt:      q.CreatedAt.UTC(),
		UpdatedAt:      q.UpdatedAt.UTC(),
		LastActivityAt: q.LastActivityAt.UTC(),
	}
}

func (r questionRow) question() qa.Question {
	return qa.Question{
		ID:             r.ID,
		AuthorID:       r.AuthorID,
		CourseID:       r.CourseID,
		Title:          r.Title,
		Body:           r.Body,
		Category:       r.Category,
		ScopeType:      qa.ScopeType(r.ScopeType),
		ScopeID:        r.ScopeID,
		Status:         qa.Status(r.Status),
		IsPinned:       r.IsPinned,
		IsFeatured:     r.IsFeatured,
		VoteScore:      r.VoteScore,
		AnswerCount:    r.AnswerCount,
		ViewCount:      r.ViewCount,
		Tags:           []qa.Tag{},
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		LastActivityAt: r.LastActivityAt.UTC(),
	}
}

type answerRow struct {
	ID         string    `db:"id"`
	QuestionID string    `db:"question_id"`
	AuthorID   string    `db:"author_id"`
	Body       string    `db:"body"`
	IsAccepted bool      `db:"is_accepted"`
	IsPinned   bool      `db:"is_pinned"`
	VoteScore  int       `db:"vote_score"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const answerColumns = `id, question_id, author_id, body, is_accepted, is_pinned, vote_score, created_at, updated_at`

func (r answerRow) answer() qa.Answer {
	return qa.Answer{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		AuthorID:   r.AuthorID,
		Body:       r.Body,
		IsAccepted: r.IsAccepted,
		IsPinned:   r.IsPinned,
		VoteScore:  r.VoteScore,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type commentRow struct {
	ID         string    `db:"id"`
	TargetType string    `db:"target_type"`
	TargetID   string    `db:"target_id"`
	QuestionID string    `db:"question_id"`
	AuthorID   string    `db:"author_id"`
	Body       string    `db:"body"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const commentColumns = `id, target_type, target_id, question_id, author_id, body, created_at, updated_at`

func (r commentRow) comment() qa.Comment {
	return qa.Comment{
		ID:         r.ID,
		TargetType: qa.TargetType(r.TargetType),
		TargetID:   r.TargetID,
		QuestionID: r.QuestionID,
		AuthorID:   r.AuthorID,
		Body:       r.Body,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type voteRow struct {
	VoterID    string    `db:"voter_id"`
	TargetType string    `db:"target_type"`
	TargetID   string    `db:"target_id"`
	Direction  string    `db:"direction"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type qaRepository struct {
	baseRepo
}

var _ qa.Repository = (*qaRepository)(nil) // interface compliance check

func NewQARepository(exec core.DBExecutor) qa.Repository {
	return &qaRepository{baseRepo{exec: exec}}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// loadTags fills the tags of qs in place.
func (repo qaRepository) loadTags(ctx context.Context, exe core.DBExecutor, qs []qa.Question) error {
	if len(qs) == 0 {
		return nil
	}
	ids := make(pq.StringArray, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	var rows []struct {
		QuestionID string `db:"question_id"`
		qa.Tag
	}
	err := exe.SelectContext(ctx, &rows,
		`SELECT qt.question_id, t.id, t.name, t.slug FROM question_tag qt JOIN tag t ON t.id = qt.tag_id
		WHERE qt.question_id::text = ANY($1) ORDER BY t.name`,
		ids)
	if err != nil {
		return errors.Wrap(err, "loading tags")
	}
	byQuestion := make(map[string][]qa.Tag, len(qs))
	for _, r := range rows {
		byQuestion[r.QuestionID] = append(byQuestion[r.QuestionID], r.Tag)
	}
	for i := range qs {
		if tags, ok := byQuestion[qs[i].ID]; ok {
			qs[i].Tags = tags
		}
	}
	return nil
}

func (repo qaRepository) CreateQuestion(ctx context.Context, q qa.Question, exec ...core.DBExecutor) (qa.Question, error) {
	q.ID = uuid.New().String()
	row := toQuestionRow(q)
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`INSERT INTO question (`+questionColumns+`)
		VALUES (:id, :author_id, :course_id, :title, :body, :category, :scope_type, :scope_id, :status, :is_pinned,
			:is_featured, :vote_score, :answer_count, :view_count, :created_at, :updated_at, :last_activity_at)`,
		row)
	if err != nil {
		return qa.Question{}, errors.Wrap(err, "inserting question")
	}
	return row.question(), nil
}

func (repo qaRepository) GetQuestion(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (qa.Question, error) {
	if !validID(id) {
		return qa.Question{}, qa.ErrQuestionNotFound
	}
	exe := repo.getExec(exec)
	var row questionRow
	err := exe.GetContext(ctx, &row, `SELECT `+questionColumns+` FROM question WHERE id = $1`+lockClause(forUpdate), id)
	if err != nil {
		return qa.Question{}, trapNoRowsErr(err, qa.ErrQuestionNotFound, "finding question")
	}
	qs := []qa.Question{row.question()}
	if err = repo.loadTags(ctx, exe, qs); err != nil {
		return qa.Question{}, err
	}
	return qs[0], nil
}

func (repo qaRepository) UpdateQuestion(ctx context.Context, q qa.Question, exec ...core.DBExecutor) (qa.Question, error) {
	row := toQuestionRow(q)
	res, err := sqlx.NamedExecContext(ctx, repo.getExec(exec),
		`UPDATE question SET title = :title, body = :body, category = :category, status = :status,
			is_pinned = :is_pinned, is_featured = :is_featured, answer_count = :answer_count,
			updated_at = :updated_at, last_activity_at = :last_activity_at
		WHERE id = :id`,
		row)
	if err != nil {
		return qa.Question{}, errors.Wrap(err, "updating question")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qa.Question{}, qa.ErrQuestionNotFound
	}
	return row.question(), nil
}

func (repo qaRepository) DeleteQuestion(ctx context.Context, id string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	_, err := exe.ExecContext(ctx,
		`DELETE FROM vote WHERE (target_type = 'question' AND target_id = $1)
		OR (target_type = 'answer' AND target_id IN (SELECT id FROM answer WHERE question_id = $1))`, id)
	if err != nil {
		return errors.Wrap(err, "deleting question votes")
	}
	// answers, comments and tag links cascade
	res, err := exe.ExecContext(ctx, `DELETE FROM question WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting question")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qa.ErrQuestionNotFound
	}
	return nil
}

func (repo qaRepository) QueryQuestions(ctx context.Context, filter qa.QueryFilter, page core.Page, exec ...core.DBExecutor) ([]qa.Question, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.CourseID != "" {
		if !validID(filter.CourseID) {
			return []qa.Question{}, 0, nil
		}
		conds = append(conds, "course_id = "+arg(filter.CourseID))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	if filter.AuthorID != "" {
		conds = append(conds, "author_id::text = "+arg(filter.AuthorID))
	}
	if filter.Tag != "" {
		conds = append(conds, `id IN (SELECT qt.question_id FROM question_tag qt JOIN tag t ON t.id = qt.tag_id
			WHERE t.slug = `+arg(filter.Tag)+`)`)
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		conds = append(conds, "(title ILIKE "+p+" OR body ILIKE "+p+")")
	}

	ordering := []core.DBOrdering{{Field: "is_pinned"}}
	switch filter.Sort {
	case qa.SortVotes:
		ordering = append(ordering, core.DBOrdering{Field: "vote_score"})
	case qa.SortActivity:
		ordering = append(ordering, core.DBOrdering{Field: "last_activity_at"})
	case qa.SortUnanswered:
		conds = append(conds, "answer_count = 0")
	}
	ordering = append(ordering, core.DBOrdering{Field: "created_at"})
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	exe := repo.getExec(exec)
	var total int
	if err := exe.GetContext(ctx, &total, `SELECT COUNT(*) FROM question`+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting questions")
	}

	q := `SELECT ` + questionColumns + ` FROM question` + where +
		` ORDER BY ` + strings.Join(orderList, ", ") +
		` LIMIT ` + arg(page.Limit) + ` OFFSET ` + arg(page.Offset())
	var rows []questionRow
	if err := exe.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying questions")
	}
	qs := make([]qa.Question, 0, len(rows))
	for _, r := range rows {
		qs = append(qs, r.question())
	}
	if err := repo.loadTags(ctx, exe, qs); err != nil {
		return nil, 0, err
	}
	return qs, total, nil
}

func (repo qaRepository) IncrementViews(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if !validID(id) {
		return qa.ErrQuestionNotFound
	}
	res, err := repo.getExec(exec).ExecContext(ctx, `UPDATE question SET view_count = view_count + 1 WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "counting view")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qa.ErrQuestionNotFound
	}
	return nil
}

func (repo qaRepository) EnsureTags(ctx context.Context, names []string, exec ...core.DBExecutor) ([]qa.Tag, error) {
	exe := repo.getExec(exec)
	slugs := make(pq.StringArray, 0, len(names))
	for _, name := range names {
		slug := qa.Slugify(name)
		if slug == "" {
			continue
		}
		_, err := exe.ExecContext(ctx,
			`INSERT INTO tag (id, name, slug) VALUES ($1, $2, $3) ON CONFLICT (slug) DO NOTHING`,
			uuid.New().String(), name, slug)
		if err != nil {
			return nil, errors.Wrap(err, "inserting tag")
		}
		slugs = append(slugs, slug)
	}

	tags := []qa.Tag{}
	if err := exe.SelectContext(ctx, &tags, `SELECT id, name, slug FROM tag WHERE slug = ANY($1) ORDER BY name`, slugs); err != nil {
		return nil, errors.Wrap(err, "querying tags")
	}
	return tags, nil
}

func (repo qaRepository) SetQuestionTags(ctx context.Context, questionID string, tags []qa.Tag, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	if _, err := exe.ExecContext(ctx, `DELETE FROM question_tag WHERE question_id = $1`, questionID); err != nil {
		return errors.Wrap(err, "clearing question tags")
	}
	for _, t := range tags {
		_, err := exe.ExecContext(ctx,
			`INSERT INTO question_tag (question_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, questionID, t.ID)
		if err != nil {
			return errors.Wrap(err, "tagging question")
		}
	}
	return nil
}

func (repo qaRepository) CreateAnswer(ctx context.Context, a qa.Answer, exec ...core.DBExecutor) (qa.Answer, error) {
	a.ID = uuid.New().String()
	_, err := repo.getExec(exec).ExecContext(ctx,
		`INSERT INTO answer (`+answerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.QuestionID, a.AuthorID, a.Body, a.IsAccepted, a.IsPinned, a.VoteScore, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return qa.Answer{}, errors.Wrap(err, "inserting answer")
	}
	return a, nil
}

func (repo qaRepository) GetAnswer(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (qa.Answer, error) {
	if !validID(id) {
		return qa.Answer{}, qa.ErrAnswerNotFound
	}
	var row answerRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+answerColumns+` FROM answer WHERE id = $1`+lockClause(forUpdate), id)
	if err != nil {
		return qa.Answer{}, trapNoRowsErr(err, qa.ErrAnswerNotFound, "finding answer")
	}
	return row.answer(), nil
}

func (repo qaRepository) UpdateAnswer(ctx context.Context, a qa.Answer, exec ...core.DBExecutor) (qa.Answer, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`UPDATE answer SET body = $2, is_accepted = $3, is_pinned = $4, updated_at = $5 WHERE id = $1`,
		a.ID, a.Body, a.IsAccepted, a.IsPinned, a.UpdatedAt.UTC())
	if err != nil {
		if database.IsUniqueViolation(err, "answer_accepted_uniq") {
			return qa.Answer{}, qa.ErrInvalidTransition
		}
		return qa.Answer{}, errors.Wrap(err, "updating answer")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qa.Answer{}, qa.ErrAnswerNotFound
	}
	return a, nil
}

func (repo qaRepository) DeleteAnswer(ctx context.Context, id string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	if _, err := exe.ExecContext(ctx, `DELETE FROM vote WHERE target_type = 'answer' AND target_id = $1`, id); err != nil {
		return errors.Wrap(err, "deleting answer votes")
	}
	if _, err := exe.ExecContext(ctx, `DELETE FROM comment WHERE target_type = 'answer' AND target_id = $1`, id); err != nil {
		return errors.Wrap(err, "deleting answer comments")
	}
	res, err := exe.ExecContext(ctx, `DELETE FROM answer WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting answer")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qa.ErrAnswerNotFound
	}
	return nil
}

func (repo qaRepository) QueryAnswers(ctx context.Context, questionID string, exec ...core.DBExecutor) ([]qa.Answer, error) {
	var rows []answerRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+answerColumns+` FROM answer WHERE question_id = $1
		ORDER BY is_accepted DESC, is_pinned DESC, vote_score DESC, created_at ASC`,
		questionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	answers := make([]qa.Answer, 0, len(rows))
	for _, r := range rows {
		answers = append(answers, r.answer())
	}
	return answers, nil
}

func (repo qaRepository) CountAnswers(ctx context.Context, questionID, excludedAuthorID string, exec ...core.DBExecutor) (int, error) {
	var n int
	err := repo.getExec(exec).GetContext(ctx, &n,
		`SELECT COUNT(*) FROM answer WHERE question_id = $1 AND ($2::text = '' OR author_id::text <> $2::text)`,
		questionID, excludedAuthorID)
	if err != nil {
		return 0, errors.Wrap(err, "counting answers")
	}
	return n, nil
}

func (repo qaRepository) ClearAccepted(ctx context.Context, questionID string, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx,
		`UPDATE answer SET is_accepted = FALSE WHERE question_id = $1 AND is_accepted`, questionID)
	return errors.Wrap(err, "clearing accepted answer")
}

func (repo qaRepository) CreateComment(ctx context.Context, c qa.Comment, exec ...core.DBExecutor) (qa.Comment, error) {
	c.ID = uuid.New().String()
	_, err := repo.getExec(exec).ExecContext(ctx,
		`INSERT INTO comment (`+commentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, string(c.TargetType), c.TargetID, c.QuestionID, c.AuthorID, c.Body, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return qa.Comment{}, errors.Wrap(err, "inserting comment")
	}
	return c, nil
}

func (repo qaRepository) GetComment(ctx context.Context, id string, exec ...core.DBExecutor) (qa.Comment, error) {
	if !validID(id) {
		return qa.Comment{}, qa.ErrCommentNotFound
	}
	var row commentRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+commentColumns+` FROM comment WHERE id = $1`, id)
	if err != nil {
		return qa.Comment{}, trapNoRowsErr(err, qa.ErrCommentNotFound, "finding comment")
	}
	return row.comment(), nil
}

func (repo qaRepository) UpdateComment(ctx context.Context, c qa.Comment, exec ...core.DBExecutor) (qa.Comment, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`UPDATE comment SET body = $2, updated_at = $3 WHERE id = $1`, c.ID, c.Body, c.UpdatedAt.UTC())
	if err != nil {
		return qa.Comment{}, errors.Wrap(err, "updating comment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qa.Comment{}, qa.ErrCommentNotFound
	}
	return c, nil
}

func (repo qaRepository) DeleteComment(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM comment WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting comment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qa.ErrCommentNotFound
	}
	return nil
}

func (repo qaRepository) QueryComments(ctx context.Context, targetType qa.TargetType, targetID string, exec ...core.DBExecutor) ([]qa.Comment, error) {
	var rows []commentRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+commentColumns+` FROM comment WHERE target_type = $1 AND target_id = $2 ORDER BY created_at ASC`,
		string(targetType), targetID)
	if err != nil {
		return nil, errors.Wrap(err, "querying comments")
	}
	comments := make([]qa.Comment, 0, len(rows))
	for _, r := range rows {
		comments = append(comments, r.comment())
	}
	return comments, nil
}

func (repo qaRepository) GetVote(ctx context.Context, voterID string, targetType qa.TargetType, targetID string, exec ...core.DBExecutor) (qa.Vote, error) {
	var row voteRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT voter_id, target_type, target_id, direction, created_at, updated_at FROM vote
		WHERE voter_id = $1 AND target_type = $2 AND target_id = $3`,
		voterID, string(targetType), targetID)
	if err != nil {
		return qa.Vote{}, trapNoRowsErr(err, qa.ErrVoteNotFound, "finding vote")
	}
	return qa.Vote{
		VoterID:    row.VoterID,
		TargetType: qa.TargetType(row.TargetType),
		TargetID:   row.TargetID,
		Direction:  qa.Direction(row.Direction),
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

func (repo qaRepository) SaveVote(ctx context.Context, v qa.Vote, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx,
		`INSERT INTO vote (voter_id, target_type, target_id, direction, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (voter_id, target_type, target_id) DO UPDATE SET direction = EXCLUDED.direction, updated_at = EXCLUDED.updated_at`,
		v.VoterID, string(v.TargetType), v.TargetID, string(v.Direction), v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	return errors.Wrap(err, "saving vote")
}

func (repo qaRepository) DeleteVote(ctx context.Context, voterID string, targetType qa.TargetType, targetID string, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx,
		`DELETE FROM vote WHERE voter_id = $1 AND target_type = $2 AND target_id = $3`,
		voterID, string(targetType), targetID)
	return errors.Wrap(err, "deleting vote")
}

func (repo qaRepository) MarkVoteNotified(ctx context.Context, voterID string, targetType qa.TargetType, targetID string, exec ...core.DBExecutor) (bool, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`INSERT INTO vote_notice (voter_id, target_type, target_id, created_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT DO NOTHING`,
		voterID, string(targetType), targetID)
	if err != nil {
		return false, errors.Wrap(err, "marking vote notified")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "marking vote notified")
	}
	return n == 1, nil
}

func (repo qaRepository) CountVotes(ctx context.Context, targetType qa.TargetType, targetID string, exec ...core.DBExecutor) (int, error) {
	var n int
	err := repo.getExec(exec).GetContext(ctx, &n,
		`SELECT COUNT(*) FROM vote WHERE target_type = $1 AND target_id = $2`, string(targetType), targetID)
	if err != nil {
		return 0, errors.Wrap(err, "counting votes")
	}
	return n, nil
}

func (repo qaRepository) RecomputeScore(ctx context.Context, targetType qa.TargetType, targetID string, exec ...core.DBExecutor) (int, error) {
	table := "question"
	if targetType == qa.TargetAnswer {
		table = "answer"
	}
	var score int
	err := repo.getExec(exec).GetContext(ctx, &score,
		`UPDATE `+table+` SET vote_score = (
			SELECT COALESCE(SUM(CASE direction WHEN 'up' THEN 1 ELSE -1 END), 0)
			FROM vote WHERE target_type = $1 AND target_id = $2
		) WHERE id = $2 RETURNING vote_score`,
		string(targetType), targetID)
	if err != nil {
		return 0, errors.Wrap(err, "recomputing score")
	}
	return score, nil
}
