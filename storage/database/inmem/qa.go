package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/qa"
)

type qaRepository struct {
	questions   *table[string, qa.Question]
	answers     *table[string, qa.Answer]
	comments    *table[string, qa.Comment]
	votes       *table[voteKey, qa.Vote]
	voteNotices *table[voteKey, struct{}]
	tags        *table[string, qa.Tag]
	questionTag *table[string, []string]
}

var _ qa.Repository = (*qaRepository)(nil) // interface compliance check

func NewQARepository(db *DB) qa.Repository {
	return &qaRepository{
		questions:   db.question,
		answers:     db.answer,
		comments:    db.comment,
		votes:       db.vote,
		voteNotices: db.voteNotice,
		tags:        db.tag,
		questionTag: db.questionTag,
	}
}

// withTags returns q carrying its tags, sorted by name.
func (repo *qaRepository) withTags(q qa.Question) qa.Question {
	repo.questionTag.RLock()
	ids := repo.questionTag.rows[q.ID]
	repo.questionTag.RUnlock()

	repo.tags.RLock()
	defer repo.tags.RUnlock()
	q.Tags = []qa.Tag{}
	for _, t := range repo.tags.rows {
		for _, id := range ids {
			if t.ID == id {
				q.Tags = append(q.Tags, t)
			}
		}
	}
	sort.Slice(q.Tags, func(i, j int) bool { return q.Tags[i].Name < q.Tags[j].Name })
	return q
}

func (repo *qaRepository) CreateQuestion(_ context.Context, q qa.Question, _ ...core.DBExecutor) (qa.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	q.ID = uuid.New().String()
	q.Tags = nil
	repo.questions.rows[q.ID] = q
	q.Tags = []qa.Tag{}
	return q, nil
}

func (repo *qaRepository) GetQuestion(_ context.Context, id string, _ bool, _ ...core.DBExecutor) (qa.Question, error) {
	repo.questions.RLock()
	q, ok := repo.questions.rows[id]
	repo.questions.RUnlock()
	if !ok {
		return qa.Question{}, qa.ErrQuestionNotFound
	}
	return repo.withTags(q), nil
}

func (repo *qaRepository) UpdateQuestion(_ context.Context, q qa.Question, _ ...core.DBExecutor) (qa.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	current, ok := repo.questions.rows[q.ID]
	if !ok {
		return qa.Question{}, qa.ErrQuestionNotFound
	}
	// counters are owned by the store
	q.VoteScore = current.VoteScore
	q.ViewCount = current.ViewCount
	tags := q.Tags
	q.Tags = nil
	repo.questions.rows[q.ID] = q
	q.Tags = tags
	return q, nil
}

func (repo *qaRepository) DeleteQuestion(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.questions.Lock()
	if _, ok := repo.questions.rows[id]; !ok {
		repo.questions.Unlock()
		return qa.ErrQuestionNotFound
	}
	delete(repo.questions.rows, id)
	repo.questions.Unlock()

	repo.answers.RLock()
	var answerIDs []string
	for _, a := range repo.answers.rows {
		if a.QuestionID == id {
			answerIDs = append(answerIDs, a.ID)
		}
	}
	repo.answers.RUnlock()
	for _, aid := range answerIDs {
		if err := repo.DeleteAnswer(ctx, aid, exec...); err != nil {
			return err
		}
	}

	repo.deleteTargetData(qa.TargetQuestion, id)
	repo.comments.Lock()
	for cid, c := range repo.comments.rows {
		if c.QuestionID == id {
			delete(repo.comments.rows, cid)
		}
	}
	repo.comments.Unlock()

	repo.questionTag.Lock()
	delete(repo.questionTag.rows, id)
	repo.questionTag.Unlock()
	return nil
}

// deleteTargetData removes the votes and comments of a target.
func (repo *qaRepository) deleteTargetData(targetType qa.TargetType, targetID string) {
	repo.votes.Lock()
	for k := range repo.votes.rows {
		if k.targetType == targetType && k.targetID == targetID {
			delete(repo.votes.rows, k)
		}
	}
	repo.votes.Unlock()

	repo.comments.Lock()
	for id, c := range repo.comments.rows {
		if c.TargetType == targetType && c.TargetID == targetID {
			delete(repo.comments.rows, id)
		}
	}
	repo.comments.Unlock()
}

func (repo *qaRepository) hasTag(questionID, slug string) bool {
	repo.tags.RLock()
	tag, ok := repo.tags.rows[slug]
	repo.tags.RUnlock()
	if !ok {
		return false
	}
	repo.questionTag.RLock()
	defer repo.questionTag.RUnlock()
	for _, id := range repo.questionTag.rows[questionID] {
		if id == tag.ID {
			return true
		}
	}
	return false
}

func (repo *qaRepository) QueryQuestions(_ context.Context, filter qa.QueryFilter, page core.Page, _ ...core.DBExecutor) ([]qa.Question, int, error) {
	repo.questions.RLock()
	all := make([]qa.Question, 0, len(repo.questions.rows))
	for _, q := range repo.questions.rows {
		all = append(all, q)
	}
	repo.questions.RUnlock()

	search := strings.ToLower(filter.Search)
	qs := make([]qa.Question, 0, len(all))
	for _, q := range all {
		switch {
		case filter.CourseID != "" && q.CourseID != filter.CourseID,
			filter.Status != "" && q.Status != filter.Status,
			filter.AuthorID != "" && q.AuthorID != filter.AuthorID,
			filter.Sort == qa.SortUnanswered && q.AnswerCount > 0,
			search != "" && !strings.Contains(strings.ToLower(q.Title), search) && !strings.Contains(strings.ToLower(q.Body), search),
			filter.Tag != "" && !repo.hasTag(q.ID, filter.Tag):
			continue
		}
		qs = append(qs, q)
	}

	sort.SliceStable(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		switch filter.Sort {
		case qa.SortVotes:
			if a.VoteScore != b.VoteScore {
				return a.VoteScore > b.VoteScore
			}
		case qa.SortActivity:
			if !a.LastActivityAt.Equal(b.LastActivityAt) {
				return a.LastActivityAt.After(b.LastActivityAt)
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	items := paginate(qs, page)
	for i := range items {
		items[i] = repo.withTags(items[i])
	}
	return items, len(qs), nil
}

func (repo *qaRepository) IncrementViews(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	q, ok := repo.questions.rows[id]
	if !ok {
		return qa.ErrQuestionNotFound
	}
	q.ViewCount++
	repo.questions.rows[id] = q
	return nil
}

func (repo *qaRepository) EnsureTags(_ context.Context, names []string, _ ...core.DBExecutor) ([]qa.Tag, error) {
	repo.tags.Lock()
	defer repo.tags.Unlock()

	tags := make([]qa.Tag, 0, len(names))
	for _, name := range names {
		slug := qa.Slugify(name)
		if slug == "" {
			continue
		}
		tag, ok := repo.tags.rows[slug]
		if !ok {
			tag = qa.Tag{ID: uuid.New().String(), Name: name, Slug: slug}
			repo.tags.rows[slug] = tag
		}
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (repo *qaRepository) SetQuestionTags(_ context.Context, questionID string, tags []qa.Tag, _ ...core.DBExecutor) error {
	repo.questionTag.Lock()
	defer repo.questionTag.Unlock()

	ids := make([]string, 0, len(tags))
	for _, t := range tags {
		ids = append(ids, t.ID)
	}
	repo.questionTag.rows[questionID] = ids
	return nil
}

func (repo *qaRepository) CreateAnswer(_ context.Context, a qa.Answer, _ ...core.DBExecutor) (qa.Answer, error) {
	repo.answers.Lock()
	defer repo.answers.Unlock()

	a.ID = uuid.New().String()
	repo.answers.rows[a.ID] = a
	return a, nil
}

func (repo *qaRepository) GetAnswer(_ context.Context, id string, _ bool, _ ...core.DBExecutor) (qa.Answer, error) {
	repo.answers.RLock()
	defer repo.answers.RUnlock()

	if a, ok := repo.answers.rows[id]; ok {
		return a, nil
	}
	return qa.Answer{}, qa.ErrAnswerNotFound
}

func (repo *qaRepository) UpdateAnswer(_ context.Context, a qa.Answer, _ ...core.DBExecutor) (qa.Answer, error) {
	repo.answers.Lock()
	defer repo.answers.Unlock()

	current, ok := repo.answers.rows[a.ID]
	if !ok {
		return qa.Answer{}, qa.ErrAnswerNotFound
	}
	if a.IsAccepted {
		// one accepted answer per question
		for _, other := range repo.answers.rows {
			if other.ID != a.ID && other.QuestionID == a.QuestionID && other.IsAccepted {
				return qa.Answer{}, qa.ErrInvalidTransition
			}
		}
	}
	a.VoteScore = current.VoteScore
	repo.answers.rows[a.ID] = a
	return a, nil
}

func (repo *qaRepository) DeleteAnswer(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.answers.Lock()
	if _, ok := repo.answers.rows[id]; !ok {
		repo.answers.Unlock()
		return qa.ErrAnswerNotFound
	}
	delete(repo.answers.rows, id)
	repo.answers.Unlock()

	repo.deleteTargetData(qa.TargetAnswer, id)
	return nil
}

func (repo *qaRepository) QueryAnswers(_ context.Context, questionID string, _ ...core.DBExecutor) ([]qa.Answer, error) {
	repo.answers.RLock()
	defer repo.answers.RUnlock()

	answers := []qa.Answer{}
	for _, a := range repo.answers.rows {
		if a.QuestionID == questionID {
			answers = append(answers, a)
		}
	}
	sort.SliceStable(answers, func(i, j int) bool {
		a, b := answers[i], answers[j]
		switch {
		case a.IsAccepted != b.IsAccepted:
			return a.IsAccepted
		case a.IsPinned != b.IsPinned:
			return a.IsPinned
		case a.VoteScore != b.VoteScore:
			return a.VoteScore > b.VoteScore
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return answers, nil
}

func (repo *qaRepository) CountAnswers(_ context.Context, questionID, excludedAuthorID string, _ ...core.DBExecutor) (int, error) {
	repo.answers.RLock()
	defer repo.answers.RUnlock()

	var n int
	for _, a := range repo.answers.rows {
		if a.QuestionID == questionID && (excludedAuthorID == "" || a.AuthorID != excludedAuthorID) {
			n++
		}
	}
	return n, nil
}

func (repo *qaRepository) ClearAccepted(_ context.Context, questionID string, _ ...core.DBExecutor) error {
	repo.answers.Lock()
	defer repo.answers.Unlock()

	for id, a := range repo.answers.rows {
		if a.QuestionID == questionID && a.IsAccepted {
			a.IsAccepted = false
			repo.answers.rows[id] = a
		}
	}
	return nil
}

func (repo *qaRepository) CreateComment(_ context.Context, c qa.Comment, _ ...core.DBExecutor) (qa.Comment, error) {
	repo.comments.Lock()
	defer repo.comments.Unlock()

	c.ID = uuid.New().String()
	repo.comments.rows[c.ID] = c
	return c, nil
}

func (repo *qaRepository) GetComment(_ context.Context, id string, _ ...core.DBExecutor) (qa.Comment, error) {
	repo.comments.RLock()
	defer repo.comments.RUnlock()

	if c, ok := repo.comments.rows[id]; ok {
		return c, nil
	}
	return qa.Comment{}, qa.ErrCommentNotFound
}

func (repo *qaRepository) UpdateComment(_ context.Context, c qa.Comment, _ ...core.DBExecutor) (qa.Comment, error) {
	repo.comments.Lock()
	defer repo.comments.Unlock()

	if _, ok := repo.comments.rows[c.ID]; !ok {
		return qa.Comment{}, qa.ErrCommentNotFound
	}
	repo.comments.rows[c.ID] = c
	return c, nil
}

func (repo *qaRepository) DeleteComment(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.comments.Lock()
	defer repo.comments.Unlock()

	if _, ok := repo.comments.rows[id]; !ok {
		return qa.ErrCommentNotFound
	}
	delete(repo.comments.rows, id)
	return nil
}

func (repo *qaRepository) QueryComments(_ context.Context, targetType qa.TargetType, targetID string, _ ...core.DBExecutor) ([]qa.Comment, error) {
	repo.comments.RLock()
	defer repo.comments.RUnlock()

	comments := []qa.Comment{}
	for _, c := range repo.comments.rows {
		if c.TargetType == targetType && c.TargetID == targetID {
			comments = append(comments, c)
		}
	}
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, nil
}

func (repo *qaRepository) GetVote(_ context.Context, voterID string, targetType qa.TargetType, targetID string, _ ...core.DBExecutor) (qa.Vote, error) {
	repo.votes.RLock()
	defer repo.votes.RUnlock()

	if v, ok := repo.votes.rows[voteKey{voterID, targetType, targetID}]; ok {
		return v, nil
	}
	return qa.Vote{}, qa.ErrVoteNotFound
}

func (repo *qaRepository) SaveVote(_ context.Context, v qa.Vote, _ ...core.DBExecutor) error {
	repo.votes.Lock()
	defer repo.votes.Unlock()

	repo.votes.rows[voteKey{v.VoterID, v.TargetType, v.TargetID}] = v
	return nil
}

func (repo *qaRepository) DeleteVote(_ context.Context, voterID string, targetType qa.TargetType, targetID string, _ ...core.DBExecutor) error {
	repo.votes.Lock()
	defer repo.votes.Unlock()

	delete(repo.votes.rows, voteKey{voterID, targetType, targetID})
	return nil
}

func (repo *qaRepository) MarkVoteNotified(_ context.Context, voterID string, targetType qa.TargetType, targetID string, _ ...core.DBExecutor) (bool, error) {
	repo.voteNotices.Lock()
	defer repo.voteNotices.Unlock()

	key := voteKey{voterID, targetType, targetID}
	if _, ok := repo.voteNotices.rows[key]; ok {
		return false, nil
	}
	repo.voteNotices.rows[key] = struct{}{}
	return true, nil
}

func (repo *qaRepository) CountVotes(_ context.Context, targetType qa.TargetType, targetID string, _ ...core.DBExecutor) (int, error) {
	repo.votes.RLock()
	defer repo.votes.RUnlock()

	var n int
	for k := range repo.votes.rows {
		if k.targetType == targetType && k.targetID == targetID {
			n++
		}
	}
	return n, nil
}

func (repo *qaRepository) RecomputeScore(_ context.Context, targetType qa.TargetType, targetID string, _ ...core.DBExecutor) (int, error) {
	repo.votes.RLock()
	var score int
	for k, v := range repo.votes.rows {
		if k.targetType == targetType && k.targetID == targetID {
			score += v.Direction.Value()
		}
	}
	repo.votes.RUnlock()

	switch targetType {
	case qa.TargetQuestion:
		repo.questions.Lock()
		defer repo.questions.Unlock()
		q, ok := repo.questions.rows[targetID]
		if !ok {
			return 0, qa.ErrQuestionNotFound
		}
		q.VoteScore = score
		repo.questions.rows[targetID] = q
	case qa.TargetAnswer:
		repo.answers.Lock()
		defer repo.answers.Unlock()
		a, ok := repo.answers.rows[targetID]
		if !ok {
			return 0, qa.ErrAnswerNotFound
		}
		a.VoteScore = score
		repo.answers.rows[targetID] = a
	}
	return score, nil
}
