package notification

import (
	"bytes"
	"text/template"
)

type tmplPair struct {
	title   *template.Template
	message *template.Template
}

func mustPair(title, message string) tmplPair {
	return tmplPair{
		title:   template.Must(template.New("title").Option("missingkey=zero").Parse(title)),
		message: template.Must(template.New("message").Option("missingkey=zero").Parse(message)),
	}
}

var templates = map[Type]tmplPair{
	TypeQuestionAnswered: mustPair(
		"New answer to your question",
		`Your question "{{.question_title}}" received a new answer.`),
	TypeAnswerAccepted: mustPair(
		"Your answer was accepted",
		`Your answer to "{{.question_title}}" was accepted.`),
	TypeQuestionVoted: mustPair(
		"Your question received a vote",
		`Your question "{{.question_title}}" was voted {{.direction}}.`),
	TypeAnswerVoted: mustPair(
		"Your answer received a vote",
		`Your answer to "{{.question_title}}" was voted {{.direction}}.`),
	TypeCommentAdded: mustPair(
		"New comment",
		`A comment was added on your {{.target_type}} in "{{.question_title}}".`),
	TypeQuestionPinned: mustPair(
		"Your question was pinned",
		`Your question "{{.question_title}}" was pinned by a moderator.`),
	TypeQuestionClosed: mustPair(
		"Your question was closed",
		`Your question "{{.question_title}}" was closed by a moderator.`),
	TypeEnrollmentActivated: mustPair(
		"Your course is ready",
		`You now have access to "{{.course_title}}".`),
	TypePaymentCompleted: mustPair(
		"Payment received",
		`We received your payment of {{.amount}} {{.currency}} for "{{.course_title}}".`),
	TypePaymentFailed: mustPair(
		"Payment failed",
		`Your payment for "{{.course_title}}" failed: {{.reason}}. You can try again.`),
}

func render(typ Type, data map[string]interface{}) (title, message string, err error) {
	pair := templates[typ]
	if data == nil {
		data = map[string]interface{}{}
	}
	var buff bytes.Buffer
	if err = pair.title.Execute(&buff, data); err != nil {
		return "", "", err
	}
	title = buff.String()
	buff.Reset()
	if err = pair.message.Execute(&buff, data); err != nil {
		return "", "", err
	}
	return title, buff.String(), nil
}
