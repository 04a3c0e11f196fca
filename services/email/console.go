package emailsvc

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

type consoleService struct {
	from    mail.Address
	ctxData core.ContextData
	out     io.Writer
	logger  core.Logger
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService prints the messages on stdout instead of sending them.
func NewConsoleService(conf *core.Config, logger core.Logger) core.EmailService {
	return &consoleService{
		from:    conf.DefaultFromEmail(),
		ctxData: core.ContextData{AppName: conf.AppName, FrontendBaseURL: conf.FrontendBaseURL},
		out:     os.Stdout,
		logger:  logger,
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go svc.sendMessage(msg)
	}
}

func (svc *consoleService) sendMessage(msg *core.EmailMessage) bool {
	if err := msg.Render(svc.ctxData); err != nil {
		svc.logger.Error(fmt.Sprintf("emailsvc.console: %v", errors.Wrap(err, "rendering email")), err)
		return false
	}
	if !msg.HasRecipients() || !msg.HasContent() {
		return false
	}
	if err := svc.write(*msg); err != nil {
		svc.logger.Error(fmt.Sprintf("emailsvc.console: %v", err), err)
		return false
	}
	return true
}

func (svc *consoleService) write(msg core.EmailMessage) error {
	body := new(strings.Builder)
	altW := multipart.NewWriter(body)

	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.from.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", subjectPrefix(svc.ctxData.AppName)+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		_, _ = fmt.Fprintf(body, "CC: %s\r\n", joinAddresses(msg.Cc))
	}
	_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", altW.Boundary())

	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return errors.Wrap(err, "creating text/plain part")
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)

	if msg.HTMLContent != "" {
		if w, err = altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}}); err != nil {
			return errors.Wrap(err, "creating text/html part")
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", msg.HTMLContent)
	}
	if err = altW.Close(); err != nil {
		return errors.Wrap(err, "closing multipart writer")
	}

	_, err = fmt.Fprintln(svc.out, body.String())
	return errors.Wrap(err, "writing email")
}

func subjectPrefix(appName string) string {
	return "[" + appName + "] "
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

// Outbox is a console service that sends synchronously and keeps what it sent. Tests use it.
type Outbox struct {
	consoleService
	mu   sync.Mutex
	sent []core.EmailMessage
}

func NewOutbox(conf *core.Config, logger core.Logger) *Outbox {
	return &Outbox{
		consoleService: consoleService{
			from:    conf.DefaultFromEmail(),
			ctxData: core.ContextData{AppName: conf.AppName, FrontendBaseURL: conf.FrontendBaseURL},
			out:     io.Discard,
			logger:  logger,
		},
	}
}

func (box *Outbox) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if box.sendMessage(msg) {
			box.mu.Lock()
			box.sent = append(box.sent, *msg)
			box.mu.Unlock()
		}
	}
}

func (box *Outbox) Sent() []core.EmailMessage {
	box.mu.Lock()
	defer box.mu.Unlock()
	return append([]core.EmailMessage(nil), box.sent...)
}
