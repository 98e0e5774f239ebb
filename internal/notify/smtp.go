package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SMTPDispatcher sends mail over SMTP with PLAIN auth. Each dispatch runs in
// its own goroutine with a bounded timeout; failures are logged and
// swallowed.
type SMTPDispatcher struct {
	Host     string
	Port     int
	Username string
	Password string
	FromAddr string
	FromName string
	Timeout  time.Duration

	log *zap.Logger
}

func NewSMTPDispatcher(host string, port int, username, password, fromAddr, fromName string, log *zap.Logger) *SMTPDispatcher {
	return &SMTPDispatcher{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		FromAddr: fromAddr,
		FromName: fromName,
		Timeout:  15 * time.Second,
		log:      log,
	}
}

func (d *SMTPDispatcher) Dispatch(ctx context.Context, msg Message) {
	go func() {
		done := make(chan error, 1)
		go func() { done <- d.send(msg) }()

		select {
		case err := <-done:
			if err != nil {
				d.log.Warn("Notification delivery failed",
					zap.String("to", msg.To),
					zap.String("subject", msg.Subject),
					zap.Error(err))
				return
			}
			d.log.Info("Notification delivered",
				zap.String("to", msg.To),
				zap.String("subject", msg.Subject))
		case <-time.After(d.Timeout):
			d.log.Warn("Notification delivery timed out",
				zap.String("to", msg.To),
				zap.String("subject", msg.Subject))
		}
	}()
}

func (d *SMTPDispatcher) send(msg Message) error {
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	auth := smtp.PlainAuth("", d.Username, d.Password, d.Host)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", d.FromName, d.FromAddr)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return smtp.SendMail(addr, auth, d.FromAddr, []string{msg.To}, []byte(b.String()))
}
