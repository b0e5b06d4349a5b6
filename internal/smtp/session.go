package smtp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nshfwz/forsaken-mail/internal/address"
	"github.com/nshfwz/forsaken-mail/internal/conf"
	"github.com/nshfwz/forsaken-mail/internal/mail"
	"github.com/nshfwz/forsaken-mail/internal/metrics"
	"github.com/nshfwz/forsaken-mail/internal/store"
)

// recipient is one accepted RCPT TO target: the storage mailbox and the
// address rendered for the message's To field.
type recipient struct {
	mailbox string
	address string
}

// replyError carries an SMTP status for a failed DATA body read.
type replyError struct {
	code int
	text string
}

func (e *replyError) Error() string { return e.text }

// session is the per-connection SMTP state machine.
type session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	cfg      *conf.Config
	store    *store.Store
	logger   *zap.Logger
	metrics  metrics.Collector
	announce string

	from       string
	recipients []recipient
}

func newSession(conn net.Conn, cfg *conf.Config, st *store.Store, logger *zap.Logger, collector metrics.Collector) *session {
	announce := cfg.Domain
	if announce == "" {
		announce = "localhost"
	}
	return &session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		cfg:      cfg,
		store:    st,
		logger:   logger,
		metrics:  collector,
		announce: announce,
	}
}

// handle runs the session until the client quits or the connection drops.
// A clean disconnect returns nil.
func (s *session) handle() error {
	if err := s.reply("220 " + s.announce + " ESMTP ready"); err != nil {
		return err
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		atEOF := err == io.EOF

		input := strings.TrimRight(line, "\r\n")
		if input != "" {
			quit, cmdErr := s.dispatch(input)
			if cmdErr != nil {
				return cmdErr
			}
			if quit {
				return nil
			}
		}

		if atEOF {
			return nil
		}
	}
}

// dispatch executes one command line. The returned error is a connection
// failure; protocol-level rejections are replied to the client instead.
func (s *session) dispatch(input string) (quit bool, err error) {
	verb, arg := splitCommand(input)
	switch verb {
	case "EHLO", "HELO", "MAIL", "RCPT", "DATA", "RSET", "NOOP", "QUIT":
		s.metrics.CommandProcessed(verb)
	default:
		s.metrics.CommandProcessed("UNKNOWN")
	}

	switch verb {
	case "EHLO":
		return false, s.replyLines(
			"250-"+s.announce,
			fmt.Sprintf("250-SIZE %d", s.cfg.MaxMessageBytes),
			"250 8BITMIME",
		)
	case "HELO":
		return false, s.reply("250 " + s.announce)
	case "MAIL":
		return false, s.handleMail(arg)
	case "RCPT":
		return false, s.handleRcpt(arg)
	case "DATA":
		return false, s.handleData()
	case "RSET":
		s.resetTransaction()
		return false, s.reply("250 OK")
	case "NOOP":
		return false, s.reply("250 OK")
	case "QUIT":
		return true, s.reply("221 Bye")
	default:
		s.logger.Debug("unknown command", zap.String("line", input))
		return false, s.reply("500 command not recognized")
	}
}

// handleMail processes MAIL FROM. An empty path (<>) clears the sender and
// is accepted; any accepted MAIL resets the recipient list.
func (s *session) handleMail(arg string) error {
	from, err := extractPath(arg, "FROM:")
	if err != nil {
		return s.reply("550 " + err.Error())
	}
	s.recipients = s.recipients[:0]

	if from == "" {
		s.from = ""
		return s.reply("250 OK")
	}

	_, domain, err := address.ParseEmail(from)
	if err != nil {
		return s.reply("550 invalid sender address")
	}
	if s.cfg.IsSenderDomainBlocked(domain) {
		return s.reply("530 sender domain is blocked")
	}

	s.from = strings.ToLower(from)
	return s.reply("250 OK")
}

func (s *session) handleRcpt(arg string) error {
	to, err := extractPath(arg, "TO:")
	if err != nil {
		return s.reply("550 " + err.Error())
	}

	mailbox, rendered, err := address.NormalizeMailbox(to, s.cfg.Domain)
	if err != nil {
		return s.reply("550 " + err.Error())
	}
	if s.cfg.IsMailboxBlacklisted(mailbox) {
		return s.reply("550 mailbox is blocked")
	}

	s.recipients = append(s.recipients, recipient{mailbox: mailbox, address: rendered})
	return s.reply("250 OK")
}

func (s *session) handleData() error {
	if len(s.recipients) == 0 {
		return s.reply("554 no recipients")
	}
	if err := s.reply("354 End data with <CR><LF>.<CR><LF>"); err != nil {
		return err
	}

	raw, dataErr := s.readDataBlock()
	if dataErr != nil {
		s.resetTransaction()
		return s.replyf("%d %s", dataErr.code, dataErr.text)
	}

	parsed, err := mail.Parse(raw)
	if err != nil {
		s.resetTransaction()
		return s.reply("550 invalid message content")
	}

	now := time.Now().UTC()
	for _, rcpt := range s.recipients {
		msg := store.Message{
			ID:         newMessageID(),
			Mailbox:    rcpt.mailbox,
			To:         rcpt.address,
			From:       parsed.From,
			Subject:    parsed.Subject,
			Date:       parsed.Date,
			Text:       parsed.Text,
			Html:       parsed.Html,
			Headers:    parsed.Headers,
			ReceivedAt: now,
		}
		if strings.TrimSpace(msg.From) == "" {
			msg.From = s.from
		}
		if msg.Date.IsZero() {
			msg.Date = now
		}

		s.store.Add(rcpt.mailbox, msg)
		s.logger.Info("mail received",
			zap.String("mailbox", rcpt.mailbox),
			zap.String("from", s.from),
			zap.String("subject", parsed.Subject))
	}
	s.metrics.MessageAccepted(len(raw))

	s.resetTransaction()
	return s.reply("250 message accepted")
}

// readDataBlock consumes the message body after a 354 reply. Lines are
// appended with their original terminators after dot-unstuffing; a lone dot
// line ends the body. The size limit applies to the decoded bytes.
func (s *session) readDataBlock() ([]byte, *replyError) {
	raw := make([]byte, 0, 4096)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, &replyError{code: 451, text: "failed to read message"}
		}
		atEOF := err == io.EOF
		if atEOF && line == "" {
			return nil, &replyError{code: 451, text: "message terminated unexpectedly"}
		}

		if line == ".\r\n" || line == ".\n" || line == "." {
			return raw, nil
		}

		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		raw = append(raw, line...)
		if len(raw) > s.cfg.MaxMessageBytes {
			return nil, &replyError{code: 552, text: "message too large"}
		}

		if atEOF {
			return nil, &replyError{code: 451, text: "message terminated unexpectedly"}
		}
	}
}

func (s *session) resetTransaction() {
	s.from = ""
	s.recipients = s.recipients[:0]
}

func (s *session) reply(text string) error {
	if _, err := s.writer.WriteString(text + "\r\n"); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *session) replyf(format string, args ...any) error {
	return s.reply(fmt.Sprintf(format, args...))
}

func (s *session) replyLines(lines ...string) error {
	for _, line := range lines {
		if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
			return err
		}
	}
	return s.writer.Flush()
}

// splitCommand separates the verb from its argument. The verb is
// case-insensitive; the argument is everything after the first space,
// trimmed.
func splitCommand(input string) (verb, arg string) {
	parts := strings.SplitN(input, " ", 2)
	verb = strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return verb, arg
}

// extractPath pulls the address out of a MAIL FROM / RCPT TO argument. The
// argument must begin with the expected prefix; the path is either the
// bracketed form <addr> or, lacking brackets, the first whitespace token.
func extractPath(arg, prefix string) (string, error) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", fmt.Errorf("invalid smtp path")
	}

	raw := strings.TrimSpace(arg[len(prefix):])
	if raw == "" {
		return "", fmt.Errorf("invalid smtp path")
	}

	if rest, ok := strings.CutPrefix(raw, "<"); ok {
		closeIdx := strings.Index(rest, ">")
		if closeIdx < 0 {
			return "", fmt.Errorf("invalid smtp path")
		}
		return strings.TrimSpace(rest[:closeIdx]), nil
	}

	return strings.TrimSpace(strings.Fields(raw)[0]), nil
}

func newMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
