package imap

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/radiorabe/kanboard-tasks-from-email/model"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
}

// Session is an authenticated IMAP connection with a selected mailbox. It is
// used by exactly one run loop; none of its methods are safe for concurrent
// use.
type Session struct {
	opts   Options
	client *imapclient.Client
	logger *slog.Logger
}

// Dial connects, authenticates and selects the configured mailbox.
func Dial(opts Options, logger *slog.Logger) (*Session, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{}

	if opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	mailbox := opts.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("select mailbox %s: %w", mailbox, err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username, "mailbox", mailbox, "tls", opts.UseTLS)
	}

	return &Session{opts: opts, client: client, logger: logger}, nil
}

// SearchUnseen returns the UIDs of all messages in the selected mailbox that
// do not carry the \Seen flag, in mailbox order.
func (s *Session) SearchUnseen() ([]imapv2.UID, error) {
	criteria := &imapv2.SearchCriteria{
		NotFlag: []imapv2.Flag{imapv2.FlagSeen},
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	return data.AllUIDs(), nil
}

// Fetch retrieves the full raw bytes of one message. A regular fetch marks
// the message \Seen on the server; with peek set the flag is left untouched
// so a dry run keeps the message queued for the next real run.
func (s *Session) Fetch(uid imapv2.UID, peek bool) (model.Message, error) {
	section := &imapv2.FetchItemBodySection{Peek: peek}
	options := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	cmd := s.client.Fetch(imapv2.UIDSetNum(uid), options)

	msg := cmd.Next()
	if msg == nil {
		_ = cmd.Close()
		return model.Message{}, fmt.Errorf("fetch message %d: no data", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		_ = cmd.Close()
		return model.Message{}, fmt.Errorf("fetch message %d: %w", uid, err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		_ = cmd.Close()
		return model.Message{}, fmt.Errorf("fetch message %d: body section missing", uid)
	}

	if err := cmd.Close(); err != nil {
		return model.Message{}, fmt.Errorf("fetch message %d close: %w", uid, err)
	}

	return model.Message{UID: uid, Size: int64(len(raw)), Raw: raw}, nil
}

// Close logs out and tears down the connection.
func (s *Session) Close() {
	if err := s.client.Logout().Wait(); err != nil {
		if s.logger != nil {
			s.logger.Warn("imap logout failed", "err", err)
		}
	}
	if err := s.client.Close(); err != nil && s.logger != nil {
		s.logger.Debug("imap connection closed", "err", err)
	}
}
