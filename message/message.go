package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Mail holds the fields extracted from one raw RFC-822 message: the decoded
// routing headers, the first plain-text body, and all named attachments.
type Mail struct {
	From    string
	To      string
	Subject string
	Date    string

	// Body is the plain-text body with line breaks doubled and an
	// "<< Attachment: ... >>" marker line per named attachment. HasBody is
	// false when the message carried neither a plain-text part nor an
	// attachment; callers render absent bodies as the "None" placeholder.
	Body    string
	HasBody bool

	// Attachments maps decoded filenames to decoded payload bytes. On
	// duplicate filenames the last occurrence wins.
	Attachments map[string][]byte

	textCaptured bool
}

// Parse reads a raw message and extracts headers, body and attachments.
func Parse(raw []byte) (*Mail, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	m := &Mail{
		From:        headerText(entity.Header, "From"),
		To:          headerText(entity.Header, "To"),
		Subject:     headerText(entity.Header, "Subject"),
		Date:        entity.Header.Get("Date"),
		Attachments: make(map[string][]byte),
	}

	if err := m.walk(entity); err != nil {
		return nil, err
	}

	return m, nil
}

// walk traverses the part tree depth-first. Multipart containers contribute
// no content themselves.
func (m *Mail) walk(entity *gomessage.Entity) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("next part: %w", err)
			}
			if err := m.walk(part); err != nil {
				return err
			}
		}
	}
	return m.leaf(entity)
}

func (m *Mail) leaf(entity *gomessage.Entity) error {
	contentType, _, err := entity.Header.ContentType()
	if err != nil {
		contentType = ""
	}

	if entity.Header.Get("Content-Disposition") == "" {
		// Only the first plain-text part becomes the body.
		if contentType != "text/plain" || m.textCaptured {
			return nil
		}
		payload, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("read text part: %w", err)
		}
		m.Body = strings.ReplaceAll(string(payload), "\r\n", "\r\n\r\n")
		m.HasBody = true
		m.textCaptured = true
		return nil
	}

	attachmentHeader := mail.AttachmentHeader{Header: entity.Header}
	filename, err := attachmentHeader.Filename()
	if err != nil || filename == "" {
		return nil
	}

	payload, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("read attachment %q: %w", filename, err)
	}
	m.Attachments[filename] = payload

	base := "None"
	if m.HasBody {
		base = m.Body
	}
	m.Body = fmt.Sprintf("%s\n\n<< Attachment: %s >>", base, filename)
	m.HasBody = true

	return nil
}

// headerText returns the decoded header value, falling back to the raw value
// when the encoded form cannot be decoded.
func headerText(h gomessage.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return text
}
