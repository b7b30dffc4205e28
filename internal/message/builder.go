// Package message builds RFC 5322 mail messages with MIME attachments.
package message

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailrun/mailrun/internal/dkim"
)

const base64LineLength = 76

// Message is a fully resolved outgoing email.
type Message struct {
	From        string
	To          string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	Attachments []string
}

// Recipients returns the envelope recipient list: the To address
// followed by every Cc and Bcc address. Bcc addresses never appear in
// the message headers.
func (m *Message) Recipients() []string {
	rcpts := make([]string, 0, 1+len(m.Cc)+len(m.Bcc))
	rcpts = append(rcpts, m.To)
	rcpts = append(rcpts, m.Cc...)
	rcpts = append(rcpts, m.Bcc...)
	return rcpts
}

// AttachmentError reports an attachment file that could not be read.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// IsAttachmentError reports whether err is caused by a missing or
// unreadable attachment file.
func IsAttachmentError(err error) bool {
	var attachErr *AttachmentError
	return errors.As(err, &attachErr)
}

// Builder renders Messages into wire-ready bytes.
type Builder struct {
	hostname string
	signer   *dkim.Signer
}

// NewBuilder creates a message builder. The hostname is used for
// Message-ID generation; signer may be nil to skip DKIM signing.
func NewBuilder(hostname string, signer *dkim.Signer) *Builder {
	if hostname == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			hostname = h
		} else {
			hostname = "localhost"
		}
	}

	return &Builder{hostname: hostname, signer: signer}
}

// Build renders the message. Every call produces a unique Message-ID.
func (b *Builder) Build(msg *Message) ([]byte, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", msg.From, err)
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", from.String())
	writeHeader(&buf, "To", msg.To)
	if len(msg.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(msg.Cc, ", "))
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), b.hostname))
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(msg.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", "text/plain; charset=utf-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		buf.WriteString(wrapBase64([]byte(msg.Body)))
		buf.WriteString("\r\n")
	} else {
		if err := writeMultipart(&buf, msg); err != nil {
			return nil, err
		}
	}

	raw := buf.Bytes()
	if b.signer != nil {
		signed, err := b.signer.Sign(raw)
		if err != nil {
			return nil, fmt.Errorf("DKIM signing failed: %w", err)
		}
		return signed, nil
	}

	return raw, nil
}

func writeMultipart(buf *bytes.Buffer, msg *Message) error {
	mw := multipart.NewWriter(buf)
	writeHeader(buf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textHeader.Set("Content-Transfer-Encoding", "base64")

	part, err := mw.CreatePart(textHeader)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := part.Write([]byte(wrapBase64([]byte(msg.Body)))); err != nil {
		return fmt.Errorf("failed to write body part: %w", err)
	}

	for _, path := range msg.Attachments {
		if err := writeAttachment(mw, path); err != nil {
			return err
		}
	}

	return mw.Close()
}

func writeAttachment(mw *multipart.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &AttachmentError{Path: path, Err: err}
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": filepath.Base(path),
	}))

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := part.Write([]byte(wrapBase64(data))); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", path, err)
	}

	return nil
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// wrapBase64 encodes data and folds the output into RFC 2045 length
// lines.
func wrapBase64(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)

	var sb strings.Builder
	for len(encoded) > base64LineLength {
		sb.WriteString(encoded[:base64LineLength])
		sb.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	sb.WriteString(encoded)

	return sb.String()
}
