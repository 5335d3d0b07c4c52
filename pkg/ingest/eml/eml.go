// Package eml reads order confirmation emails (.eml) into plain text for extraction.
package eml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// MaxBodySize caps the text handed to the model.
const MaxBodySize = 32 << 10

// Message is the readable part of an email.
type Message struct {
	From    string
	Subject string
	Date    time.Time
	Text    string
	// HTML is set when the body had no text/plain part.
	HTML bool
}

// Looks reports whether a file looks like an email, by extension or leading headers.
func Looks(name string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(name), ".eml") {
		return true
	}
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	hasFrom := bytes.Contains(head, []byte("\nFrom:")) || bytes.HasPrefix(head, []byte("From:"))
	return hasFrom && bytes.Contains(head, []byte("Subject:"))
}

// Parse reads an RFC 5322 message. Undecodable parts are skipped.
func Parse(data []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing email: %w", err)
	}

	m := &Message{
		From:    decodeHeader(msg.Header.Get("From")),
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}
	if d, err := mail.ParseDate(msg.Header.Get("Date")); err == nil {
		m.Date = d
	}

	b := &body{}
	if err := b.read(msg.Body, msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding")); err != nil {
		return nil, err
	}
	switch {
	case b.text != "":
		m.Text = b.text
	case b.html != "":
		m.Text = stripHTML(b.html)
		m.HTML = true
	}
	if len(m.Text) > MaxBodySize {
		m.Text = m.Text[:MaxBodySize]
	}
	return m, nil
}

// ExtractionText joins the subject and body for the model.
func (m *Message) ExtractionText() string {
	var sb strings.Builder
	if m.Subject != "" {
		sb.WriteString("Subject: " + m.Subject + "\n")
	}
	if m.From != "" {
		sb.WriteString("From: " + m.From + "\n")
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.TrimSpace(m.Text))
	return sb.String()
}

type body struct {
	text string
	html string
}

func (b *body) read(r io.Reader, contentType, transferEncoding string) error {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading multipart body: %w", err)
			}
			if disp, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition")); disp == "attachment" {
				continue
			}
			if err := b.read(part, part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding")); err != nil {
				return err
			}
		}
	}

	if !strings.HasPrefix(mediaType, "text/") {
		return nil
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	content := decodeTransfer(raw, strings.ToLower(strings.TrimSpace(transferEncoding)))
	content = decodeCharset(content, params["charset"])

	if mediaType == "text/html" {
		if b.html == "" {
			b.html = string(content)
		}
	} else if b.text == "" {
		b.text = string(content)
	}
	return nil
}

func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}

func decodeTransfer(data []byte, encoding string) []byte {
	switch encoding {
	case "base64":
		cleaned := bytes.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' {
				return -1
			}
			return r
		}, data)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
		n, err := base64.StdEncoding.Decode(out, cleaned)
		if err != nil {
			return data
		}
		return out[:n]
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(data)))
		if err != nil {
			return data
		}
		return out
	default:
		return data
	}
}

// decodeCharset converts to UTF-8. Unknown charsets are passed through.
func decodeCharset(data []byte, charset string) []byte {
	var dec transform.Transformer
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8", "us-ascii":
		return data
	case "iso-8859-1", "latin1":
		dec = charmap.ISO8859_1.NewDecoder()
	case "iso-8859-2", "latin2":
		dec = charmap.ISO8859_2.NewDecoder()
	case "iso-8859-15", "latin9":
		dec = charmap.ISO8859_15.NewDecoder()
	case "windows-1252", "cp1252":
		dec = charmap.Windows1252.NewDecoder()
	case "windows-1251", "cp1251":
		dec = charmap.Windows1251.NewDecoder()
	case "koi8-r":
		dec = charmap.KOI8R.NewDecoder()
	case "gb2312", "gbk", "gb18030":
		dec = simplifiedchinese.GBK.NewDecoder()
	case "big5":
		dec = traditionalchinese.Big5.NewDecoder()
	case "euc-jp":
		dec = japanese.EUCJP.NewDecoder()
	case "iso-2022-jp":
		dec = japanese.ISO2022JP.NewDecoder()
	case "shift_jis", "shift-jis", "sjis":
		dec = japanese.ShiftJIS.NewDecoder()
	case "euc-kr":
		dec = korean.EUCKR.NewDecoder()
	default:
		return data
	}
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), dec))
	if err != nil {
		return data
	}
	return out
}

var (
	blockTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])[^>]*>`)
	dropBlocks = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	anyTag     = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n\s*\n+`)
)

func stripHTML(s string) string {
	s = dropBlocks.ReplaceAllString(s, "")
	s = blockTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
