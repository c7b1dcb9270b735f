package intake

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/mikey/mail-risk/internal/core"
	"golang.org/x/text/encoding/ianaindex"
)

// maxDepth bounds multipart nesting
const maxDepth = 8

// Message is the analysable content of an RFC 822 message
type Message struct {
	From        string
	Subject     string
	Body        string
	Attachments []core.NewAttachment
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// ParseMessage extracts the subject, the text body and the attachments of a raw message
func ParseMessage(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	out := &Message{
		From:    msg.Header.Get("From"),
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}

	var text, html strings.Builder
	header := textproto.MIMEHeader(msg.Header)
	if err := walkPart(header, msg.Body, 0, out, &text, &html); err != nil {
		return nil, err
	}

	switch {
	case text.Len() > 0:
		out.Body = strings.TrimSpace(text.String())
	case html.Len() > 0:
		// The tokenizer strips tags, so HTML is usable as is.
		out.Body = strings.TrimSpace(html.String())
	}
	return out, nil
}

func walkPart(header textproto.MIMEHeader, body io.Reader, depth int, out *Message, text, html *strings.Builder) error {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=us-ascii"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" || depth >= maxDepth {
			return nil
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				// Keep what was read before the broken part.
				return nil
			}
			if err := walkPart(part.Header, part, depth+1, out, text, html); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(transferDecoder(header, body))
	if err != nil {
		return fmt.Errorf("failed to read %s part: %w", mediaType, err)
	}

	if name := attachmentName(header, params); name != "" {
		out.Attachments = append(out.Attachments, core.NewAttachment{
			Filename: name,
			MimeType: mediaType,
			Content:  data,
		})
		return nil
	}

	switch mediaType {
	case "text/plain":
		appendText(text, decodeCharset(data, params["charset"]))
	case "text/html":
		appendText(html, decodeCharset(data, params["charset"]))
	}
	return nil
}

func appendText(b *strings.Builder, s string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(s)
}

// transferDecoder undoes Content-Transfer-Encoding; multipart already decodes quoted-printable
func transferDecoder(header textproto.MIMEHeader, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(header.Get("Content-Transfer-Encoding"))) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func attachmentName(header textproto.MIMEHeader, ctParams map[string]string) string {
	disposition, dparams, err := mime.ParseMediaType(header.Get("Content-Disposition"))
	name := ""
	if err == nil {
		name = dparams["filename"]
	}
	if name == "" {
		name = ctParams["name"]
	}
	if name == "" && err == nil && disposition == "attachment" {
		name = "attachment.bin"
	}
	return decodeHeader(name)
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

func decodeCharset(data []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return string(data)
	}
	r, err := charsetReader(charset, bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data)
	}
	return string(out)
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}
