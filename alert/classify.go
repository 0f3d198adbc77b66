package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Separator splits a classified line into caption and detail.
const Separator = ":"

const (
	NoNetworkCaption    = "No Network"
	NoNetworkDetail     = "The server cannot be reached"
	AccessDeniedCaption = "Access Denied!"
	NotFoundCaption     = "Not Found"
	NotFoundDetail      = "The target resource cannot be found"
)

// HTTPFailure is implemented by errors that describe a failed HTTP exchange.
// HTTPStatus is zero when no response was received.
type HTTPFailure interface {
	error
	HTTPStatus() int
	HTTPURL() string
	HTTPBody() []byte
}

// Classify renders err as "caption: detail" lines. Transport failures become
// a single no-network line; 403 and 404 responses get a leading caption line;
// a JSON object body contributes one line per field in body order. Errors
// that are not HTTP failures yield their message.
func Classify(err error) []string {
	if err == nil {
		return nil
	}
	var hf HTTPFailure
	if !errors.As(err, &hf) {
		return []string{err.Error()}
	}

	var lines []string
	status := hf.HTTPStatus()
	if status == 0 {
		lines = append(lines, line(NoNetworkCaption, NoNetworkDetail))
	} else {
		lines = append(lines, bodyLines(hf.HTTPBody())...)
	}

	switch status {
	case 403:
		lines = append([]string{line(AccessDeniedCaption, "")}, lines...)
	case 404:
		msg := line(NotFoundCaption, NotFoundDetail)
		if url := hf.HTTPURL(); url != "" {
			msg += ". " + url
		}
		lines = append([]string{msg}, lines...)
	}

	if len(lines) == 0 {
		lines = append(lines, err.Error())
	}
	return lines
}

// Describe picks the single most useful message for err. Lookups match line
// captions case-insensitively and return the detail part: no-network and
// not-found first, then error_description, then preferredKeys in order, then
// error. When nothing matches, every line is joined with newlines.
func Describe(err error, preferredKeys ...string) string {
	lines := Classify(err)
	if len(lines) == 0 {
		return ""
	}

	for _, key := range []string{NoNetworkCaption, NotFoundCaption, "error_description"} {
		if msg, ok := find(lines, key); ok {
			return msg
		}
	}
	for _, key := range preferredKeys {
		if msg, ok := find(lines, key); ok {
			return msg
		}
	}
	if msg, ok := find(lines, "error"); ok {
		return msg
	}
	return strings.Join(lines, "\n")
}

func find(lines []string, caption string) (string, bool) {
	for _, l := range lines {
		c, detail, hasDetail := SplitInTwo(l, Separator)
		if !strings.EqualFold(c, caption) {
			continue
		}
		if !hasDetail {
			detail = c
		}
		if strings.TrimSpace(detail) == "" {
			return "", false
		}
		return detail, true
	}
	return "", false
}

func line(caption, detail string) string {
	return strings.TrimSpace(caption + Separator + " " + detail)
}

// bodyLines keeps the field order of a JSON object body. Any other non-empty
// body is returned as one line.
func bodyLines(body []byte) []string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if delim, ok := tok.(json.Delim); err != nil || !ok || delim != '{' {
		return []string{string(body)}
	}

	var lines []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return []string{string(body)}
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return []string{string(body)}
		}
		lines = append(lines, line(key, rawText(raw)))
	}
	return lines
}

func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	return string(raw)
}
