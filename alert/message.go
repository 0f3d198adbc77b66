package alert

import (
	"strings"
)

// Kind discriminates Message values.
type Kind uint8

const (
	// KindImmediate is shown once and disappears on its own.
	KindImmediate Kind = iota
	// KindSticky stays visible until a KindClear message arrives.
	KindSticky
	// KindClear removes every sticky message.
	KindClear
)

func (k Kind) String() string {
	switch k {
	case KindImmediate:
		return "immediate"
	case KindSticky:
		return "sticky"
	case KindClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Severity grades a message.
type Severity uint8

const (
	SeverityDefault Severity = iota
	SeverityInfo
	SeveritySuccess
	SeverityError
	SeverityWarn
	SeverityWait
)

func (s Severity) String() string {
	switch s {
	case SeverityDefault:
		return "default"
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityError:
		return "error"
	case SeverityWarn:
		return "warn"
	case SeverityWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Message is one notification request.
type Message struct {
	Kind     Kind
	Severity Severity
	Summary  string
	Detail   string
	// Err is the failure that caused the message, if any.
	Err error
}

// Immediate starts an immediate message with default severity.
func Immediate(summary string) Message {
	return Message{Kind: KindImmediate, Summary: summary}
}

// Sticky starts a sticky message with default severity.
func Sticky(summary string) Message {
	return Message{Kind: KindSticky, Summary: summary}
}

// ClearSticky returns the message that removes sticky messages.
func ClearSticky() Message {
	return Message{Kind: KindClear}
}

// WithDetail returns a copy of m with the detail set.
func (m Message) WithDetail(detail string) Message {
	m.Detail = detail
	return m
}

// WithSeverity returns a copy of m with the severity set.
func (m Message) WithSeverity(s Severity) Message {
	m.Severity = s
	return m
}

// WithError returns a copy of m carrying err.
func (m Message) WithError(err error) Message {
	m.Err = err
	return m
}

// FromLines builds one message per "caption<sep>detail" line.
func FromLines(kind Kind, severity Severity, sep string, lines ...string) []Message {
	out := make([]Message, 0, len(lines))
	for _, line := range lines {
		summary, detail, _ := SplitInTwo(line, sep)
		out = append(out, Message{Kind: kind, Severity: severity, Summary: summary, Detail: detail})
	}
	return out
}

// FromError builds one message per line Classify reports for err. Every
// message carries err.
func FromError(kind Kind, severity Severity, err error) []Message {
	msgs := FromLines(kind, severity, Separator, Classify(err)...)
	for i := range msgs {
		msgs[i].Err = err
	}
	return msgs
}

// SplitInTwo splits text at the first sep and trims both halves. ok is false
// when sep does not occur, in which case caption is text unchanged.
func SplitInTwo(text, sep string) (caption, detail string, ok bool) {
	if sep == "" {
		return text, "", false
	}
	before, after, found := strings.Cut(text, sep)
	if !found {
		return text, "", false
	}
	return strings.TrimSpace(before), strings.TrimSpace(after), true
}
