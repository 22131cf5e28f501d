// Package failure defines the error taxonomy shared by the dispatcher, the
// request builders, and the retry loop.
//
// Every error produced by this module is a [*Error] carrying a [Kind]. The kind
// decides whether the retry loop may try again ([Kind.Fatal] reports false) or
// must stop immediately. Use [KindOf] to inspect an error returned by
// consult.Client.Consult, or errors.Is with one of the sentinel values:
//
//	if errors.Is(err, failure.ErrMissingCredential) { ... }
package failure

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// Kind classifies a failure.
type Kind int

const (
	Unclassified Kind = iota
	UnsupportedProvider
	MissingCredential
	InvalidQuery
	ImageNotFound
	ImageReadError
	TransportError
	HTTPStatus
	MalformedResponse
	ExhaustedRetries
	Canceled
)

var kindNames = map[Kind]string{
	Unclassified:        "unclassified",
	UnsupportedProvider: "unsupported provider",
	MissingCredential:   "missing credential",
	InvalidQuery:        "invalid query",
	ImageNotFound:       "image not found",
	ImageReadError:      "image read error",
	TransportError:      "transport error",
	HTTPStatus:          "http status error",
	MalformedResponse:   "malformed response",
	ExhaustedRetries:    "exhausted retries",
	Canceled:            "canceled",
}

// String returns a human readable name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether a failure of this kind must not be retried.
// Fatal kinds stem from caller input or local preconditions.
func (k Kind) Fatal() bool {
	switch k {
	case UnsupportedProvider, MissingCredential, InvalidQuery, ImageNotFound, ImageReadError:
		return true
	}
	return false
}

// MaxBodyWidth is the maximum display width kept from an error response body.
const MaxBodyWidth = 500

// Error is a classified failure.
type Error struct {
	Kind       Kind
	Provider   string        // Provider the failure belongs to, if any.
	Status     int           // HTTP status code for HTTPStatus failures.
	Body       string        // Truncated response body for HTTPStatus failures.
	Attempts   int           // Attempts made, set on ExhaustedRetries.
	RetryAfter time.Duration // Server hint parsed from Retry-After, informational only.
	Msg        string
	Err        error

	sentinel bool
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}

	b.WriteString(e.Kind.String())

	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}

	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}

	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrImageNotFound)
// holds for any *Error of kind ImageNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.sentinel && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrUnsupportedProvider = &Error{Kind: UnsupportedProvider, sentinel: true}
	ErrMissingCredential   = &Error{Kind: MissingCredential, sentinel: true}
	ErrInvalidQuery        = &Error{Kind: InvalidQuery, sentinel: true}
	ErrImageNotFound       = &Error{Kind: ImageNotFound, sentinel: true}
	ErrImageReadError      = &Error{Kind: ImageReadError, sentinel: true}
	ErrTransport           = &Error{Kind: TransportError, sentinel: true}
	ErrHTTPStatus          = &Error{Kind: HTTPStatus, sentinel: true}
	ErrMalformedResponse   = &Error{Kind: MalformedResponse, sentinel: true}
	ErrExhaustedRetries    = &Error{Kind: ExhaustedRetries, sentinel: true}
	ErrCanceled            = &Error{Kind: Canceled, sentinel: true}
)

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Status returns an HTTPStatus failure. The body is truncated to MaxBodyWidth.
func Status(code int, body string) *Error {
	body = Truncate(body, MaxBodyWidth)
	return &Error{Kind: HTTPStatus, Status: code, Body: body, Msg: body}
}

// WithProvider sets the provider on err if it is an *Error without one and
// returns err unchanged otherwise.
func WithProvider(err error, provider string) error {
	var fe *Error
	if errors.As(err, &fe) && !fe.sentinel && fe.Provider == "" {
		fe.Provider = provider
	}
	return err
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Unclassified when there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unclassified
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}

// Truncate shortens s to at most width display cells, appending an ellipsis
// when something was cut.
func Truncate(s string, width int) string {
	s = strings.TrimSpace(s)
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
