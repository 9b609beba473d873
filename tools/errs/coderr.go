package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerr "github.com/pkg/errors"
)

// CodeError is the wire-facing error shape: a stable numeric code, a short
// message, and an optional free-form detail appended along the way up.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

// WithDetail returns a copy carrying extra detail, never mutating the
// package-level sentinel it is called on.
func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// WrapMsg attaches detail plus a call stack.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	c := e.clone()
	if d := toString(msg, kv); d != "" {
		if c.Detail == "" {
			c.Detail = d
		} else {
			c.Detail += ", " + d
		}
	}
	return pkgerr.WithStack(c)
}

// Is matches on code only, so wrapped/detailed copies still compare equal
// to the sentinel via errors.Is.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// Unwrap walks a wrap chain down to the innermost error.
func Unwrap(err error) error {
	for err != nil {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		next := u.Unwrap()
		if next == nil {
			break
		}
		err = next
	}
	return err
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerr.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerr.Wrap(err, toString(msg, kv))
}

func New(msg string) error { return pkgerr.New(msg) }

// Code extracts the numeric code from err, or fallback when err carries
// no CodeError anywhere in its chain.
func Code(err error, fallback int) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return fallback
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(toKey(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(anyString(kv[i+1]))
		}
	}
	return sb.String()
}

func toKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return anyString(v)
}

func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprint(v)
	}
}
