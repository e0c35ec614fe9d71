package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

func OK(msg string) []byte {
	return []byte(KindOK + Separator + msg)
}

func Error(msg string) []byte {
	return []byte(KindError + Separator + msg)
}

func Found(size int64) []byte {
	return []byte(KindFound + Separator + strconv.FormatInt(size, 10))
}

// Response is a decoded server reply. Kind is the text before the first "|";
// Message is everything after it.
type Response struct {
	Kind    string
	Message string
	Raw     string
}

func ParseResponse(raw []byte) Response {
	text := string(raw)
	kind, msg, _ := strings.Cut(text, Separator)
	return Response{Kind: kind, Message: msg, Raw: text}
}

func (r Response) IsOK() bool    { return r.Kind == KindOK }
func (r Response) IsError() bool { return r.Kind == KindError }
func (r Response) IsReady() bool { return r.Raw == Ready }
func (r Response) IsEmpty() bool { return r.Raw == Empty }

// FoundSize returns the byte count announced by FOUND|<size>.
func (r Response) FoundSize() (int64, error) {
	if r.Kind != KindFound {
		return 0, fmt.Errorf("expected %s reply, got %q", KindFound, r.Raw)
	}
	size, err := strconv.ParseInt(r.Message, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s size %q: %w", KindFound, r.Message, err)
	}
	return size, nil
}

// ServerError is an ERROR|<message> reply surfaced as a Go error.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}

// Err converts an ERROR reply into a *ServerError and returns nil otherwise.
func (r Response) Err() error {
	if !r.IsError() {
		return nil
	}
	return &ServerError{Message: r.Message}
}

// IsNotFound reports whether err is the server's missing-file reply.
func IsNotFound(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Message == MsgNotFound
}
