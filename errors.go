package redis

import (
	"errors"
	"fmt"
	"strings"
)

// ServerError is a Redis error reply: the "-ERR ..." line with its
// leading "-" stripped. It satisfies the error interface directly, the
// same way the teacher's redis.go does, so callers that only care about
// the message text never need to unwrap an *Error.
type ServerError string

func (e ServerError) Error() string { return string(e) }

// Kind returns the leading word of the error, e.g. "WRONGTYPE" for
// "WRONGTYPE Operation against a key holding the wrong kind of value".
// Redis errors without a recognizable code (most don't carry one) return
// the empty string.
func (e ServerError) Kind() string {
	s := string(e)
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return ""
	}
	word := s[:i]
	for _, r := range word {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return word
}

// Kind classifies the failure modes a Conn operation can report.
type Kind int

const (
	// KindTransport covers I/O failure on the underlying net.Conn: dial
	// failure, a write that errors, or a read that returns before a
	// complete frame arrives.
	KindTransport Kind = iota
	// KindProtocol covers a byte stream that cannot be a RESP reply:
	// wrong prefix, bad length, a length exceeding SizeMax/ElementMax.
	KindProtocol
	// KindRedis covers a well-formed error reply from the server, or a
	// transaction that failed server-side (EXEC aborted, DISCARD).
	KindRedis
	// KindUsage covers a call this package refuses to make: issuing a
	// non-pub/sub command while RESP2 subscriptions are active, an empty
	// Subscribe call, a malformed URI. (Execute after Close reports a
	// KindRedis error with Disconnected set instead.)
	KindUsage
	// KindCancelled covers a Future whose context was cancelled or
	// timed out before a reply arrived.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindRedis:
		return "redis"
	case KindUsage:
		return "usage"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Conn operations. It always carries
// a Kind so callers can branch on failure class without string matching,
// and wraps the underlying cause for errors.Is/errors.As.
type Error struct {
	Kind Kind
	Err  error

	// Disconnected is set when the connection the operation was issued
	// on (or was waiting on) has torn down.
	Disconnected bool

	// ChannelCount and PatternCount are set on KindUsage errors raised
	// by the RESP2 subscription lockout (spec invariant PS-lockout),
	// reporting how many channels/patterns were active at the time.
	ChannelCount int
	PatternCount int
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("redis: ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Disconnected {
		b.WriteString(" (disconnected)")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// ProtocolError reports a malformed RESP byte stream.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "redis: protocol error: " + e.Msg }

func protocolErrorf(format string, args ...any) error {
	return &Error{Kind: KindProtocol, Err: &ProtocolError{Msg: fmt.Sprintf(format, args...)}}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// errConnectionClosed is the synthesized cause teardown attaches to
// every Future/Subscription it resolves, distinct from whatever
// transport error (if any) actually triggered the teardown.
var errConnectionClosed = errors.New("Server connection is no longer active")

func disconnectedError() *Error {
	return &Error{Kind: KindRedis, Err: errConnectionClosed, Disconnected: true}
}

func usageError(format string, args ...any) *Error {
	return &Error{Kind: KindUsage, Err: fmt.Errorf(format, args...)}
}

func lockoutError(chans, pats int) *Error {
	return &Error{
		Kind:         KindUsage,
		Err:          errors.New("only SUBSCRIBE, PSUBSCRIBE, UNSUBSCRIBE, PUNSUBSCRIBE, PING and QUIT are allowed while subscribed on RESP2"),
		ChannelCount: chans,
		PatternCount: pats,
	}
}

func redisError(cause ServerError) *Error {
	return &Error{Kind: KindRedis, Err: cause}
}

func cancelledError(cause error) *Error {
	return &Error{Kind: KindCancelled, Err: cause}
}
