package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Ctx is an alias for context.Context, used throughout the typed
// command surface purely to keep method signatures on one line.
type Ctx = context.Context

// Command accumulates the arguments of one RESP request without
// building an intermediate [][]byte slice, grounded in the teacher's
// sync.Pool-backed request type and its decimal length encoder. Callers
// that already hold their arguments as a slice can skip Command
// entirely and call AppendCommand directly.
type Command struct {
	buf  []byte
	n    int // arguments appended so far
	want int // arguments declared in NewCommand
}

var commandPool = sync.Pool{New: func() any { return new(Command) }}

// NewCommand returns a pooled Command ready to accept argCount
// arguments (name included). Release it with Command.Release once its
// Bytes have been written to the wire.
func NewCommand(argCount int) *Command {
	c := commandPool.Get().(*Command)
	c.buf = append(c.buf[:0], '*')
	c.buf = strconv.AppendInt(c.buf, int64(argCount), 10)
	c.buf = append(c.buf, '\r', '\n')
	c.n = 0
	c.want = argCount
	return c
}

// Release returns the Command's buffer to the pool. The Command must
// not be used again afterwards.
func (c *Command) Release() {
	commandPool.Put(c)
}

func (c *Command) AddString(s string) *Command {
	c.buf = append(c.buf, '$')
	c.buf = strconv.AppendInt(c.buf, int64(len(s)), 10)
	c.buf = append(c.buf, '\r', '\n')
	c.buf = append(c.buf, s...)
	c.buf = append(c.buf, '\r', '\n')
	c.n++
	return c
}

func (c *Command) AddBytes(b []byte) *Command {
	c.buf = append(c.buf, '$')
	c.buf = strconv.AppendInt(c.buf, int64(len(b)), 10)
	c.buf = append(c.buf, '\r', '\n')
	c.buf = append(c.buf, b...)
	c.buf = append(c.buf, '\r', '\n')
	c.n++
	return c
}

func (c *Command) AddInt(v int64) *Command {
	return c.AddString(strconv.FormatInt(v, 10))
}

// Bytes returns the encoded command. Valid until the Command is reused
// or released.
func (c *Command) Bytes() []byte {
	return c.buf
}

// commandLabel names a request for diagnostics and for the Future
// handed back to the caller. It upper-cases the verb; for KEYS (open
// question ii) it uses the full joined command instead of just the verb,
// so a bare "KEYS" call without an explicit pattern is distinguishable
// from one with a pattern in logs and error messages.
func commandLabel(tokens [][]byte) string {
	if len(tokens) == 0 {
		return ""
	}
	verb := strings.ToUpper(string(tokens[0]))
	if verb != "KEYS" {
		return verb
	}
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = string(t)
	}
	return strings.Join(parts, " ")
}

func tokens(args ...string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}
	return out
}

// --- typed command surface -------------------------------------------------
//
// A small hand-written set over the generic Execute, mirroring the
// teacher's per-verb methods but collapsed to the commands the spec's
// scenarios and cache topology actually exercise (full enumeration of
// the Redis command set is explicitly out of scope).

// GET returns the value of key, or nil if it does not exist. When a
// client-side cache is configured and holds an entry for key, GET
// answers from the cache without a round trip.
func (c *Conn) GET(ctx Ctx, key string) ([]byte, error) {
	if c.cache != nil {
		if reply, ok := c.cache.get(key); ok {
			return reply.Bulk, nil
		}
	}
	future, err := c.Execute(ctx, tokens("GET", key)...)
	if err != nil {
		return nil, err
	}
	reply, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && !reply.Null {
		c.cache.set(key, reply)
	}
	if reply.Null {
		return nil, nil
	}
	return reply.Bulk, nil
}

// SET sets key to value unconditionally.
func (c *Conn) SET(ctx Ctx, key string, value []byte) error {
	future, err := c.Execute(ctx, append(tokens("SET", key), value)...)
	if err != nil {
		return err
	}
	_, err = future.Wait(ctx)
	if c.cache != nil {
		c.cache.invalidate(key)
	}
	return err
}

// DEL deletes the given keys, returning how many existed.
func (c *Conn) DEL(ctx Ctx, keys ...string) (int64, error) {
	future, err := c.Execute(ctx, tokens(append([]string{"DEL"}, keys...)...)...)
	if err != nil {
		return 0, err
	}
	reply, err := future.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if c.cache != nil {
		for _, k := range keys {
			c.cache.invalidate(k)
		}
	}
	return reply.Int, nil
}

// EXISTS reports how many of the given keys exist.
func (c *Conn) EXISTS(ctx Ctx, keys ...string) (int64, error) {
	future, err := c.Execute(ctx, tokens(append([]string{"EXISTS"}, keys...)...)...)
	if err != nil {
		return 0, err
	}
	reply, err := future.Wait(ctx)
	return reply.Int, err
}

// EXPIRE sets a TTL in seconds on key, returning whether it was set.
func (c *Conn) EXPIRE(ctx Ctx, key string, seconds int64) (bool, error) {
	future, err := c.Execute(ctx, tokens("EXPIRE", key, strconv.FormatInt(seconds, 10))...)
	if err != nil {
		return false, err
	}
	reply, err := future.Wait(ctx)
	return reply.Int == 1, err
}

// INCR increments key by one, returning the new value.
func (c *Conn) INCR(ctx Ctx, key string) (int64, error) {
	future, err := c.Execute(ctx, tokens("INCR", key)...)
	if err != nil {
		return 0, err
	}
	reply, err := future.Wait(ctx)
	if c.cache != nil {
		c.cache.invalidate(key)
	}
	return reply.Int, err
}

// PUBLISH sends message on channel, returning the number of subscribers
// that received it.
func (c *Conn) PUBLISH(ctx Ctx, channel string, message []byte) (int64, error) {
	future, err := c.Execute(ctx, append(tokens("PUBLISH", channel), message)...)
	if err != nil {
		return 0, err
	}
	reply, err := future.Wait(ctx)
	return reply.Int, err
}

// KEYS lists keys matching pattern. An empty pattern defaults to "*",
// matching the teacher's dispatch override (open question ii).
func (c *Conn) KEYS(ctx Ctx, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	future, err := c.Execute(ctx, tokens("KEYS", pattern)...)
	if err != nil {
		return nil, err
	}
	reply, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(reply.Elems))
	for i, e := range reply.Elems {
		out[i] = string(e.Bulk)
	}
	return out, nil
}

// AUTH authenticates the connection post-Dial, for servers that require
// a password the caller didn't supply at Dial time.
func (c *Conn) AUTH(ctx Ctx, password string) error {
	future, err := c.Execute(ctx, tokens("AUTH", password)...)
	if err != nil {
		return err
	}
	_, err = future.Wait(ctx)
	return err
}

// SELECT switches the logical database index of the connection.
func (c *Conn) SELECT(ctx Ctx, db int) error {
	future, err := c.Execute(ctx, tokens("SELECT", strconv.Itoa(db))...)
	if err != nil {
		return err
	}
	_, err = future.Wait(ctx)
	return err
}

// PING checks liveness. It is always permitted, even while RESP2
// subscriptions are active.
func (c *Conn) PING(ctx Ctx) error {
	future, err := c.Execute(ctx, tokens("PING")...)
	if err != nil {
		return err
	}
	_, err = future.Wait(ctx)
	return err
}

// ClientID returns the server-assigned connection id, used to target
// CLIENT TRACKING REDIRECT from a sibling connection.
func (c *Conn) ClientID(ctx Ctx) (int64, error) {
	future, err := c.Execute(ctx, tokens("CLIENT", "ID")...)
	if err != nil {
		return 0, err
	}
	reply, err := future.Wait(ctx)
	return reply.Int, err
}
