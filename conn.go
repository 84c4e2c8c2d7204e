package redis

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
)

// ProtocolLevel reports which RESP revision a Conn negotiated with HELLO.
type ProtocolLevel int

const (
	RESP2 ProtocolLevel = 2
	RESP3 ProtocolLevel = 3
)

// Future represents one in-flight command. Execute returns one
// immediately; Wait blocks until the matching reply has been decoded
// (or the connection tore down, or ctx expires).
type Future struct {
	label string
	done  chan struct{}

	mu        sync.Mutex
	reply     Reply
	err       error
	resolved  bool
	cancelled bool
}

func newFuture(label string) *Future {
	return &Future{label: label, done: make(chan struct{})}
}

// Label names the command this Future answers for, e.g. "GET" or the
// full "KEYS *" form (open question ii).
func (f *Future) Label() string { return f.label }

// Wait blocks until the Future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (Reply, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.reply, f.err
	case <-ctx.Done():
		return Reply{}, cancelledError(ctx.Err())
	}
}

// Cancel marks the Future so its eventual reply, when it arrives, is
// discarded rather than resolved into a value. Cancellation never
// removes the command's slot from the pending queue, since the server
// will still answer it in turn. A command still waiting for a pipeline
// slot is not withdrawn either: it is written when its turn comes, and
// its reply is discarded the same way.
func (f *Future) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}

func (f *Future) resolveOK(reply Reply) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	if reply.IsError() {
		f.err = redisError(ServerError(reply.text()))
	} else {
		f.reply = reply
	}
	f.mu.Unlock()
	close(f.done)
}

func (f *Future) resolveErr(err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

func (f *Future) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type pendingEntry struct {
	future *Future
}

type awaitingCmd struct {
	tokens [][]byte
	future *Future
}

type pendingSub struct {
	future *Future
	sub    *Subscription
}

// Conn is one connection to a Redis node. A Conn dispatches replies to
// callers via a single internal reader goroutine, so Execute,
// Subscribe/PSubscribe/Unsubscribe/PUnsubscribe, and Multi may all be
// called concurrently from multiple goroutines: each gets its own
// Future (or Subscription) resolved in turn as replies arrive.
type Conn struct {
	netConn net.Conn
	dec     *Decoder
	w       *bufio.Writer

	// mu guards every field below it, including the wire itself: a
	// command is appended to pending/awaitingPipeline and written to
	// netConn in the same critical section, so pending's order always
	// matches the order commands actually hit the wire (invariant FIFO)
	// even with many goroutines calling Execute concurrently.
	mu               sync.Mutex
	protocolLevel    ProtocolLevel
	pending          []*pendingEntry
	awaitingPipeline []*awaitingCmd
	pipelineDepth    int // 0 means unbounded
	pubsubChannels   map[string]*Subscription
	pubsubPatterns   map[string]*Subscription
	pubsubCount      int
	pendingSubAcks   map[string]*pendingSub
	multiChain       chan struct{}
	closed           bool
	closeErr         error

	cache        *cache
	cacheSibling *Conn

	// Logf receives diagnostics that have nowhere better to go, such as
	// a pub/sub message for a channel this Conn no longer tracks.
	// Defaults to a no-op.
	Logf func(format string, args ...any)

	// Tracer, if non-nil, wraps each Execute in a span.
	Tracer Tracer

	// OnDisconnect, if non-nil, is invoked once when the connection
	// tears down, with the error that caused it (nil on a clean Close).
	OnDisconnect func(error)
}

var allowedDuringLockout = map[string]bool{
	"SUBSCRIBE": true, "PSUBSCRIBE": true,
	"UNSUBSCRIBE": true, "PUNSUBSCRIBE": true,
	"PING": true, "QUIT": true,
}

// Dial opens a TCP connection to opts' address, negotiates HELLO (RESP3
// if the server supports it, falling back to RESP2 plus AUTH/SETNAME
// otherwise), SELECTs a database when configured, and — when
// opts.ClientSideCacheSize is positive — enables client-side caching
// (§4.5) before returning. The returned Conn's reader goroutine is
// already running.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	addr, err := opts.address()
	if err != nil {
		return nil, err
	}
	if opts.URI != "" {
		parsed, err := ParseURL(opts.URI)
		if err != nil {
			return nil, err
		}
		if opts.Auth == "" {
			opts.Auth = parsed.Auth
		}
		if opts.Database == 0 {
			opts.Database = parsed.Database
		}
	}

	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transportError(err)
	}

	c := &Conn{
		netConn:        netConn,
		dec:            NewDecoder(bufio.NewReaderSize(netConn, opts.StreamReadLen)),
		w:              bufio.NewWriterSize(netConn, opts.StreamWriteLen),
		protocolLevel:  RESP2,
		pipelineDepth:  *opts.PipelineDepth,
		pubsubChannels: make(map[string]*Subscription),
		pubsubPatterns: make(map[string]*Subscription),
		pendingSubAcks: make(map[string]*pendingSub),
		Logf:           func(string, ...any) {},
		OnDisconnect:   opts.OnDisconnect,
	}

	if err := c.negotiate(ctx, opts); err != nil {
		netConn.Close()
		return nil, err
	}

	go c.readLoop()

	if opts.ClientSideCacheSize > 0 {
		if err := c.enableCache(ctx, opts); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// negotiate runs before the reader goroutine starts: it writes and
// reads synchronously off dec, since no other goroutine is touching the
// connection yet.
func (c *Conn) negotiate(ctx context.Context, opts Options) error {
	helloArgs := [][]byte{[]byte("HELLO"), []byte("3")}
	if opts.Auth != "" {
		helloArgs = append(helloArgs, []byte("AUTH"), []byte("default"), []byte(opts.Auth))
	}
	if opts.ClientName != "" {
		helloArgs = append(helloArgs, []byte("SETNAME"), []byte(opts.ClientName))
	}
	if _, err := c.w.Write(AppendCommand(nil, helloArgs...)); err != nil {
		return transportError(err)
	}
	if err := c.w.Flush(); err != nil {
		return transportError(err)
	}
	reply, _, err := c.dec.Decode()
	if err != nil {
		return err
	}
	if reply.IsError() {
		se := ServerError(reply.text())
		if !strings.HasPrefix(string(se), "ERR unknown command") {
			return redisError(se)
		}
		// Server predates RESP3: fall back to RESP2 handshake.
		c.protocolLevel = RESP2
		if opts.Auth != "" {
			if _, err := c.syncCommand(tokens("AUTH", opts.Auth)); err != nil {
				return err
			}
		}
		if opts.ClientName != "" {
			if _, err := c.syncCommand(tokens("CLIENT", "SETNAME", opts.ClientName)); err != nil {
				return err
			}
		}
	} else {
		c.protocolLevel = RESP3
	}

	if opts.Database != 0 {
		if _, err := c.syncCommand(tokens("SELECT", strconv.Itoa(opts.Database))); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) syncCommand(toks [][]byte) (Reply, error) {
	if _, err := c.w.Write(AppendCommand(nil, toks...)); err != nil {
		return Reply{}, transportError(err)
	}
	if err := c.w.Flush(); err != nil {
		return Reply{}, transportError(err)
	}
	reply, _, err := c.dec.Decode()
	if err != nil {
		return Reply{}, err
	}
	if reply.IsError() {
		return Reply{}, redisError(ServerError(reply.text()))
	}
	return reply, nil
}

// Execute sends a command (its verb and arguments as a flat token list,
// e.g. []byte("SET"), []byte("k"), []byte("v")) and returns a Future for
// its reply. Execute never blocks on the reply itself; it may block
// waiting for an earlier Multi session on this Conn to finish (Multi
// returns once its EXEC or DISCARD reply has arrived), per the
// MULTI-exclusion invariant.
func (c *Conn) Execute(ctx context.Context, args ...[]byte) (*Future, error) {
	if c.Tracer == nil {
		return c.execute(ctx, args, false)
	}
	ctx, span := c.Tracer.StartSpan(ctx, commandLabel(args))
	future, err := c.execute(ctx, args, false)
	if err != nil {
		span.Finish(err)
		return nil, err
	}
	go func() {
		_, waitErr := future.Wait(context.Background())
		span.Finish(waitErr)
	}()
	return future, nil
}

// execute is the shared path for Execute and the internal MULTI/EXEC/
// DISCARD/subscribe-ack traffic. internal calls bypass the RESP2
// subscription lockout and do not wait on the Multi barrier (Multi
// itself waits for the previous session before issuing MULTI), but
// still respect the pipeline-depth bound.
func (c *Conn) execute(ctx context.Context, args [][]byte, internal bool) (*Future, error) {
	label := commandLabel(args)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, disconnectedError()
	}
	if !internal && c.protocolLevel == RESP2 && c.pubsubCount > 0 {
		verb := strings.ToUpper(string(args[0]))
		if !allowedDuringLockout[verb] {
			chans, pats := len(c.pubsubChannels), len(c.pubsubPatterns)
			c.mu.Unlock()
			return nil, lockoutError(chans, pats)
		}
	}
	var barrier chan struct{}
	if !internal {
		barrier = c.multiChain
	}
	c.mu.Unlock()

	if barrier != nil {
		select {
		case <-barrier:
		case <-ctx.Done():
			return nil, cancelledError(ctx.Err())
		}
	}

	future := newFuture(label)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, disconnectedError()
	}
	if c.pipelineDepth > 0 && len(c.pending) >= c.pipelineDepth {
		c.awaitingPipeline = append(c.awaitingPipeline, &awaitingCmd{tokens: args, future: future})
		c.mu.Unlock()
		return future, nil
	}
	c.pending = append(c.pending, &pendingEntry{future: future})
	writeErr := c.writeLocked(args)
	c.mu.Unlock()

	if writeErr != nil {
		c.teardown(transportError(writeErr))
	}
	return future, nil
}

// writeLocked writes one command to the wire through c.w, the buffered
// writer sized by Options.StreamWriteLen, and flushes immediately: a
// command must hit the wire before its caller's Future can ever
// resolve, so buffering across calls would only add latency here. The
// caller must already hold c.mu: every write happens inside the same
// critical section as the pending/awaitingPipeline/pendingSubAcks
// bookkeeping it corresponds to, so the wire's command order always
// matches queue order across concurrent callers.
func (c *Conn) writeLocked(args [][]byte) error {
	buf := AppendCommand(nil, args...)
	if _, err := c.w.Write(buf); err != nil {
		return err
	}
	return c.w.Flush()
}

// readLoop owns dec exclusively and routes every decoded value: RESP3
// Push frames and RESP2 pub/sub-event arrays are intercepted here,
// before pending is ever consulted, since neither corresponds to a
// request this Conn wrote through the ordinary FIFO path.
func (c *Conn) readLoop() {
	for {
		reply, isPush, err := c.dec.Decode()
		if err != nil {
			c.teardown(err)
			return
		}
		if isPush {
			c.routePush(reply)
			continue
		}
		if c.currentProtocolLevel() == RESP2 {
			if event, ok := pubsubEvent(reply); ok {
				c.routePubsubEvent(event, reply.Elems)
				continue
			}
		}
		c.resolveHead(reply)
	}
}

func (c *Conn) currentProtocolLevel() ProtocolLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolLevel
}

// pubsubEvent reports whether reply is a RESP2 array-framed pub/sub
// event (message/pmessage/smessage/subscribe/.../unsubscribe/...) by its
// first element, the shape the server uses in place of a Push frame
// when the connection hasn't negotiated RESP3.
func pubsubEvent(reply Reply) (string, bool) {
	if reply.Type != TypeArray || len(reply.Elems) == 0 {
		return "", false
	}
	head := reply.Elems[0]
	if head.Type != TypeBulkString && head.Type != TypeSimpleString {
		return "", false
	}
	switch head.text() {
	case "message", "pmessage", "smessage",
		"subscribe", "psubscribe", "unsubscribe", "punsubscribe":
		return head.text(), true
	default:
		return "", false
	}
}

// resolveHead pops the oldest pending command, promotes one awaiting
// (pipeline-capped) command onto the wire in the same critical section,
// and only then resolves the popped Future, preserving FIFO order end to
// end (invariant FIFO) and the pipeline-depth bound (invariant PD).
func (c *Conn) resolveHead(reply Reply) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		c.Logf("redis: unsolicited reply dropped: %+v", reply)
		return
	}
	entry := c.pending[0]
	c.pending = c.pending[1:]

	var writeErr error
	if len(c.awaitingPipeline) > 0 {
		promoted := c.awaitingPipeline[0]
		c.awaitingPipeline = c.awaitingPipeline[1:]
		c.pending = append(c.pending, &pendingEntry{future: promoted.future})
		writeErr = c.writeLocked(promoted.tokens)
	}
	c.mu.Unlock()

	if entry.future.isCancelled() {
		entry.future.resolveErr(cancelledError(nil))
	} else {
		entry.future.resolveOK(reply)
	}

	if writeErr != nil {
		c.teardown(transportError(writeErr))
	}
}

// Close tears the connection down cleanly: in-flight Futures and
// Subscriptions resolve with a disconnected error, and the underlying
// net.Conn is closed. Close is idempotent.
func (c *Conn) Close() error {
	c.teardown(nil)
	return nil
}

func (c *Conn) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = nil
	awaiting := c.awaitingPipeline
	c.awaitingPipeline = nil
	channels := c.pubsubChannels
	c.pubsubChannels = nil
	patterns := c.pubsubPatterns
	c.pubsubPatterns = nil
	subAcks := c.pendingSubAcks
	c.pendingSubAcks = nil
	c.mu.Unlock()

	discErr := disconnectedError()
	for _, p := range pending {
		p.future.resolveErr(discErr)
	}
	for _, a := range awaiting {
		a.future.resolveErr(discErr)
	}
	for _, ps := range subAcks {
		ps.future.resolveErr(discErr)
		// A Subscribe/PSubscribe call in flight when teardown happens
		// owns a Subscription (and its forwarder goroutine) that never
		// made it into channels/patterns below; close it here instead,
		// so the forwarder always sees a close and exits.
		if ps.sub != nil {
			ps.sub.closeSink()
		}
	}
	for _, sub := range channels {
		sub.closeSink()
	}
	for _, sub := range patterns {
		sub.closeSink()
	}

	c.netConn.Close()
	if sibling := c.cacheSibling; sibling != nil {
		sibling.Close()
	}
	if c.OnDisconnect != nil {
		c.OnDisconnect(cause)
	}
}
