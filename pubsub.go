package redis

import (
	"context"
	"sync"
)

// SubKind distinguishes a channel subscription from a pattern one; the
// two have separate registries and separate (UN)SUBSCRIBE verbs.
type SubKind byte

const (
	KindChannel SubKind = iota
	KindPattern
)

// Message is one published value delivered to a Subscription.
type Message struct {
	Channel string // the channel the message was published on
	Pattern string // the pattern that matched, for pattern subscriptions
	Payload []byte
}

// Subscription is a live channel or pattern subscription. Messages
// arrive on C until the subscription is torn down, either by an
// explicit Unsubscribe/PUnsubscribe or by the connection disconnecting,
// at which point C is closed.
//
// Delivery is lossless: a slow reader of C never causes a message to be
// dropped, and never blocks the shared reader goroutine that decodes
// replies off the wire. Messages instead pile up on an unbounded
// per-subscription queue, drained by a dedicated forwarder goroutine
// that blocks on sending to C so the caller sets the pace, the same way
// the teacher's Listener hogs its own connection on a blocking send
// rather than ever discard a message.
type Subscription struct {
	Name string
	Kind SubKind
	C    <-chan Message

	sink chan Message

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Message
	closed bool
}

func newSubscription(name string, kind SubKind) *Subscription {
	sink := make(chan Message)
	s := &Subscription{Name: name, Kind: kind, C: sink, sink: sink}
	s.cond = sync.NewCond(&s.mu)
	go s.forward()
	return s
}

// enqueue appends msg to the subscription's unbounded backlog. Called
// from the shared reader goroutine; never blocks.
func (s *Subscription) enqueue(msg Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.cond.Signal()
}

// forward drains the backlog onto sink, one dedicated goroutine per
// subscription. It blocks on the send to sink, never on enqueue.
func (s *Subscription) forward() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.sink)
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.sink <- msg
	}
}

func (s *Subscription) closeSink() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

func subAckKey(kind SubKind, name string) string {
	if kind == KindPattern {
		return "p:" + name
	}
	return "c:" + name
}

// Subscribe issues SUBSCRIBE for the given channel names in one
// request and returns once every name's ack has arrived, in whichever
// order the server sends them (Redis acks in request order, but this
// does not assume that). Subscribe is itself always permitted, even
// while RESP2 subscriptions are already active.
func (c *Conn) Subscribe(ctx context.Context, names ...string) ([]*Subscription, error) {
	return c.subscribeNames(ctx, names, KindChannel, "SUBSCRIBE")
}

// PSubscribe issues PSUBSCRIBE for the given glob patterns.
func (c *Conn) PSubscribe(ctx context.Context, patterns ...string) ([]*Subscription, error) {
	return c.subscribeNames(ctx, patterns, KindPattern, "PSUBSCRIBE")
}

func (c *Conn) subscribeNames(ctx context.Context, names []string, kind SubKind, verb string) ([]*Subscription, error) {
	if len(names) == 0 {
		return nil, usageError("%s requires at least one name", verb)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, disconnectedError()
	}
	subs := make([]*Subscription, len(names))
	acks := make([]*Future, len(names))
	for i, name := range names {
		sub := newSubscription(name, kind)
		ack := newFuture(verb + " " + name)
		c.pendingSubAcks[subAckKey(kind, name)] = &pendingSub{future: ack, sub: sub}
		subs[i] = sub
		acks[i] = ack
	}

	args := make([][]byte, 0, 1+len(names))
	args = append(args, []byte(verb))
	for _, n := range names {
		args = append(args, []byte(n))
	}
	writeErr := c.writeLocked(args)
	c.mu.Unlock()
	if writeErr != nil {
		c.teardown(transportError(writeErr))
		return nil, transportError(writeErr)
	}

	for _, ack := range acks {
		if _, err := ack.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// Unsubscribe cancels channel subscriptions. With no arguments it
// cancels all of them, matching plain UNSUBSCRIBE.
func (c *Conn) Unsubscribe(ctx context.Context, names ...string) error {
	return c.unsubscribeNames(ctx, names, KindChannel, "UNSUBSCRIBE")
}

// PUnsubscribe cancels pattern subscriptions. With no arguments it
// cancels all of them.
func (c *Conn) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return c.unsubscribeNames(ctx, patterns, KindPattern, "PUNSUBSCRIBE")
}

func (c *Conn) unsubscribeNames(ctx context.Context, names []string, kind SubKind, verb string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return disconnectedError()
	}
	if len(names) == 0 {
		registry := c.pubsubChannels
		if kind == KindPattern {
			registry = c.pubsubPatterns
		}
		for name := range registry {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		c.mu.Unlock()
		return nil
	}
	acks := make([]*Future, len(names))
	for i, name := range names {
		ack := newFuture(verb + " " + name)
		c.pendingSubAcks[subAckKey(kind, name)] = &pendingSub{future: ack}
		acks[i] = ack
	}

	args := make([][]byte, 0, 1+len(names))
	args = append(args, []byte(verb))
	for _, n := range names {
		args = append(args, []byte(n))
	}
	writeErr := c.writeLocked(args)
	c.mu.Unlock()
	if writeErr != nil {
		c.teardown(transportError(writeErr))
		return transportError(writeErr)
	}

	for _, ack := range acks {
		if _, err := ack.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// routePush handles a RESP3 Push frame: the subscription/message
// vocabulary is identical to the RESP2 array form, just framed out of
// band instead of sharing pending's FIFO.
func (c *Conn) routePush(reply Reply) {
	if len(reply.Elems) == 0 {
		return
	}
	head := reply.Elems[0]
	event := head.text()
	switch event {
	case "message", "pmessage", "smessage", "subscribe", "psubscribe", "unsubscribe", "punsubscribe":
		c.routePubsubEvent(event, reply.Elems)
	case "invalidate":
		c.routeInvalidatePush(reply)
	default:
		c.Logf("redis: unrecognized push frame %q dropped", event)
	}
}

func (c *Conn) routePubsubEvent(event string, elems []Reply) {
	switch event {
	case "subscribe", "psubscribe":
		c.routeSubscribeAck(event, elems)
	case "unsubscribe", "punsubscribe":
		c.routeUnsubscribeAck(event, elems)
	case "message":
		c.routeMessage(string(elems[1].Bulk), "", elems[2].Bulk)
	case "smessage":
		c.routeMessage(string(elems[1].Bulk), "", elems[2].Bulk)
	case "pmessage":
		c.routeMessage(string(elems[2].Bulk), string(elems[1].Bulk), elems[3].Bulk)
	}
}

func (c *Conn) routeSubscribeAck(event string, elems []Reply) {
	name := string(elems[1].Bulk)
	kind := KindChannel
	if event == "psubscribe" {
		kind = KindPattern
	}
	key := subAckKey(kind, name)

	c.mu.Lock()
	ps, ok := c.pendingSubAcks[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pendingSubAcks, key)
	if kind == KindChannel {
		c.pubsubChannels[name] = ps.sub
	} else {
		c.pubsubPatterns[name] = ps.sub
	}
	c.pubsubCount++
	c.mu.Unlock()

	ps.future.resolveOK(elems[2])
}

func (c *Conn) routeUnsubscribeAck(event string, elems []Reply) {
	name := string(elems[1].Bulk)
	kind := KindChannel
	if event == "punsubscribe" {
		kind = KindPattern
	}
	key := subAckKey(kind, name)

	c.mu.Lock()
	ps, hasAck := c.pendingSubAcks[key]
	delete(c.pendingSubAcks, key)
	var sub *Subscription
	registry := c.pubsubChannels
	if kind == KindPattern {
		registry = c.pubsubPatterns
	}
	if s, ok := registry[name]; ok {
		sub = s
		delete(registry, name)
	}
	if c.pubsubCount > 0 {
		c.pubsubCount--
	}
	c.mu.Unlock()

	if hasAck {
		ps.future.resolveOK(elems[2])
	}
	if sub != nil {
		sub.closeSink()
	}
}

func (c *Conn) routeMessage(channel, pattern string, payload []byte) {
	c.mu.Lock()
	var sub *Subscription
	if pattern != "" {
		sub = c.pubsubPatterns[pattern]
	} else {
		sub = c.pubsubChannels[channel]
	}
	c.mu.Unlock()

	if sub == nil {
		c.Logf("redis: message on untracked %s dropped", channel)
		return
	}
	sub.enqueue(Message{Channel: channel, Pattern: pattern, Payload: payload})
}
