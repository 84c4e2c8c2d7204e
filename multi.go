package redis

import (
	"context"
	"errors"
)

// Tx is the handle a Multi body uses to queue commands inside a
// MULTI/EXEC transaction. Do behaves like Execute, except the Future it
// returns resolves from EXEC's reply array rather than from a direct
// server reply.
type Tx struct {
	conn    *Conn
	futures []*Future
}

// Do queues one command inside the transaction. The returned Future
// resolves once the surrounding Multi call's EXEC reply arrives.
func (tx *Tx) Do(ctx context.Context, args ...[]byte) (*Future, error) {
	// The server acks each queued command individually with +QUEUED
	// before EXEC. That ack travels through the ordinary pending FIFO
	// like any other reply, consuming its slot in order; this future is
	// never examined, since the command's real result comes from the
	// EXEC array instead. A command rejected before being queued (wrong
	// arity, unknown verb) still resolves this internal future with an
	// error rather than QUEUED and is simply absent from EXEC's array;
	// Multi does not special-case that rare mismatch.
	if _, err := tx.conn.execute(ctx, args, true); err != nil {
		return nil, err
	}
	public := newFuture(commandLabel(args))
	tx.futures = append(tx.futures, public)
	return public, nil
}

var errExecAborted = errors.New("EXEC aborted: a watched key was modified or a queued command failed")

// Multi runs body inside a MULTI/EXEC transaction on c. Concurrent
// Multi calls on the same Conn serialize: each call captures the
// previous call's completion as a barrier and waits for it before
// issuing its own MULTI, so only one transaction is ever being built at
// a time (invariant MULTI-exclusion). Ordinary Execute calls from other
// goroutines wait for the running Multi call to return before they
// write anything.
//
// body queues commands via tx.Do and returns an error to abort the
// transaction with DISCARD instead of EXEC. Multi reports how many
// queued commands succeeded and how many failed (either because EXEC
// itself failed, the transaction was discarded, or the command errored
// within the EXEC array).
func (c *Conn) Multi(ctx context.Context, body func(tx *Tx) error) (succeeded, failed int, err error) {
	barrier := make(chan struct{})

	c.mu.Lock()
	prev := c.multiChain
	c.multiChain = barrier
	c.mu.Unlock()
	defer func() {
		close(barrier)
		c.mu.Lock()
		if c.multiChain == barrier {
			c.multiChain = nil
		}
		c.mu.Unlock()
	}()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return 0, 0, cancelledError(ctx.Err())
		}
	}

	multiAck, err := c.execute(ctx, tokens("MULTI"), true)
	if err != nil {
		return 0, 0, err
	}
	if _, err := multiAck.Wait(ctx); err != nil {
		return 0, 0, err
	}

	tx := &Tx{conn: c}
	bodyErr := body(tx)

	if bodyErr != nil {
		discardAck, err := c.execute(ctx, tokens("DISCARD"), true)
		if err == nil {
			discardAck.Wait(ctx)
		}
		failed = len(tx.futures)
		for _, f := range tx.futures {
			f.resolveErr(redisError(ServerError(bodyErr.Error())))
		}
		return 0, failed, bodyErr
	}

	execAck, err := c.execute(ctx, tokens("EXEC"), true)
	if err != nil {
		failed = len(tx.futures)
		for _, f := range tx.futures {
			f.resolveErr(err)
		}
		return 0, failed, err
	}
	reply, err := execAck.Wait(ctx)
	if err != nil {
		failed = len(tx.futures)
		for _, f := range tx.futures {
			f.resolveErr(err)
		}
		return 0, failed, err
	}
	if reply.Null {
		failed = len(tx.futures)
		for _, f := range tx.futures {
			f.resolveErr(redisError(ServerError(errExecAborted.Error())))
		}
		return 0, failed, errExecAborted
	}

	for i, f := range tx.futures {
		if i >= len(reply.Elems) {
			f.resolveErr(redisError(ServerError(errExecAborted.Error())))
			failed++
			continue
		}
		elem := reply.Elems[i]
		if elem.IsError() {
			f.resolveErr(redisError(ServerError(elem.text())))
			failed++
		} else {
			f.resolveOK(elem)
			succeeded++
		}
	}
	return succeeded, failed, nil
}
