package redis

import (
	"testing"
	"time"
)

func TestPSubscribeAndMessage(t *testing.T) {
	c, srv := newTestConn(t, RESP2)
	ctx := ctxTimeout(t)

	subDone := make(chan []*Subscription, 1)
	go func() {
		subs, err := c.PSubscribe(ctx, "news.*")
		if err != nil {
			t.Errorf("PSubscribe: %v", err)
			return
		}
		subDone <- subs
	}()

	toks := srv.readCommand(t)
	if toks[0] != "PSUBSCRIBE" || toks[1] != "news.*" {
		t.Fatalf("server saw %v", toks)
	}
	srv.send(t, "*3\r\n$10\r\npsubscribe\r\n$6\r\nnews.*\r\n:1\r\n")
	subs := <-subDone
	if len(subs) != 1 || subs[0].Name != "news.*" || subs[0].Kind != KindPattern {
		t.Fatalf("got %+v", subs)
	}

	srv.send(t, "*4\r\n$8\r\npmessage\r\n$6\r\nnews.*\r\n$8\r\nnews.biz\r\n$3\r\nyes\r\n")
	select {
	case msg := <-subs[0].C:
		if msg.Pattern != "news.*" || msg.Channel != "news.biz" || string(msg.Payload) != "yes" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestUnsubscribeClosesSink(t *testing.T) {
	c, srv := newTestConn(t, RESP2)
	ctx := ctxTimeout(t)

	subDone := make(chan []*Subscription, 1)
	go func() {
		subs, err := c.Subscribe(ctx, "news")
		if err != nil {
			t.Errorf("Subscribe: %v", err)
			return
		}
		subDone <- subs
	}()
	srv.readCommand(t)
	srv.send(t, "*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n")
	subs := <-subDone

	unsubDone := make(chan error, 1)
	go func() {
		unsubDone <- c.Unsubscribe(ctx, "news")
	}()
	toks := srv.readCommand(t)
	if toks[0] != "UNSUBSCRIBE" || toks[1] != "news" {
		t.Fatalf("server saw %v", toks)
	}
	srv.send(t, "*3\r\n$11\r\nunsubscribe\r\n$4\r\nnews\r\n:0\r\n")
	if err := <-unsubDone; err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-subs[0].C:
		if ok {
			t.Fatal("expected sink to be closed, got a message instead")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink to close")
	}
}

func TestUnsubscribeAllWithNoNames(t *testing.T) {
	c, srv := newTestConn(t, RESP2)
	ctx := ctxTimeout(t)

	subDone := make(chan []*Subscription, 1)
	go func() {
		subs, err := c.Subscribe(ctx, "a", "b")
		if err != nil {
			t.Errorf("Subscribe: %v", err)
			return
		}
		subDone <- subs
	}()
	toks := srv.readCommand(t)
	if len(toks) != 3 {
		t.Fatalf("server saw %v", toks)
	}
	srv.send(t, "*3\r\n$9\r\nsubscribe\r\n$1\r\na\r\n:1\r\n")
	srv.send(t, "*3\r\n$9\r\nsubscribe\r\n$1\r\nb\r\n:2\r\n")
	<-subDone

	unsubDone := make(chan error, 1)
	go func() {
		unsubDone <- c.Unsubscribe(ctx)
	}()
	toks = srv.readCommand(t)
	if toks[0] != "UNSUBSCRIBE" || len(toks) != 3 {
		t.Fatalf("expected UNSUBSCRIBE with both names, got %v", toks)
	}
	srv.send(t, "*3\r\n$11\r\nunsubscribe\r\n$1\r\na\r\n:1\r\n")
	srv.send(t, "*3\r\n$11\r\nunsubscribe\r\n$1\r\nb\r\n:0\r\n")
	if err := <-unsubDone; err != nil {
		t.Fatal(err)
	}
}

func TestRESP3PushSubscribeAck(t *testing.T) {
	c, srv := newTestConn(t, RESP3)
	ctx := ctxTimeout(t)

	subDone := make(chan []*Subscription, 1)
	go func() {
		subs, err := c.Subscribe(ctx, "news")
		if err != nil {
			t.Errorf("Subscribe: %v", err)
			return
		}
		subDone <- subs
	}()
	srv.readCommand(t)
	srv.send(t, ">3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n")
	subs := <-subDone
	if len(subs) != 1 || subs[0].Name != "news" {
		t.Fatalf("got %+v", subs)
	}

	srv.send(t, ">3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$2\r\nhi\r\n")
	select {
	case msg := <-subs[0].C:
		if string(msg.Payload) != "hi" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
