package redis

import "testing"

func TestCacheGetSetEviction(t *testing.T) {
	c := newCache(2)

	c.set("a", Reply{Bulk: []byte("1")})
	c.set("b", Reply{Bulk: []byte("2")})
	c.set("c", Reply{Bulk: []byte("3")}) // evicts "a", the least recently used

	if _, ok := c.get("a"); ok {
		t.Fatal("expected a to have been evicted")
	}
	if reply, ok := c.get("b"); !ok || string(reply.Bulk) != "2" {
		t.Fatalf("got %+v, %v", reply, ok)
	}
	if reply, ok := c.get("c"); !ok || string(reply.Bulk) != "3" {
		t.Fatalf("got %+v, %v", reply, ok)
	}
}

func TestCacheRecencyOnGet(t *testing.T) {
	c := newCache(2)
	c.set("a", Reply{Bulk: []byte("1")})
	c.set("b", Reply{Bulk: []byte("2")})
	c.get("a") // touch a, making b the least recently used
	c.set("c", Reply{Bulk: []byte("3")})

	if _, ok := c.get("b"); ok {
		t.Fatal("expected b to have been evicted instead of a")
	}
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a to survive, having been touched")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := newCache(4)
	c.set("a", Reply{Bulk: []byte("1")})
	c.invalidate("a")
	if _, ok := c.get("a"); ok {
		t.Fatal("expected a to be gone after invalidate")
	}
	c.invalidate("does-not-exist") // must not panic
}

func TestCacheInvalidateAll(t *testing.T) {
	c := newCache(4)
	c.set("a", Reply{Bulk: []byte("1")})
	c.set("b", Reply{Bulk: []byte("2")})
	c.invalidateAll()
	if _, ok := c.get("a"); ok {
		t.Fatal("a should be gone")
	}
	if _, ok := c.get("b"); ok {
		t.Fatal("b should be gone")
	}
}

func TestGETUsesCacheWithoutRoundTrip(t *testing.T) {
	c, srv := newTestConn(t, RESP2)
	ctx := ctxTimeout(t)
	c.cache = newCache(4)
	c.cache.set("k", Reply{Bulk: []byte("cached")})

	val, err := c.GET(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "cached" {
		t.Fatalf("got %q, want cached value with no server round trip", val)
	}
	_ = srv // the fake server must see no command at all for this call
}

func TestGETPopulatesCacheOnMiss(t *testing.T) {
	c, srv := newTestConn(t, RESP2)
	ctx := ctxTimeout(t)
	c.cache = newCache(4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		val, err := c.GET(ctx, "k")
		if err != nil {
			t.Errorf("GET: %v", err)
			return
		}
		if string(val) != "v" {
			t.Errorf("got %q", val)
		}
	}()
	toks := srv.readCommand(t)
	if toks[0] != "GET" || toks[1] != "k" {
		t.Fatalf("got %v", toks)
	}
	srv.send(t, "$1\r\nv\r\n")
	<-done

	if reply, ok := c.cache.get("k"); !ok || string(reply.Bulk) != "v" {
		t.Fatalf("expected GET to populate the cache, got %+v, %v", reply, ok)
	}
}

func TestSETInvalidatesCache(t *testing.T) {
	c, srv := newTestConn(t, RESP2)
	ctx := ctxTimeout(t)
	c.cache = newCache(4)
	c.cache.set("k", Reply{Bulk: []byte("stale")})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.SET(ctx, "k", []byte("fresh")); err != nil {
			t.Errorf("SET: %v", err)
		}
	}()
	srv.readCommand(t)
	srv.send(t, "+OK\r\n")
	<-done

	if _, ok := c.cache.get("k"); ok {
		t.Fatal("expected SET to invalidate the cached entry")
	}
}

func TestRouteInvalidatePushClearsKeys(t *testing.T) {
	c, _ := newTestConn(t, RESP3)
	c.cache = newCache(4)
	c.cache.set("a", Reply{Bulk: []byte("1")})
	c.cache.set("b", Reply{Bulk: []byte("2")})

	c.routeInvalidatePush(Reply{Elems: []Reply{
		{Type: TypeBulkString, Bulk: []byte("invalidate")},
		{Type: TypeArray, Elems: []Reply{{Type: TypeBulkString, Bulk: []byte("a")}}},
	}})

	if _, ok := c.cache.get("a"); ok {
		t.Fatal("expected a to be invalidated")
	}
	if _, ok := c.cache.get("b"); !ok {
		t.Fatal("b should be untouched")
	}
}

func TestRouteInvalidatePushNullClearsAll(t *testing.T) {
	c, _ := newTestConn(t, RESP3)
	c.cache = newCache(4)
	c.cache.set("a", Reply{Bulk: []byte("1")})

	c.routeInvalidatePush(Reply{Elems: []Reply{
		{Type: TypeBulkString, Bulk: []byte("invalidate")},
		{Type: TypeNull, Null: true},
	}})

	if _, ok := c.cache.get("a"); ok {
		t.Fatal("expected a null invalidate payload to clear the whole cache")
	}
}
