package redis

import (
	"container/list"
	"context"
	"strconv"
	"sync"
)

// cache is a bounded client-side cache of GET results, keyed by the
// Redis key. It has no library precedent in the pack (see DESIGN.md);
// built the same way hashicorp/golang-lru builds one internally, since
// that package itself isn't present to import.
type cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key   string
	reply Reply
}

func newCache(capacity int) *cache {
	return &cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *cache) get(key string) (Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Reply{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).reply, true
}

func (c *cache) set(key string, reply Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).reply = reply
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, reply: reply})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *cache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return
	}
	c.ll.Remove(el)
	delete(c.items, key)
}

func (c *cache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

// enableCache turns on client-side invalidation for c, choosing between
// the two topologies the spec's CacheChannel variant describes: Shared,
// where c's own connection (RESP3) receives "invalidate" Push frames
// directly, and Sibling, where a second RESP2 connection subscribes to
// the server's __redis__:invalidate channel and relays keys back.
func (c *Conn) enableCache(ctx context.Context, opts Options) error {
	c.cache = newCache(opts.ClientSideCacheSize)

	if c.protocolLevel == RESP3 {
		future, err := c.execute(ctx, tokens("CLIENT", "TRACKING", "ON"), true)
		if err != nil {
			return err
		}
		_, err = future.Wait(ctx)
		return err
	}

	siblingOpts := opts
	siblingOpts.ClientSideCacheSize = 0
	sibling, err := Dial(ctx, siblingOpts)
	if err != nil {
		return err
	}

	clientID, err := sibling.ClientID(ctx)
	if err != nil {
		sibling.Close()
		return err
	}

	subs, err := sibling.Subscribe(ctx, "__redis__:invalidate")
	if err != nil {
		sibling.Close()
		return err
	}
	go c.relayInvalidations(subs[0].C)

	future, err := c.execute(ctx, tokens("CLIENT", "TRACKING", "ON", "REDIRECT", strconv.FormatInt(clientID, 10)), true)
	if err != nil {
		sibling.Close()
		return err
	}
	if _, err := future.Wait(ctx); err != nil {
		sibling.Close()
		return err
	}

	c.cacheSibling = sibling
	return nil
}

func (c *Conn) relayInvalidations(messages <-chan Message) {
	for msg := range messages {
		c.invalidateFromPayload(msg.Payload)
	}
}

// routeInvalidatePush handles the Shared topology's "invalidate" Push
// frame, dispatched from routePush when the event name is "invalidate".
func (c *Conn) routeInvalidatePush(reply Reply) {
	if c.cache == nil {
		return
	}
	if len(reply.Elems) < 2 || reply.Elems[1].Null {
		c.cache.invalidateAll()
		return
	}
	for _, key := range reply.Elems[1].Elems {
		c.cache.invalidate(string(key.Bulk))
	}
}

// invalidateFromPayload handles one key named by a __redis__:invalidate
// message. A nil payload (the message Redis sends on FLUSHALL/FLUSHDB)
// clears the whole cache instead.
func (c *Conn) invalidateFromPayload(payload []byte) {
	if c.cache == nil {
		return
	}
	if payload == nil {
		c.cache.invalidateAll()
		return
	}
	c.cache.invalidate(string(payload))
}
