package objref

import (
	"reflect"
	"runtime"
	"sync"
	"unsafe"
	"weak"
)

// DecrefSender is the minimal client-side seam ProxyCache uses to tell the
// server a proxy is no longer referenced locally. A *client.Conn satisfies
// this without objref importing package client (which would be a cycle).
type DecrefSender interface {
	SendDecref(id int64)
}

// ProxyCache is the client-side per-connection cache mapping an object id to
// the live proxy instance for it, so repeated unpacks of the same id return
// the same proxy as long as one is still reachable.
//
// Entries are weak in effect: ProxyCache never keeps a proxy alive by
// itself. The map holds a weak.Pointer plus the proxy's reflect.Type, never
// the proxy's own interface value, so the cache's own existence cannot
// extend the proxy's lifetime. A runtime finalizer on the proxy purges the
// entry and sends CMD_DECREF for its id once the proxy is actually
// collected, so expired weak entries are purged lazily rather than tracked
// eagerly.
//
// weak.Pointer only wraps *T for a concrete T, so Put requires proxy to be a
// pointer value; every generated proxy stub satisfies this. Get reconstructs
// the original pointer value via reflect.NewAt at the weak pointer's
// address, which is safe precisely because weak.Value() only returns a
// non-nil *byte while the object it refers to is still alive.
type ProxyCache struct {
	mu   sync.Mutex
	byID map[int64]*weakEntry
	conn DecrefSender
}

type weakEntry struct {
	ptr weak.Pointer[byte]
	typ reflect.Type // pointer type of the original proxy, e.g. *FooProxy
}

// NewProxyCache returns a ProxyCache that sends CMD_DECREF for expired
// entries through conn.
func NewProxyCache(conn DecrefSender) *ProxyCache {
	return &ProxyCache{byID: make(map[int64]*weakEntry), conn: conn}
}

// Get returns the cached proxy for id, if one is still live.
func (c *ProxyCache) Get(id int64) (interface{}, bool) {
	c.mu.Lock()
	e, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	addr := e.ptr.Value()
	if addr == nil {
		return nil, false
	}
	return reflect.NewAt(e.typ.Elem(), unsafe.Pointer(addr)).Interface(), true
}

// Put registers proxy as the live instance for id and arms a finalizer that
// purges the entry and issues CMD_DECREF when proxy becomes unreachable.
// proxy must be a pointer; ProxyCache only caches proxy stub instances,
// which are always pointer-typed.
func (c *ProxyCache) Put(id int64, proxy interface{}) {
	rv := reflect.ValueOf(proxy)
	if rv.Kind() != reflect.Ptr {
		panic("objref: ProxyCache.Put requires a pointer-typed proxy")
	}
	addr := (*byte)(rv.UnsafePointer())

	c.mu.Lock()
	c.byID[id] = &weakEntry{ptr: weak.Make(addr), typ: rv.Type()}
	c.mu.Unlock()

	runtime.SetFinalizer(proxy, func(interface{}) {
		c.mu.Lock()
		delete(c.byID, id)
		c.mu.Unlock()
		if c.conn != nil {
			c.conn.SendDecref(id)
		}
	})
}

// Len reports the number of entries currently tracked, live or not-yet-
// collected, for tests.
func (c *ProxyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
