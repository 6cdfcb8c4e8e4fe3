package objref

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecrefSender struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeDecrefSender) SendDecref(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakeDecrefSender) sent() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.ids))
	copy(out, f.ids)
	return out
}

func TestProxyCacheGetPut(t *testing.T) {
	cache := NewProxyCache(nil)
	proxy := &widget{Name: "p"}
	cache.Put(1, proxy)

	got, ok := cache.Get(1)
	require.True(t, ok)
	assert.Same(t, proxy, got)
}

func TestProxyCacheMissReportsAbsent(t *testing.T) {
	cache := NewProxyCache(nil)
	_, ok := cache.Get(404)
	assert.False(t, ok)
}

// TestProxyCacheFinalizerSendsDecref exercises the "expired weak entries are
// purged lazily" behavior: once the last strong reference to a proxy is
// dropped and GC runs, the cache forgets the id and issues CMD_DECREF.
func TestProxyCacheFinalizerSendsDecref(t *testing.T) {
	sender := &fakeDecrefSender{}
	cache := NewProxyCache(sender)

	func() {
		proxy := &widget{Name: "transient"}
		cache.Put(7, proxy)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
		if len(sender.sent()) > 0 {
			break
		}
	}

	assert.Equal(t, []int64{7}, sender.sent())
	assert.Equal(t, 0, cache.Len())
}
