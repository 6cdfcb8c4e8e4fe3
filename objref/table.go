// Package objref implements the server-side object table and the
// object-reference packer that exposes server-resident host objects to
// remote peers as opaque 64-bit ids, plus the client-side weak proxy cache.
package objref

import (
	"reflect"
	"sync"

	"github.com/agnos-rpc/agnos-go/agnoserr"
	"github.com/agnos-rpc/agnos-go/packer"
)

// cell is a server-side record holding a strong reference to a host object
// plus a positive reference count.
type cell struct {
	value interface{}
	count int
}

// Table is the server-side object table: a mapping from 64-bit object id to
// cell. All mutations (store/incref/decref/erase) are serialized by a single
// mutex.
type Table struct {
	mu    sync.Mutex
	cells map[int64]*cell
	ids   map[uintptr]int64 // host object identity -> assigned id, for dedup on re-pack
	next  int64
}

// NewTable returns an empty object table.
func NewTable() *Table {
	return &Table{
		cells: make(map[int64]*cell),
		ids:   make(map[uintptr]int64),
	}
}

// identityOf derives a stable key for v's host-object identity. Pointer,
// map, chan, and func values carry a usable machine address; anything else
// (a value type passed by value) has no identity to key on and yields 0.
func identityOf(v interface{}) uintptr {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return rv.Pointer()
	default:
		return 0
	}
}

// Store derives a stable id for v (address-as-identity) and either inserts
// a new cell with count 1 or increments an existing cell's count, returning
// the id to write on the wire. A value with no address (identity 0) is never
// matched to an earlier cell; each Store of one inserts a new cell.
func (t *Table) Store(v interface{}) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := identityOf(v)
	if id, ok := t.ids[key]; ok && key != 0 {
		t.cells[id].count++
		return id
	}

	t.next++
	id := t.next
	if key != 0 {
		t.ids[key] = id
	}
	t.cells[id] = &cell{value: v, count: 1}
	return id
}

// Load looks up id, returning the stored value. An absent id is a protocol
// error, "invalid object reference".
func (t *Table) Load(id int64) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cells[id]
	if !ok {
		return nil, agnoserr.NewProtocolError("invalid object reference")
	}
	return c.value, nil
}

// Incref increments id's count if present; silently ignored if absent.
func (t *Table) Incref(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.cells[id]; ok {
		c.count++
	}
}

// Decref decrements id's count if present, removing the cell (and dropping
// the host reference) when the count reaches zero. Absent ids are silently
// ignored, mirroring Incref.
func (t *Table) Decref(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cells[id]
	if !ok {
		return
	}
	c.count--
	if c.count <= 0 {
		delete(t.cells, id)
		for key, cid := range t.ids {
			if cid == id {
				delete(t.ids, key)
				break
			}
		}
	}
}

// Len reports the number of live cells, for metrics/tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}

// Packer is a per-proxied-interface codec whose wire form is just an int64
// id. The generated stub declares one Packer per proxied interface, each
// with a distinct registry id; this package supplies the shared
// encode/decode behavior against a server Table.
type Packer struct {
	id    packer.ID
	table *Table
}

// NewServerPacker returns a proxy packer bound to a server-side Table: Pack
// stores/increfs the host object and writes its id; Unpack looks the id up.
func NewServerPacker(id packer.ID, table *Table) *Packer {
	return &Packer{id: id, table: table}
}

func (p *Packer) ID() packer.ID { return p.id }

// Pack derives/increfs an id for v and writes it as an int64.
func (p *Packer) Pack(w packer.Writer, v interface{}) error {
	id := p.table.Store(v)
	return packer.Int64.Pack(w, id)
}

// Unpack reads an int64 id and resolves it against the table.
func (p *Packer) Unpack(r packer.Reader) (interface{}, error) {
	raw, err := packer.Int64.Unpack(r)
	if err != nil {
		return nil, err
	}
	return p.table.Load(raw.(int64))
}
