// Package heteromap implements Agnos's self-describing map: an entry format
// that carries the packer id of its key and its value inline, so a payload
// can be decoded without any out-of-band schema.
package heteromap

import (
	"reflect"

	"github.com/agnos-rpc/agnos-go/agnoserr"
	"github.com/agnos-rpc/agnos-go/packer"
)

// entryKey identifies one HeteroMap slot. All six permitted key domain types
// (bool, int32, int64, float64, string, time.Time) are comparable, so a
// struct combining the declared key-packer id and the raw key value works
// directly as a Go map key.
type entryKey struct {
	keyID packer.ID
	key   interface{}
}

type entry struct {
	key, value     interface{}
	keyID, valueID packer.ID
}

// Map is a mapping where each entry carries, alongside key and value, the
// pair (key-packer-id, value-packer-id) that declares how to encode them.
//
// Map is not safe for concurrent use; callers building a GETINFO-style
// payload from one goroutine need no extra synchronization, matching how the
// reference implementation uses it.
type Map struct {
	order   []entryKey
	entries map[entryKey]*entry
}

// New returns an empty HeteroMap.
func New() *Map {
	return &Map{entries: make(map[entryKey]*entry)}
}

// permittedKeyIDs is the permitted HeteroMap key domain: bool, int32,
// int64, double, string, datetime.
var permittedKeyIDs = map[packer.ID]bool{
	packer.IDBool:     true,
	packer.IDInt32:    true,
	packer.IDInt64:    true,
	packer.IDFloat64:  true,
	packer.IDString:   true,
	packer.IDDatetime: true,
}

// Put associates key, value, and the two packer ids that will encode them.
// Replacing an existing key replaces both its value and its declared
// packers. Put itself never fails on an out-of-domain key id; that
// violation is only detected at serialization time.
func (m *Map) Put(key interface{}, keyID packer.ID, value interface{}, valueID packer.ID) {
	ek := entryKey{keyID: keyID, key: key}
	if key != nil && !reflect.TypeOf(key).Comparable() {
		// A key of a non-comparable type (such as []byte) cannot index
		// entries; it gets a unique identity instead, so a later Put never
		// replaces it and Get cannot look it up.
		ek.key = new(byte)
	}
	if _, exists := m.entries[ek]; !exists {
		m.order = append(m.order, ek)
	}
	m.entries[ek] = &entry{key: key, value: value, keyID: keyID, valueID: valueID}
}

// PutString is a convenience for the overwhelmingly common string-keyed,
// int32-valued entries GETINFO responses use.
func (m *Map) PutString(key string, value int32) {
	m.Put(key, packer.IDString, value, packer.IDInt32)
}

// Get returns the value stored for key under keyID, if present.
func (m *Map) Get(key interface{}, keyID packer.ID) (interface{}, bool) {
	e, ok := m.entries[entryKey{keyID: keyID, key: key}]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.order) }

// Range calls fn for each entry in a stable (insertion) order for this
// serialization pass; iteration order is otherwise unspecified.
func (m *Map) Range(fn func(key interface{}, keyID packer.ID, value interface{}, valueID packer.ID)) {
	for _, ek := range m.order {
		e := m.entries[ek]
		fn(e.key, e.keyID, e.value, e.valueID)
	}
}

// Packer is the HeteroMap codec, packer id 998. It carries a registry of
// non-well-known ids so it can resolve record/enum/proxy packers a generated
// stub installed.
type Packer struct {
	registry *packer.Registry
}

// NewPacker returns the HeteroMap packer bound to registry. registry must
// outlive every Pack/Unpack call made through this Packer.
func NewPacker(registry *packer.Registry) *Packer {
	return &Packer{registry: registry}
}

func (p *Packer) ID() packer.ID { return packer.IDHeteroMap }

// Pack writes the HeteroMap wire form:
//
//	int32 count
//	for each entry: int32 key_packer_id, key_bytes, int32 val_packer_id, val_bytes
//
// Serialization fails with a hetero-map-error if any entry's declared key id
// falls outside the permitted key domain, or if either declared packer id
// does not resolve in the active registry. Each value is encoded exactly
// once; the reference C++ source's dangling double-pack branch is
// deliberately not reproduced here.
func (p *Packer) Pack(w packer.Writer, v interface{}) error {
	m := v.(*Map)

	if err := writeInt32(w, int32(m.Len())); err != nil {
		return err
	}

	var rangeErr error
	m.Range(func(key interface{}, keyID packer.ID, value interface{}, valueID packer.ID) {
		if rangeErr != nil {
			return
		}
		if !permittedKeyIDs[keyID] {
			rangeErr = agnoserr.NewProtocolError("hetero-map: key packer id %d outside permitted key domain", keyID)
			return
		}
		keyPacker, ok := p.registry.Resolve(keyID)
		if !ok {
			rangeErr = agnoserr.NewProtocolError("hetero-map: unresolved key packer id %d", keyID)
			return
		}
		valPacker, ok := p.registry.Resolve(valueID)
		if !ok {
			rangeErr = agnoserr.NewProtocolError("hetero-map: unresolved value packer id %d", valueID)
			return
		}
		if rangeErr = writeInt32(w, int32(keyID)); rangeErr != nil {
			return
		}
		if rangeErr = keyPacker.Pack(w, key); rangeErr != nil {
			return
		}
		if rangeErr = writeInt32(w, int32(valueID)); rangeErr != nil {
			return
		}
		rangeErr = valPacker.Pack(w, value)
	})
	return rangeErr
}

// Unpack reads the HeteroMap wire form back. An id that does not resolve in
// the registry aborts decoding with a hetero-map-error (protocol error),
// never a crash.
func (p *Packer) Unpack(r packer.Reader) (interface{}, error) {
	count, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, agnoserr.NewProtocolError("hetero-map: negative entry count")
	}

	m := New()
	for i := int32(0); i < count; i++ {
		keyID, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		keyPacker, ok := p.registry.Resolve(packer.ID(keyID))
		if !ok {
			return nil, agnoserr.NewProtocolError("hetero-map: unresolved key packer id %d", keyID)
		}
		key, err := keyPacker.Unpack(r)
		if err != nil {
			return nil, err
		}

		valID, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		valPacker, ok := p.registry.Resolve(packer.ID(valID))
		if !ok {
			return nil, agnoserr.NewProtocolError("hetero-map: unresolved value packer id %d", valID)
		}
		value, err := valPacker.Unpack(r)
		if err != nil {
			return nil, err
		}

		m.Put(key, packer.ID(keyID), value, packer.ID(valID))
	}
	return m, nil
}

func writeInt32(w packer.Writer, v int32) error {
	return packer.Int32.Pack(w, v)
}

func readInt32(r packer.Reader) (int32, error) {
	v, err := packer.Int32.Unpack(r)
	if err != nil {
		return 0, err
	}
	return v.(int32), nil
}
