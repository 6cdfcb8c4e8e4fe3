package packer

import "github.com/agnos-rpc/agnos-go/agnoserr"

// primitiveOffset maps a well-known scalar packer id to its 0..8 slot in the
// List-of/Set-of id ranges (800-range / 820-range), in table order: int8,
// bool, int16, int32, int64, float64, buffer, datetime, string.
func primitiveOffset(id ID) (ID, bool) {
	switch id {
	case IDInt8:
		return 0, true
	case IDBool:
		return 1, true
	case IDInt16:
		return 2, true
	case IDInt32:
		return 3, true
	case IDInt64:
		return 4, true
	case IDFloat64:
		return 5, true
	case IDBuffer:
		return 6, true
	case IDDatetime:
		return 7, true
	case IDString:
		return 8, true
	default:
		return 0, false
	}
}

// listPacker is the packer for "List of T": int32 count, then count-many
// T-encoded elements.
type listPacker struct {
	id   ID
	elem Packer
}

// ListOf returns the well-known list-of packer for elem when elem is one of
// the nine scalar packers; otherwise it synthesizes a packer with id 0
// (never registered as well-known; callers needing a list-of-record packer
// should register an explicit id via Registry.Register).
func ListOf(elem Packer) Packer {
	id := ID(0)
	if off, ok := primitiveOffset(elem.ID()); ok {
		id = idListBase + off
	}
	return &listPacker{id: id, elem: elem}
}

// ListOfID returns a list-of packer with an explicit wire id, for use with
// non-scalar element packers (records, enums, proxies).
func ListOfID(id ID, elem Packer) Packer {
	return &listPacker{id: id, elem: elem}
}

func (p *listPacker) ID() ID { return p.id }

func (p *listPacker) Pack(w Writer, v interface{}) error {
	items := v.([]interface{})
	if err := writeLen(w, len(items)); err != nil {
		return err
	}
	for _, it := range items {
		if err := p.elem.Pack(w, it); err != nil {
			return err
		}
	}
	return nil
}

func (p *listPacker) Unpack(r Reader) (interface{}, error) {
	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, capHint(n))
	for i := 0; i < n; i++ {
		v, err := p.elem.Unpack(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// setPacker is the packer for "Set of T": identical wire form to List-of;
// container semantics differ (insertion order irrelevant, duplicates
// forbidden).
type setPacker struct {
	id   ID
	elem Packer
}

// SetOf returns the well-known set-of packer for elem when elem is one of
// the nine scalar packers.
func SetOf(elem Packer) Packer {
	id := ID(0)
	if off, ok := primitiveOffset(elem.ID()); ok {
		id = idSetBase + off
	}
	return &setPacker{id: id, elem: elem}
}

// SetOfID returns a set-of packer with an explicit wire id.
func SetOfID(id ID, elem Packer) Packer {
	return &setPacker{id: id, elem: elem}
}

func (p *setPacker) ID() ID { return p.id }

func (p *setPacker) Pack(w Writer, v interface{}) error {
	items := v.([]interface{})
	if err := writeLen(w, len(items)); err != nil {
		return err
	}
	for _, it := range items {
		if err := p.elem.Pack(w, it); err != nil {
			return err
		}
	}
	return nil
}

func (p *setPacker) Unpack(r Reader) (interface{}, error) {
	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, capHint(n))
	seen := make(map[interface{}]struct{}, capHint(n))
	for i := 0; i < n; i++ {
		v, err := p.elem.Unpack(r)
		if err != nil {
			return nil, err
		}
		key := v
		if b, ok := v.([]byte); ok {
			// []byte cannot be a map key; buffers compare by content.
			key = string(b)
		}
		if _, dup := seen[key]; dup {
			return nil, agnoserr.NewProtocolError("set-of packer: duplicate element on wire")
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// mapEntry is one key/value pair of a Map-of container.
type mapEntry struct {
	Key, Value interface{}
}

// mapPacker is the packer for "Map of K→V": int32 count, then count-many
// (K, V) pairs.
type mapPacker struct {
	id         ID
	key, value Packer
}

// MapOf returns a map-of packer with an explicit wire id (the four
// well-known combinations use ids 850-853; others may register their own).
func MapOf(id ID, key, value Packer) Packer {
	return &mapPacker{id: id, key: key, value: value}
}

func (p *mapPacker) ID() ID { return p.id }

func (p *mapPacker) Pack(w Writer, v interface{}) error {
	entries := v.([]mapEntry)
	if err := writeLen(w, len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := p.key.Pack(w, e.Key); err != nil {
			return err
		}
		if err := p.value.Pack(w, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (p *mapPacker) Unpack(r Reader) (interface{}, error) {
	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	out := make([]mapEntry, 0, capHint(n))
	for i := 0; i < n; i++ {
		k, err := p.key.Unpack(r)
		if err != nil {
			return nil, err
		}
		v, err := p.value.Unpack(r)
		if err != nil {
			return nil, err
		}
		out = append(out, mapEntry{Key: k, Value: v})
	}
	return out, nil
}

// capHint bounds an attacker-controlled declared count to a sane initial
// slice capacity; growth beyond this proceeds amortized via append, never
// proportional to the stated count up front.
func capHint(n int) int {
	const max = 1024
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}
