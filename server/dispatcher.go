package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agnos-rpc/agnos-go/heteromap"
	"github.com/agnos-rpc/agnos-go/packer"
)

// Func describes one INVOKE-able function: its numeric id, the packers for
// its positional arguments (in order), and the packer for its return value
// (nil for a void function). Handler receives already-decoded arguments and
// returns either the decoded return value or an error; a *agnoserr.
// PackedException for a schema exception, a *agnoserr.ProtocolError is
// reported as a protocol error, and anything else becomes a generic
// exception.
//
// This is the seam a generated service stub plugs into; the IDL compiler
// and the stubs themselves aren't implemented here, but the core must still
// be runnable end-to-end, hence this minimal registrable surface.
type Func struct {
	ID           int32
	Name         string
	ArgPackers   []packer.Packer
	ReturnPacker packer.Packer // nil means void
	Handler      func(args []interface{}) (interface{}, error)
}

// Dispatcher holds the service identity and the function table an INVOKE
// command resolves against, plus the GETINFO responses derived from them.
type Dispatcher struct {
	mu         sync.RWMutex
	funcs      map[int32]*Func
	name       string
	version    string
	idlMagic   int32
	instanceID string

	compressionSupported bool
}

// NewDispatcher returns an empty Dispatcher describing one service. Each
// Dispatcher gets its own process-instance id, surfaced in GETINFO general
// info so a client can tell two restarts of the same service apart.
func NewDispatcher(name, version string, idlMagic int32) *Dispatcher {
	return &Dispatcher{
		funcs:                make(map[int32]*Func),
		name:                 name,
		version:              version,
		idlMagic:             idlMagic,
		instanceID:           uuid.NewString(),
		compressionSupported: true,
	}
}

// Register installs fn, keyed by its ID. Registering the same id twice
// replaces the previous entry.
func (d *Dispatcher) Register(fn *Func) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.funcs[fn.ID] = fn
}

// Lookup resolves funcID to its Func.
func (d *Dispatcher) Lookup(funcID int32) (*Func, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.funcs[funcID]
	return fn, ok
}

// GetInfo builds the HeteroMap reply for GETINFO code:
//
//	0 = meta: available codes and capability flags (e.g. compression support)
//	1 = general: service identity (name, version, IDL magic)
//	2 = functions: function name -> numeric id, one entry per function
//	3 = function-codes: function name -> numeric id (the same map as 2)
//
// Codes 2 and 3 carry only names and ids; argument and return packers are
// not described.
//
// meta's values are plain integer codes into itself; the client asks for
// 1/2/3 explicitly rather than receiving them inline as nested maps. An
// unknown code still produces the meta response rather than a protocol
// error.
func (d *Dispatcher) GetInfo(code int32) *heteromap.Map {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch code {
	case InfoGeneral:
		m := heteromap.New()
		m.Put("NAME", packer.IDString, d.name, packer.IDString)
		m.Put("VERSION", packer.IDString, d.version, packer.IDString)
		m.Put("IDL_MAGIC", packer.IDString, d.idlMagic, packer.IDInt32)
		m.Put("INSTANCE_ID", packer.IDString, d.instanceID, packer.IDString)
		return m
	case InfoFunctions, InfoFuncCodes:
		m := heteromap.New()
		for id, fn := range d.funcs {
			m.Put(fn.Name, packer.IDString, id, packer.IDInt32)
		}
		return m
	default:
		m := heteromap.New()
		m.PutString("INFO_META", InfoMeta)
		m.PutString("INFO_GENERAL", InfoGeneral)
		m.PutString("INFO_FUNCTIONS", InfoFunctions)
		m.PutString("INFO_FUNCCODES", InfoFuncCodes)
		if d.compressionSupported {
			m.PutString("COMPRESSION_SUPPORTED", 1)
		} else {
			m.PutString("COMPRESSION_SUPPORTED", 0)
		}
		return m
	}
}
