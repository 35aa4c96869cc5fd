// Package wasmdiffer hosts a Differ implemented as a WebAssembly guest
// module, so a host application can ship differ logic as a sandboxed
// plugin instead of linked Go code.
//
// The guest module must export weave_diff, weave_patch, weave_merge,
// weave_compute_ref and weave_free (Load checks for these five) plus
// weave_alloc (looked up when inputs are first written), operating on a
// shared linear-memory convention: the host writes each byte-string
// input into memory from weave_alloc(len), each operation export takes
// (ptr, len) pairs for those inputs and returns a packed
// (ptr<<32 | len) result pointing at memory the host copies out and
// then tells the guest to free via weave_free(ptr, len). This is the minimal ABI wazero's own examples
// use for passing byte slices across the host/guest boundary; weave
// does not invent a richer one because nothing in the spec requires it.
package wasmdiffer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/differ"
)

// Differ hosts a single WASM module instance. It is not safe for
// concurrent use by multiple goroutines calling different exports at
// once (wazero module instances are not reentrant); callers should
// serialize through a mutex, which this wrapper does internally since
// the engine itself calls Differ methods from a single goroutine but
// may hand the same instance to more than one engine in-process.
type Differ struct {
	mu      sync.Mutex
	rt      wazero.Runtime
	mod     api.Module
	ctx     context.Context
	closeFn func(context.Context) error
}

// Load instantiates the WASM module at wasmBytes and returns a ready
// Differ. Close must be called to release the runtime.
func Load(ctx context.Context, wasmBytes []byte) (*Differ, error) {
	rt := wazero.NewRuntime(ctx)
	mod, err := rt.Instantiate(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("wasmdiffer: instantiate: %w", err)
	}
	for _, name := range []string{"weave_diff", "weave_patch", "weave_merge", "weave_compute_ref", "weave_free"} {
		if mod.ExportedFunction(name) == nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("wasmdiffer: guest module missing export %q", name)
		}
	}
	return &Differ{
		rt:      rt,
		mod:     mod,
		ctx:     ctx,
		closeFn: rt.Close,
	}, nil
}

// Close releases the WASM runtime.
func (d *Differ) Close() error {
	return d.closeFn(d.ctx)
}

// writeBytes copies b into guest memory using the guest's exported
// allocator convention (weave_alloc(len) -> ptr), returning the pointer.
func (d *Differ) writeBytes(b []byte) (uint32, error) {
	alloc := d.mod.ExportedFunction("weave_alloc")
	if alloc == nil {
		return 0, fmt.Errorf("wasmdiffer: guest module missing export %q", "weave_alloc")
	}
	res, err := alloc.Call(d.ctx, uint64(len(b)))
	if err != nil {
		return 0, fmt.Errorf("wasmdiffer: weave_alloc: %w", err)
	}
	ptr := uint32(res[0])
	if len(b) > 0 && !d.mod.Memory().Write(ptr, b) {
		return 0, fmt.Errorf("wasmdiffer: failed writing %d bytes at %d", len(b), ptr)
	}
	return ptr, nil
}

func (d *Differ) readPacked(packed uint64) ([]byte, error) {
	ptr := uint32(packed >> 32)
	ln := uint32(packed)
	if ln == 0 {
		return nil, nil
	}
	b, ok := d.mod.Memory().Read(ptr, ln)
	if !ok {
		return nil, fmt.Errorf("wasmdiffer: failed reading %d bytes at %d", ln, ptr)
	}
	out := make([]byte, len(b))
	copy(out, b)
	free := d.mod.ExportedFunction("weave_free")
	if _, err := free.Call(d.ctx, uint64(ptr), uint64(ln)); err != nil {
		return nil, fmt.Errorf("wasmdiffer: weave_free: %w", err)
	}
	return out, nil
}

// Migrate is not delegated to the guest: wasmdiffer expects documents
// already in the guest's JSON wire format and performs no
// version-aware rewriting of its own. Host applications needing
// migration should compose internal/differ/schemaver in front of this
// Differ.
func (d *Differ) Migrate(doc any, metadata []byte) (any, []byte, error) {
	return doc, metadata, nil
}

func (d *Differ) call(export string, args ...[]byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn := d.mod.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("wasmdiffer: missing export %q", export)
	}
	callArgs := make([]uint64, 0, len(args)*2)
	for _, a := range args {
		ptr, err := d.writeBytes(a)
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, uint64(ptr), uint64(len(a)))
	}
	res, err := fn.Call(d.ctx, callArgs...)
	if err != nil {
		return nil, fmt.Errorf("wasmdiffer: call %s: %w", export, err)
	}
	return d.readPacked(res[0])
}

// Diff calls the guest's weave_diff(oldJSON, newJSON) -> delta.
func (d *Differ) Diff(oldDoc, newDoc any) ([]byte, error) {
	oldJSON, newJSON, err := marshalPair(oldDoc, newDoc)
	if err != nil {
		return nil, err
	}
	return d.call("weave_diff", oldJSON, newJSON)
}

// Patch calls the guest's weave_patch(docJSON, delta) -> newDocJSON.
func (d *Differ) Patch(doc any, delta []byte) (any, error) {
	docJSON, err := marshalOne(doc)
	if err != nil {
		return nil, err
	}
	out, err := d.call("weave_patch", docJSON, delta)
	if err != nil {
		return nil, err
	}
	return unmarshalDoc(out)
}

// ComputeRef uses weave's default content addressing
// (commit.ComputeRef) on the host side; the guest's weave_compute_ref
// export is not called.
func (d *Differ) ComputeRef(baseRef, mergeRef, mergeBaseRef commit.Ref, delta, editMetadata []byte) commit.Ref {
	return commit.ComputeRef(baseRef, mergeRef, mergeBaseRef, delta, editMetadata)
}

// Merge calls the guest's weave_merge(baseJSON, leftJSON, rightJSON).
func (d *Differ) Merge(base, left, right any) (differ.MergeResult, error) {
	baseJSON, err := marshalOne(base)
	if err != nil {
		return differ.MergeResult{}, err
	}
	leftJSON, err := marshalOne(left)
	if err != nil {
		return differ.MergeResult{}, err
	}
	rightJSON, err := marshalOne(right)
	if err != nil {
		return differ.MergeResult{}, err
	}
	out, err := d.call("weave_merge", baseJSON, leftJSON, rightJSON)
	if err != nil {
		return differ.MergeResult{}, err
	}
	doc, err := unmarshalDoc(out)
	if err != nil {
		return differ.MergeResult{}, err
	}
	return differ.MergeResult{Doc: doc}, nil
}
