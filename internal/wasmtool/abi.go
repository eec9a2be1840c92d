package wasmtool

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// callJSONFunc invokes a guest export that follows the packed
// pointer+length convention: the guest allocates space for inBytes via its
// exported "allocate" function, receives (ptr, len) for the input, and
// returns a single uint64 packing (ptr<<32 | len) for the output. The guest
// must also export "deallocate" to release both buffers.
//
// This mirrors the host/guest memory exchange used for "describe" and
// the JSON-in/JSON-out tool invocation convention: each
// guest export takes and returns a JSON document, so typed argument
// decoding happens entirely in the guest via its own schema bindings.
func callJSONFunc(ctx context.Context, mod api.Module, fnName string, inBytes []byte) ([]byte, error) {
	fn := mod.ExportedFunction(fnName)
	if fn == nil {
		return nil, fmt.Errorf("guest does not export %q", fnName)
	}
	allocate := mod.ExportedFunction("allocate")
	deallocate := mod.ExportedFunction("deallocate")
	if allocate == nil || deallocate == nil {
		return nil, fmt.Errorf("guest missing allocate/deallocate exports required for %q", fnName)
	}

	inPtr, err := writeToMemory(ctx, mod, allocate, inBytes)
	if err != nil {
		return nil, fmt.Errorf("write input for %q: %w", fnName, err)
	}
	defer func() { _, _ = deallocate.Call(ctx, uint64(inPtr), uint64(len(inBytes))) }()

	results, err := fn.Call(ctx, uint64(inPtr), uint64(len(inBytes)))
	if err != nil {
		return nil, fmt.Errorf("call %q: %w", fnName, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%q returned %d results, want 1 packed ptr+len", fnName, len(results))
	}

	outPtr, outLen := unpackPtrLen(results[0])
	out, err := readString(mod, outPtr, outLen)
	if err != nil {
		return nil, fmt.Errorf("read output of %q: %w", fnName, err)
	}
	defer func() { _, _ = deallocate.Call(ctx, uint64(outPtr), uint64(outLen)) }()

	return out, nil
}

func writeToMemory(ctx context.Context, mod api.Module, allocate api.Function, data []byte) (uint32, error) {
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("allocate %d bytes: %w", len(data), err)
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("write %d bytes at offset %d: out of memory bounds", len(data), ptr)
	}
	return ptr, nil
}

func readString(mod api.Module, ptr, size uint32) ([]byte, error) {
	b, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at offset %d: out of memory bounds", size, ptr)
	}
	// Copy out: the returned slice aliases guest linear memory, which the
	// caller is about to deallocate.
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func unpackPtrLen(packed uint64) (uint32, uint32) {
	return uint32(packed >> 32), uint32(packed)
}
