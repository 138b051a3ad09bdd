package fusabi

import "github.com/fusabi-lang/fusabi/internal/vm"

// VM is the virtual machine handle passed to host functions; higher-order
// natives re-enter it with CallValue.
type VM = vm.VM

// Chunk is a compiled unit, as produced by Compile and consumed by
// Execute.
type Chunk = vm.Chunk

// Metadata describes a compiled module in the .fzb format.
type Metadata = vm.Metadata

// Value constructors for host functions.

func UnitValue() Value           { return vm.UnitVal() }
func IntValue(v int64) Value     { return vm.IntVal(v) }
func FloatValue(v float64) Value { return vm.FloatVal(v) }
func BoolValue(v bool) Value     { return vm.BoolVal(v) }
func StringValue(v string) Value { return vm.StrVal(v) }

// HostError builds the error value a native returns for a domain failure;
// it surfaces as a Host-kind runtime error.
func HostError(format string, args ...interface{}) error {
	return vm.NewHostError(format, args...)
}

// Serialize encodes a compiled chunk into the .fzb byte format.
func Serialize(chunk *Chunk, meta Metadata) ([]byte, error) {
	return vm.Serialize(chunk, meta)
}

// Deserialize decodes and validates a .fzb image.
func Deserialize(data []byte) (*Chunk, *Metadata, error) {
	return vm.Deserialize(data)
}

// Disassemble renders a chunk as human-readable mnemonics.
func Disassemble(chunk *Chunk) string {
	return vm.Disassemble(chunk)
}
