// Package trap implements the kernel's single trap vector (spec.md
// §6.1): a trap number table grouping traps into the categories the
// spec defines, and a wire codec (§6.2) for the on-the-wire message
// format a user buffer carries across that vector.
//
// There is no third-party binary-codec dependency anywhere in the
// example pack (the teacher speaks gRPC/protobuf over the network, not
// a fixed-layout in-memory record), so the codec is built directly on
// encoding/binary, the same way the pack's own fixed-layout records
// (see other_examples) are encoded when no such library is available.
package trap
