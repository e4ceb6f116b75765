// Package taskhost is the optional real-OS-process backing for a
// kernel task. Nothing in pkg/kernel or pkg/task depends on it: a task
// is fully defined by its IPC space, VM map, and threads regardless of
// what (if anything) is supplying pages to it. taskhost exists only so
// cmd/nucleusimd can exercise the external-pager protocol (spec.md
// §6.3) against a real, isolated process instead of an in-process
// stub, the way the teacher's pkg/runtime/containerd.go launches a
// workload container for warren's scheduler to track.
//
// A taskhost.Host launches a pager binary as a containerd task talking
// to the in-process kernel over a Unix-domain socket; cmd/nucleusimd's
// socket bridge relays that socket onto in-process ports, so pkg/vm's
// PagerClient speaks the same §6.3 wire protocol it would speak to an
// in-process pager.
package taskhost
