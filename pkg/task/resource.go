package task

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ResourceLimits shapes a task's scheduling and memory ceilings the
// same way the teacher's worker.go shapes a container's cgroup limits
// from the OCI runtime spec: a task's "cgroup" is its default thread
// priority/quantum budget and its wired-page ceiling.
type ResourceLimits struct {
	// Raw carries the limits in OCI terms (CPU shares, memory limit) so
	// a containerd-backed task host (pkg/taskhost) can hand them
	// straight to a real container's spec.
	Raw *specs.LinuxResources

	DefaultPriority int
	DefaultQuantum  int
	MaxWiredPages   int
}

// DefaultResourceLimits returns the limits a task gets when none are
// specified explicitly.
func DefaultResourceLimits() *ResourceLimits {
	shares := uint64(1024)
	return &ResourceLimits{
		Raw: &specs.LinuxResources{
			CPU: &specs.LinuxCPU{Shares: &shares},
		},
		DefaultPriority: 16,
		DefaultQuantum:  10,
		MaxWiredPages:   1 << 16,
	}
}

// WithMemoryLimit returns a copy of l with its OCI memory ceiling set
// and MaxWiredPages derived from it (spec.md §4.5 ties a task's
// resource limits to its wired-page budget).
func (l *ResourceLimits) WithMemoryLimit(bytes int64, pageSize int64) *ResourceLimits {
	out := *l
	raw := *l.Raw
	raw.Memory = &specs.LinuxMemory{Limit: &bytes}
	out.Raw = &raw
	if pageSize > 0 {
		out.MaxWiredPages = int(bytes / pageSize)
	}
	return &out
}
