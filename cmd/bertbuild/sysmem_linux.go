//go:build linux

package main

import "golang.org/x/sys/unix"

// defaultWorkspaceMiB sizes the planner scratch bound from total system
// memory: a quarter of RAM, capped at the fallback.
func defaultWorkspaceMiB() int {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return fallbackWorkspaceMiB
	}
	total := uint64(info.Totalram) * uint64(info.Unit)
	quarter := int(total / (4 * 1024 * 1024))
	if quarter <= 0 || quarter > fallbackWorkspaceMiB {
		return fallbackWorkspaceMiB
	}
	return quarter
}
