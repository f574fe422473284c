package socket

import (
	"strings"

	"github.com/mitchellh/go-ps"
)

var _ Finder = ProcessTable{}

// ProcessTable answers liveness checks from the OS process table.
type ProcessTable struct{}

// Alive reports whether any running executable carries the given name.
// The comparison ignores case and trailing platform suffixes, so
// "driftwatchd" also matches "driftwatchd.exe".
func (ProcessTable) Alive(name string) bool {
	procs, err := ps.Processes()
	if err != nil {
		return false
	}

	for _, p := range procs {
		exe := p.Executable()
		if len(exe) >= len(name) && strings.EqualFold(exe[:len(name)], name) {
			return true
		}
	}

	return false
}
