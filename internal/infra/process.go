package infra

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo identifies one candidate target process.
type ProcessInfo struct {
	PID  int32
	Name string
}

// ProcessLocator finds candidate target processes for instrumentation
// using gopsutil.
type ProcessLocator struct{}

// NewProcessLocator creates a new process locator.
func NewProcessLocator() *ProcessLocator {
	return &ProcessLocator{}
}

// FindByName returns processes whose name matches the pattern
// (case-insensitive substring match).
func (l *ProcessLocator) FindByName(pattern string) ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []ProcessInfo
	patternLower := strings.ToLower(pattern)

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, ProcessInfo{PID: p.Pid, Name: name})
		}
	}

	return found, nil
}
