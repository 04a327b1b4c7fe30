package sensor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SysfsCounter reads a Linux counter-subsystem device
// (/sys/bus/counter/devices/counterN/count0). The hardware counter tallies
// edges on the bus-sense line; reading leaves it running, so the driver keeps
// the previous reading and reports the delta.
type SysfsCounter struct {
	dir  string
	prev uint64
}

// OpenSysfsCounter opens the counter device directory and arms the count.
// It also programs the glitch filter if the driver exposes one, so that
// sub-100ns electrical noise is not mistaken for bus traffic.
func OpenSysfsCounter(dir string) (*SysfsCounter, error) {
	c := &SysfsCounter{dir: dir}

	if err := os.WriteFile(filepath.Join(dir, "enable"), []byte("1"), 0644); err != nil {
		return nil, fmt.Errorf("enabling counter %s: %w", dir, err)
	}

	// Best effort: not every counter driver has a debounce/filter attribute.
	filterPath := filepath.Join(dir, "filter_ns")
	if _, err := os.Stat(filterPath); err == nil {
		if err := os.WriteFile(filterPath, []byte("100"), 0644); err != nil {
			return nil, fmt.Errorf("setting glitch filter on %s: %w", dir, err)
		}
	}

	v, err := c.read()
	if err != nil {
		return nil, fmt.Errorf("reading counter %s: %w", dir, err)
	}
	c.prev = v
	return c, nil
}

// ReadAndClear returns the number of edges seen since the previous call.
func (c *SysfsCounter) ReadAndClear() (uint32, error) {
	v, err := c.read()
	if err != nil {
		return 0, err
	}
	delta := v - c.prev // wraps correctly for free-running counters
	c.prev = v
	if delta > 1<<32-1 {
		delta = 1<<32 - 1
	}
	return uint32(delta), nil
}

func (c *SysfsCounter) read() (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(c.dir, "count"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64)
}
