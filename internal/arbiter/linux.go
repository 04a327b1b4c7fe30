//go:build linux

package arbiter

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// GPIOSwitch drives the bus multiplexer select line through the sysfs GPIO
// interface. Writing 1 routes the bus to the appliance, 0 to the therapy
// device (matching the board's SD_SWITCH wiring).
type GPIOSwitch struct {
	valuePath string
}

// NewGPIOSwitch exports the GPIO line if needed and configures it as an
// output that defaults to the therapy device.
func NewGPIOSwitch(gpio int) (*GPIOSwitch, error) {
	base := fmt.Sprintf("/sys/class/gpio/gpio%d", gpio)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.WriteFile("/sys/class/gpio/export", []byte(fmt.Sprintf("%d", gpio)), 0644); err != nil {
			return nil, fmt.Errorf("exporting gpio %d: %w", gpio, err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "direction"), []byte("out"), 0644); err != nil {
		return nil, fmt.Errorf("configuring gpio %d: %w", gpio, err)
	}
	s := &GPIOSwitch{valuePath: filepath.Join(base, "value")}
	// The therapy device must have the card immediately on boot.
	if err := s.Route(false); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GPIOSwitch) Route(toAppliance bool) error {
	v := "0"
	if toAppliance {
		v = "1"
	}
	if err := os.WriteFile(s.valuePath, []byte(v), 0644); err != nil {
		return fmt.Errorf("writing bus switch: %w", err)
	}
	return nil
}

// DeviceMounter mounts a block device with mount(2). Read-only acquisition
// passes MS_RDONLY; the rare read-write window never adds other flags.
type DeviceMounter struct {
	device     string
	mountPoint string
	fsType     string
}

// NewDeviceMounter prepares a mounter for the storage card. fsType defaults
// to vfat, which is what therapy devices format their cards as.
func NewDeviceMounter(device, mountPoint, fsType string) (*DeviceMounter, error) {
	if fsType == "" {
		fsType = "vfat"
	}
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("creating mount point: %w", err)
	}
	return &DeviceMounter{device: device, mountPoint: mountPoint, fsType: fsType}, nil
}

func (m *DeviceMounter) Mount(readOnly bool) error {
	var flags uintptr
	if readOnly {
		flags |= unix.MS_RDONLY
	}
	if err := unix.Mount(m.device, m.mountPoint, m.fsType, flags, ""); err != nil {
		return fmt.Errorf("mount %s on %s: %w", m.device, m.mountPoint, err)
	}
	return nil
}

func (m *DeviceMounter) Unmount() error {
	err := unix.Unmount(m.mountPoint, 0)
	if err == unix.EINVAL || err == unix.ENOENT {
		// Not mounted; release paths call Unmount unconditionally.
		return nil
	}
	if err != nil {
		return fmt.Errorf("unmount %s: %w", m.mountPoint, err)
	}
	return nil
}

func (m *DeviceMounter) Root() string {
	return m.mountPoint
}
