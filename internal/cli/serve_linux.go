//go:build linux

package cli

import (
	"github.com/jgalley/cpapsync/internal/arbiter"
	"github.com/jgalley/cpapsync/internal/config"
)

func buildBusSwitch(cfg config.BusConfig) (arbiter.BusSwitch, error) {
	if cfg.SwitchGPIO < 0 {
		// Bench rig: the multiplexer is strapped to the appliance.
		return arbiter.NopSwitch{}, nil
	}
	return arbiter.NewGPIOSwitch(cfg.SwitchGPIO)
}

func buildMounter(cfg config.StorageConfig) (arbiter.Mounter, error) {
	if cfg.Device == "" {
		return arbiter.DirMounter{Dir: cfg.Mountpoint}, nil
	}
	return arbiter.NewDeviceMounter(cfg.Device, cfg.Mountpoint, "vfat")
}
