//go:build !linux

package cli

import (
	"github.com/jgalley/cpapsync/internal/arbiter"
	"github.com/jgalley/cpapsync/internal/config"
)

// Non-Linux builds are for development only: no GPIO, no mount syscalls.

func buildBusSwitch(cfg config.BusConfig) (arbiter.BusSwitch, error) {
	return arbiter.NopSwitch{}, nil
}

func buildMounter(cfg config.StorageConfig) (arbiter.Mounter, error) {
	return arbiter.DirMounter{Dir: cfg.Mountpoint}, nil
}
