package tier

import (
	"runtime"

	"github.com/spf13/viper"
)

// HostClass buckets the machine tvremote runs on so subnet probing can be
// scaled down on small boards.
type HostClass int

const (
	HostConstrained HostClass = iota
	HostStandard
)

const gb = 1024 * 1024 * 1024

// hostDefaults are discovery settings per host class. They are applied as
// viper defaults, so file and environment values still win.
var hostDefaults = map[HostClass]map[string]any{
	HostConstrained: {
		"discovery.concurrency": 32,
		"discovery.probe_rate":  100,
	},
}

// DetectHostClass inspects the running system.
func DetectHostClass() HostClass {
	return ClassifyHost(getSystemRAMBytes(), runtime.GOARCH, runtime.NumCPU())
}

// ClassifyHost is exported for testing.
func ClassifyHost(ramBytes uint64, arch string, cores int) HostClass {
	isARM := arch == "arm" || arch == "arm64"
	switch {
	case ramBytes == 0:
		// Unknown RAM: assume a normal desktop.
		return HostStandard
	case ramBytes < 2*gb, isARM && ramBytes < 4*gb, cores <= 1:
		return HostConstrained
	default:
		return HostStandard
	}
}

func (c HostClass) String() string {
	if c == HostConstrained {
		return "constrained"
	}
	return "standard"
}

// ApplyHostDefaults registers host-class defaults on v.
func ApplyHostDefaults(v *viper.Viper, c HostClass) {
	for key, val := range hostDefaults[c] {
		v.SetDefault(key, val)
	}
}
