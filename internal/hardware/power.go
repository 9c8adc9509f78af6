package hardware

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// PowerStatus describes the host power situation. OnBattery flips as
// the host is plugged and unplugged; IsLaptop is fixed per host.
type PowerStatus struct {
	OnBattery bool `json:"on_battery"`
	IsLaptop  bool `json:"is_laptop"`
}

// PowerSource reads the current power state. Hosts without a battery
// always report mains power. The check is cheap enough to run on every
// monitor tick.
func PowerSource(ctx context.Context) PowerStatus {
	switch runtime.GOOS {
	case "linux":
		return powerSourceLinux()
	case "darwin":
		return powerSourceDarwin(ctx)
	default:
		return PowerStatus{}
	}
}

// powerSourceLinux scans sysfs power supplies for batteries.
func powerSourceLinux() PowerStatus {
	var status PowerStatus

	supplies, err := filepath.Glob("/sys/class/power_supply/*")
	if err != nil {
		return status
	}

	for _, supply := range supplies {
		typ, err := os.ReadFile(filepath.Join(supply, "type"))
		if err != nil || strings.TrimSpace(string(typ)) != "Battery" {
			continue
		}
		status.IsLaptop = true

		state, err := os.ReadFile(filepath.Join(supply, "status"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(state)) == "Discharging" {
			status.OnBattery = true
			return status
		}
	}

	return status
}

// powerSourceDarwin asks pmset which power source is active.
func powerSourceDarwin(ctx context.Context) PowerStatus {
	output, err := exec.CommandContext(ctx, "pmset", "-g", "batt").Output()
	if err != nil {
		return PowerStatus{}
	}

	text := string(output)
	return PowerStatus{
		OnBattery: strings.Contains(text, "Battery Power"),
		IsLaptop:  strings.Contains(text, "InternalBattery"),
	}
}
