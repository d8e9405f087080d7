package utils

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

var errNoHardwareID = errors.New("no hardware id available")

// StationID names the scanning station for loans and logs: hostname plus a
// short hardware id suffix when one can be read.
func StationID() string {
	host, _ := os.Hostname()
	id, err := hardwareID()
	if err != nil {
		if host == "" {
			return "station"
		}
		return host
	}
	if len(id) > 8 {
		id = id[:8]
	}
	if host == "" {
		host = "station"
	}
	return host + "-" + strings.ToLower(id)
}

// GetDeviceFingerprints returns the hardware identifiers of the current device.
func GetDeviceFingerprints() ([]string, error) {
	id, err := hardwareID()
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

func hardwareID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		// product_uuid is root-only on most distros
		for _, p := range []string{"/sys/class/dmi/id/product_uuid", "/etc/machine-id"} {
			if data, err := os.ReadFile(p); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id, nil
				}
			}
		}
	case "darwin":
		out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(out), "\n") {
			if _, rest, ok := strings.Cut(line, `"IOPlatformUUID" = "`); ok {
				return strings.TrimSuffix(strings.TrimSpace(rest), `"`), nil
			}
		}
	case "windows":
		out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
		if err != nil {
			return "", err
		}
		for _, line := range strings.Fields(string(out)) {
			if !strings.EqualFold(line, "UUID") {
				return line, nil
			}
		}
	}
	return "", errNoHardwareID
}
