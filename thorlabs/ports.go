package thorlabs

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// TLVID is the Thorlabs USB vendor ID
const TLVID = "1313"

// PortDescription pairs a serial port name with what is plugged into it
type PortDescription struct {
	// Port is the OS name of the port, e.g. COM3 or /dev/ttyUSB0
	Port string

	// Device describes the attached device, from the USB descriptor
	Device string
}

// ListPorts enumerates the serial ports on the machine and describes what
// is attached to each, serial numbers included so multi-unit rigs can tell
// their lasers apart
func ListPorts() ([]PortDescription, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	out := make([]PortDescription, 0, len(ports))
	for _, p := range ports {
		desc := "not a USB device"
		if p.IsUSB {
			desc = fmt.Sprintf("%s [%s:%s] SN %s", p.Product, p.VID, p.PID, p.SerialNumber)
		}
		out = append(out, PortDescription{Port: p.Name, Device: desc})
	}
	return out, nil
}

// FindPort scans the serial ports for a USB device whose serial number or
// product string matches deviceID and returns the port it is on
func FindPort(deviceID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("thorlabs: a device ID is required to find a port to connect to")
	}
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if p.SerialNumber == deviceID || strings.Contains(p.Product, deviceID) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("thorlabs: no serial port found for device %q", deviceID)
}
