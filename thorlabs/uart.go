package thorlabs

import "fmt"

// status codes used by the Thorlabs uart_library SDK.  The Go driver talks
// to the device directly, but failures are reported in the same vocabulary
// so logs line up with the vendor's own tools.
const (
	// StatusOK indicates success
	StatusOK = 0x00

	// StatusCmdNotDefined indicates the device rejected the command
	StatusCmdNotDefined = 0xEA

	// StatusTimeout indicates no reply arrived inside the window
	StatusTimeout = 0xEB

	// StatusTimeoutRead indicates a reply began but did not complete
	StatusTimeoutRead = 0xEC

	// StatusInvalidBuffer indicates a command too large for the device's
	// 32 byte command buffer
	StatusInvalidBuffer = 0xED
)

var uartErrors = map[byte]string{
	StatusCmdNotDefined: "COMMAND NOT DEFINED",
	StatusTimeout:       "TIMEOUT WAITING FOR REPLY",
	StatusTimeoutRead:   "TIMEOUT READING REPLY",
	StatusInvalidBuffer: "COMMAND EXCEEDS DEVICE BUFFER",
}

// UARTError is a formattable error code from the UART command layer
type UARTError struct {
	Code byte
}

// Error satisfies the stdlib error interface
func (e UARTError) Error() string {
	if s, ok := uartErrors[e.Code]; ok {
		return fmt.Sprintf("0x%02X - %s", e.Code, s)
	}
	return fmt.Sprintf("0x%02X - UNKNOWN ERROR CODE", e.Code)
}

// IsTimeout returns true if err is a UARTError carrying either timeout code
func IsTimeout(err error) bool {
	if uerr, ok := err.(UARTError); ok {
		return uerr.Code == StatusTimeout || uerr.Code == StatusTimeoutRead
	}
	return false
}
