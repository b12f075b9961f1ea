// Package thorlabs contains drivers for Thorlabs lab hardware.
//
// The MCLS1 is a four channel fiber-coupled laser source with a USB virtual
// COM port.  It speaks carriage return terminated ASCII at 115200 baud,
// echoing every command and terminating replies with a "> " prompt.  The
// device is stateful: current and enable commands apply to whichever channel
// was last selected with channel=N.
package thorlabs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/spacetelescope/catkit/comm"
	"github.com/spacetelescope/catkit/util"
)

const (
	// Baud is the data rate of the MCLS1's virtual COM port
	Baud = 115200

	// NumChannels is the number of laser channels in the MCLS1
	NumChannels = 4

	// respBufSize matches the 255 byte response buffer of the vendor SDK
	respBufSize = 255

	// cmdBufSize matches the 32 byte command buffer of the device firmware
	cmdBufSize = 32

	prompt = "> "

	replyTimeout = 3 * time.Second

	// settleTime is how long the output takes to stabilize after a current
	// or enable change; mutating commands are paced by it
	settleTime = 2 * time.Second
)

var (
	floatPat = regexp.MustCompile(`\d+\.\d+`)
	intPat   = regexp.MustCompile(`\d+`)

	// tempRange is the allowed target temperature window of the TEC, Celsius
	tempRange = util.Limiter{Min: 20, Max: 30}

	// statWordBits names the bits of the statword reply
	statWordBits = map[uint]string{
		0: "Channel 1 enabled",
		1: "Channel 2 enabled",
		2: "Channel 3 enabled",
		3: "Channel 4 enabled",
		4: "System enabled",
		5: "Key switch off",
		6: "Interlock open",
		7: "TEC fault",
	}
)

// MCLS1 represents an MCLS1 multi-channel laser source
type MCLS1 struct {
	pool *comm.Pool

	pace *rate.Limiter
}

// NewMCLS1 creates a new MCLS1 instance.  addr is a serial port name if
// connectSerial is true, otherwise host:port of a terminal server.
func NewMCLS1(addr string, connectSerial bool) *MCLS1 {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.BackingOffSerialConnMaker(addr, Baud, replyTimeout)
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, replyTimeout)
	}
	return &MCLS1{
		pool: comm.NewPool(1, time.Minute, maker),
		pace: rate.NewLimiter(rate.Every(settleTime), 1),
	}
}

// NewMCLS1ForDevice scans the serial ports for the device with the given ID
// and returns an MCLS1 connected to the port it is on
func NewMCLS1ForDevice(deviceID string) (*MCLS1, error) {
	port, err := FindPort(deviceID)
	if err != nil {
		return nil, err
	}
	return NewMCLS1(port, true), nil
}

func checkChannel(ch int) error {
	if ch < 1 || ch > NumChannels {
		return fmt.Errorf("thorlabs: channel %d outside the range 1~%d", ch, NumChannels)
	}
	return nil
}

// txrx sends one command and collects the device's reply up to the prompt.
// The reply comes back with the echo and prompt stripped.
func (m *MCLS1) txrx(cmd string) (string, error) {
	if len(cmd)+1 > cmdBufSize {
		return "", UARTError{Code: StatusInvalidBuffer}
	}
	conn, err := m.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { m.pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, replyTimeout)
	if err != nil {
		return "", err
	}
	_, err = wrap.Write([]byte(cmd + "\r"))
	if err != nil {
		return "", err
	}
	buf := make([]byte, respBufSize)
	n := 0
	for n < len(buf) {
		var nn int
		nn, err = wrap.Read(buf[n:])
		n += nn
		if bytes.HasSuffix(buf[:n], []byte(prompt)) {
			err = nil
			break
		}
		if err != nil {
			break
		}
	}
	if err != nil {
		if n == 0 {
			err = UARTError{Code: StatusTimeout}
		} else {
			err = UARTError{Code: StatusTimeoutRead}
		}
		return "", err
	}
	resp := string(buf[:n])
	if strings.Contains(resp, "Command error") {
		err = UARTError{Code: StatusCmdNotDefined}
		return "", err
	}
	return stripReply(cmd, resp), nil
}

// stripReply removes the echoed command, the prompt, and stray terminators
// from a raw reply
func stripReply(cmd, resp string) string {
	resp = strings.TrimSuffix(resp, prompt)
	resp = strings.TrimPrefix(resp, cmd+"\r")
	return strings.Trim(resp, "\r ")
}

// set issues a mutating command, pacing so the output settles between changes
func (m *MCLS1) set(cmd string) error {
	err := m.pace.Wait(context.Background())
	if err != nil {
		return err
	}
	_, err = m.txrx(cmd)
	return err
}

func (m *MCLS1) queryFloat(cmd string) (float64, error) {
	resp, err := m.txrx(cmd)
	if err != nil {
		return 0, err
	}
	match := floatPat.FindString(resp)
	if match == "" {
		return 0, fmt.Errorf("thorlabs: no numeric value in reply %q to %q", resp, cmd)
	}
	return strconv.ParseFloat(match, 64)
}

func (m *MCLS1) queryInt(cmd string) (int, error) {
	resp, err := m.txrx(cmd)
	if err != nil {
		return 0, err
	}
	match := intPat.FindString(resp)
	if match == "" {
		return 0, fmt.Errorf("thorlabs: no numeric value in reply %q to %q", resp, cmd)
	}
	return strconv.Atoi(match)
}

// SetActiveChannel selects the channel that stateful commands apply to.
// Channel selection is not paced; the output does not change until a
// current or enable command follows.
func (m *MCLS1) SetActiveChannel(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	_, err := m.txrx(fmt.Sprintf("channel=%d", ch))
	return err
}

// GetActiveChannel retrieves the channel that stateful commands apply to
func (m *MCLS1) GetActiveChannel() (int, error) {
	return m.queryInt("channel?")
}

// SetCurrent sets the current setpoint of the active channel in mA.
// The command is skipped if the setpoint already matches.
func (m *MCLS1) SetCurrent(mA float64) error {
	cur, err := m.GetCurrent()
	if err == nil && cur == mA {
		return nil
	}
	return m.set(fmt.Sprintf("current=%.2f", mA))
}

// GetCurrent retrieves the current setpoint of the active channel in mA
func (m *MCLS1) GetCurrent() (float64, error) {
	return m.queryFloat("current?")
}

// SetEnabled turns output of the active channel on or off
func (m *MCLS1) SetEnabled(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return m.set(fmt.Sprintf("enable=%d", v))
}

// GetEnabled queries if the active channel's output is on
func (m *MCLS1) GetEnabled() (bool, error) {
	i, err := m.queryInt("enable?")
	return i != 0, err
}

// SetEmission turns the system-wide enable on or off ("system=" on the wire)
func (m *MCLS1) SetEmission(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return m.set(fmt.Sprintf("system=%d", v))
}

// GetEmission queries the system-wide enable
func (m *MCLS1) GetEmission() (bool, error) {
	i, err := m.queryInt("system?")
	return i != 0, err
}

// SetTargetTemp sets the TEC setpoint of the active channel in Celsius.
// The firmware only accepts 20~30C, enforced here so bad values do not
// reach the device.
func (m *MCLS1) SetTargetTemp(c float64) error {
	if !tempRange.Contains(c) {
		return fmt.Errorf("thorlabs: target temperature %.1f outside the range %.0f~%.0fC", c, tempRange.Min, tempRange.Max)
	}
	return m.set(fmt.Sprintf("target=%.1f", c))
}

// GetTargetTemp retrieves the TEC setpoint of the active channel in Celsius
func (m *MCLS1) GetTargetTemp() (float64, error) {
	return m.queryFloat("target?")
}

// GetTemp retrieves the sensed temperature of the active channel in Celsius
func (m *MCLS1) GetTemp() (float64, error) {
	return m.queryFloat("temp?")
}

// GetPower retrieves the sensed output power of the active channel in mW
func (m *MCLS1) GetPower() (float64, error) {
	return m.queryFloat("power?")
}

// SetStep sets the front panel adjustment step in mA
func (m *MCLS1) SetStep(mA float64) error {
	return m.set(fmt.Sprintf("step=%.2f", mA))
}

// GetStep retrieves the front panel adjustment step in mA
func (m *MCLS1) GetStep() (float64, error) {
	return m.queryFloat("step?")
}

// Save persists the device's settings to nonvolatile memory
func (m *MCLS1) Save() error {
	_, err := m.txrx("save")
	return err
}

// ID retrieves the identifying string of the device
func (m *MCLS1) ID() (string, error) {
	return m.txrx("id?")
}

// Specs retrieves the specification table of the device
func (m *MCLS1) Specs() (string, error) {
	return m.txrx("specs?")
}

// StatWord retrieves the raw status word of the device
func (m *MCLS1) StatWord() (uint16, error) {
	i, err := m.queryInt("statword")
	return uint16(i), err
}

// Status retrieves the status word decoded into named flags
func (m *MCLS1) Status() (map[string]bool, error) {
	w, err := m.StatWord()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(statWordBits))
	for bit, name := range statWordBits {
		out[name] = util.GetBit(w, bit)
	}
	return out, nil
}

// Raw sends a command verbatim and returns the device's reply with the echo
// and prompt stripped
func (m *MCLS1) Raw(cmd string) (string, error) {
	return m.txrx(cmd)
}

// SetChannelCurrent selects ch and sets its current setpoint in mA
func (m *MCLS1) SetChannelCurrent(ch int, mA float64) error {
	if err := m.SetActiveChannel(ch); err != nil {
		return err
	}
	return m.SetCurrent(mA)
}

// GetChannelCurrent selects ch and retrieves its current setpoint in mA
func (m *MCLS1) GetChannelCurrent(ch int) (float64, error) {
	if err := m.SetActiveChannel(ch); err != nil {
		return 0, err
	}
	return m.GetCurrent()
}

// EnableChannel selects ch and turns its output on or off
func (m *MCLS1) EnableChannel(ch int, on bool) error {
	if err := m.SetActiveChannel(ch); err != nil {
		return err
	}
	return m.SetEnabled(on)
}

// ChannelEnabled selects ch and queries if its output is on
func (m *MCLS1) ChannelEnabled(ch int) (bool, error) {
	if err := m.SetActiveChannel(ch); err != nil {
		return false, err
	}
	return m.GetEnabled()
}

// Startup selects ch, sets its current setpoint in mA, and enables both the
// channel and the system, bringing the laser to a ready state
func (m *MCLS1) Startup(ch int, nominalCurrent float64) error {
	if err := m.SetChannelCurrent(ch, nominalCurrent); err != nil {
		return err
	}
	if err := m.SetEnabled(true); err != nil {
		return err
	}
	return m.SetEmission(true)
}

// Shutdown disables the active channel, then powers the system down unless
// another channel is still enabled (the device may be shared by several
// experiments)
func (m *MCLS1) Shutdown() error {
	ch, err := m.GetActiveChannel()
	if err != nil {
		return err
	}
	if err := m.SetEnabled(false); err != nil {
		return err
	}
	for i := 1; i <= NumChannels; i++ {
		on, err := m.ChannelEnabled(i)
		if err != nil {
			return err
		}
		if on {
			if i == ch {
				return fmt.Errorf("thorlabs: failed to disable channel %d", ch)
			}
			// another user has the laser, leave system power alone
			return nil
		}
	}
	return m.SetEmission(false)
}
