package thorlabs

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spacetelescope/catkit/comm"
	"github.com/spacetelescope/catkit/util"
)

// Emulator mimics the MCLS1 firmware at the wire level.  It consumes
// CR-terminated commands from Write calls and queues the echo, value, and
// prompt bytes the real device would produce for Read calls.  It lets the
// whole stack above the serial port run without hardware.
type Emulator struct {
	mu      sync.Mutex
	pending bytes.Buffer // command bytes not yet terminated
	reply   bytes.Buffer // queued reply bytes

	active  int
	system  bool
	enabled [NumChannels]bool
	current [NumChannels]float64
	target  [NumChannels]float64
	step    float64
}

// NewEmulator returns an emulator in the power-on state of the device
func NewEmulator() *Emulator {
	e := &Emulator{active: 1, step: 0.01}
	for i := range e.target {
		e.target[i] = 25
	}
	return e
}

// NewEmulatedMCLS1 returns an MCLS1 driver wired to a fresh emulator, and
// the emulator itself for white-box inspection.  Pacing is disabled so
// offline use is not throttled by the hardware settle time.
func NewEmulatedMCLS1() (*MCLS1, *Emulator) {
	e := NewEmulator()
	maker := func() (io.ReadWriteCloser, error) { return e, nil }
	m := &MCLS1{
		pool: comm.NewPool(1, time.Minute, maker),
		pace: rate.NewLimiter(rate.Inf, 1),
	}
	return m, e
}

// Write consumes command bytes, executing each complete CR-terminated command
func (e *Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending.Write(p)
	for {
		b := e.pending.Bytes()
		idx := bytes.IndexByte(b, '\r')
		if idx < 0 {
			break
		}
		cmd := string(b[:idx])
		e.pending.Next(idx + 1)
		e.exec(cmd)
	}
	return len(p), nil
}

// Read serves queued reply bytes, io.EOF when there are none, which the
// driver sees the same way as a hardware read timeout
func (e *Emulator) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reply.Len() == 0 {
		return 0, io.EOF
	}
	return e.reply.Read(p)
}

// Close drops buffered bytes.  Closing the port does not power off the
// laser, so the device state is retained.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reply.Reset()
	e.pending.Reset()
	return nil
}

// System returns whether the emulated system enable is on
func (e *Emulator) System() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.system
}

// Channel returns the emulated state of channel ch (1~4)
func (e *Emulator) Channel(ch int) (enabled bool, currentMA float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled[ch-1], e.current[ch-1]
}

// ActiveChannel returns the emulated active channel
func (e *Emulator) ActiveChannel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Emulator) exec(cmd string) {
	e.reply.WriteString(cmd + "\r")
	switch {
	case strings.HasPrefix(cmd, "channel="):
		n, err := strconv.Atoi(cmd[len("channel="):])
		if err != nil || n < 1 || n > NumChannels {
			e.reply.WriteString("Command error CMD_ARG_RANGE\r")
			break
		}
		e.active = n
	case strings.HasPrefix(cmd, "current="):
		f, err := strconv.ParseFloat(cmd[len("current="):], 64)
		if err != nil {
			e.reply.WriteString("Command error CMD_ARG_RANGE\r")
			break
		}
		e.current[e.active-1] = f
	case strings.HasPrefix(cmd, "enable="):
		e.enabled[e.active-1] = !strings.HasPrefix(cmd[len("enable="):], "0")
	case strings.HasPrefix(cmd, "system="):
		e.system = !strings.HasPrefix(cmd[len("system="):], "0")
	case strings.HasPrefix(cmd, "target="):
		f, err := strconv.ParseFloat(cmd[len("target="):], 64)
		if err != nil || !tempRange.Contains(f) {
			e.reply.WriteString("Command error CMD_ARG_RANGE\r")
			break
		}
		e.target[e.active-1] = f
	case strings.HasPrefix(cmd, "step="):
		f, err := strconv.ParseFloat(cmd[len("step="):], 64)
		if err != nil {
			e.reply.WriteString("Command error CMD_ARG_RANGE\r")
			break
		}
		e.step = f
	case cmd == "save":
		// settings are already in memory, nothing to persist
	case cmd == "channel?":
		e.reply.WriteString(strconv.Itoa(e.active) + "\r")
	case cmd == "current?":
		e.reply.WriteString(fmt.Sprintf("%.2f\r", e.current[e.active-1]))
	case cmd == "enable?":
		e.reply.WriteString(boolDigit(e.enabled[e.active-1]) + "\r")
	case cmd == "system?":
		e.reply.WriteString(boolDigit(e.system) + "\r")
	case cmd == "target?":
		e.reply.WriteString(fmt.Sprintf("%.1f\r", e.target[e.active-1]))
	case cmd == "temp?":
		// steady state, the TEC holds its setpoint
		e.reply.WriteString(fmt.Sprintf("%.1f\r", e.target[e.active-1]))
	case cmd == "power?":
		p := 0.0
		if e.system && e.enabled[e.active-1] {
			p = e.current[e.active-1] * 0.8
		}
		e.reply.WriteString(fmt.Sprintf("%.2f\r", p))
	case cmd == "step?":
		e.reply.WriteString(fmt.Sprintf("%.2f\r", e.step))
	case cmd == "id?":
		e.reply.WriteString("THORLABS MCLS1 v1.07\r")
	case cmd == "specs?":
		e.reply.WriteString("Channels: 4  Current: 0~90.00mA  Temp: 20.0~30.0C\r")
	case cmd == "statword":
		e.reply.WriteString(strconv.Itoa(int(e.statword())) + "\r")
	default:
		e.reply.WriteString("Command error CMD_NOT_DEFINED\r")
	}
	e.reply.WriteString(prompt)
}

func (e *Emulator) statword() uint16 {
	var w uint16
	for i, on := range e.enabled {
		w = util.SetBit(w, uint(i), on)
	}
	w = util.SetBit(w, 4, e.system)
	return w
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
