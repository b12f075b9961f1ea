package thorlabs

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/spacetelescope/catkit/comm"
)

func TestStripReply(t *testing.T) {
	cases := []struct {
		cmd  string
		resp string
		want string
	}{
		{"current?", "current?\r90.00\r> ", "90.00"},
		{"channel=3", "channel=3\r> ", ""},
		{"id?", "id?\rTHORLABS MCLS1 v1.07\r> ", "THORLABS MCLS1 v1.07"},
		{"enable?", "1\r> ", "1"}, // echo suppressed by the device config
	}
	for _, tc := range cases {
		got := stripReply(tc.cmd, tc.resp)
		if got != tc.want {
			t.Errorf("stripReply(%q, %q): expected %q, got %q", tc.cmd, tc.resp, tc.want, got)
		}
	}
}

func TestUARTErrorStrings(t *testing.T) {
	err := UARTError{Code: StatusCmdNotDefined}
	if !strings.Contains(err.Error(), "0xEA") {
		t.Errorf("expected the code in the message, got %q", err.Error())
	}
	err = UARTError{Code: 0x42}
	if !strings.Contains(err.Error(), "UNKNOWN") {
		t.Errorf("expected unknown code message, got %q", err.Error())
	}
}

// recordingConn captures everything written through it for wire-format checks
type recordingConn struct {
	io.ReadWriteCloser
	writes *bytes.Buffer
}

func (r recordingConn) Write(p []byte) (int, error) {
	r.writes.Write(p)
	return r.ReadWriteCloser.Write(p)
}

func recordedMCLS1() (*MCLS1, *bytes.Buffer) {
	e := NewEmulator()
	writes := &bytes.Buffer{}
	maker := func() (io.ReadWriteCloser, error) {
		return recordingConn{ReadWriteCloser: e, writes: writes}, nil
	}
	m := &MCLS1{
		pool: comm.NewPool(1, time.Minute, maker),
		pace: rate.NewLimiter(rate.Inf, 1),
	}
	return m, writes
}

func TestWireFormats(t *testing.T) {
	cases := []struct {
		label string
		op    func(m *MCLS1) error
		want  string
	}{
		{"channel", func(m *MCLS1) error { return m.SetActiveChannel(3) }, "channel=3\r"},
		{"enable", func(m *MCLS1) error { return m.SetEnabled(true) }, "enable=1\r"},
		{"system", func(m *MCLS1) error { return m.SetEmission(false) }, "system=0\r"},
		{"target", func(m *MCLS1) error { return m.SetTargetTemp(25) }, "target=25.0\r"},
		{"step", func(m *MCLS1) error { return m.SetStep(0.05) }, "step=0.05\r"},
		{"save", func(m *MCLS1) error { return m.Save() }, "save\r"},
	}
	for _, tc := range cases {
		m, writes := recordedMCLS1()
		if err := tc.op(m); err != nil {
			t.Fatalf("%s op errored: %v", tc.label, err)
		}
		if got := writes.String(); got != tc.want {
			t.Errorf("%s: expected %q on the wire, got %q", tc.label, tc.want, got)
		}
	}
}

func TestSetCurrentWireFormat(t *testing.T) {
	m, writes := recordedMCLS1()
	if err := m.SetCurrent(45.5); err != nil {
		t.Fatal("SetCurrent errored:", err)
	}
	// a read-back precedes the set so no-op changes are skipped
	if got := writes.String(); got != "current?\rcurrent=45.50\r" {
		t.Errorf("expected query-then-set on the wire, got %q", got)
	}
}

func TestSetCurrentSkipsWhenAlreadySet(t *testing.T) {
	m, e := NewEmulatedMCLS1()
	if err := m.SetCurrent(30); err != nil {
		t.Fatal("SetCurrent errored:", err)
	}
	if err := m.SetCurrent(30); err != nil {
		t.Fatal("second SetCurrent errored:", err)
	}
	if _, mA := e.Channel(1); mA != 30 {
		t.Errorf("expected channel 1 at 30 mA, got %f", mA)
	}
}

func TestChannelRangeEnforced(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	for _, ch := range []int{0, 5, -1} {
		if err := m.SetActiveChannel(ch); err == nil {
			t.Errorf("expected channel %d to be rejected", ch)
		}
	}
}

func TestTargetTempRangeEnforced(t *testing.T) {
	m, writes := recordedMCLS1()
	for _, c := range []float64{19.9, 30.1} {
		if err := m.SetTargetTemp(c); err == nil {
			t.Errorf("expected target temp %f to be rejected", c)
		}
	}
	if writes.Len() != 0 {
		t.Errorf("out of range setpoints should not reach the device, wire saw %q", writes.String())
	}
}

func TestChannelStatefulness(t *testing.T) {
	m, e := NewEmulatedMCLS1()
	if err := m.SetChannelCurrent(3, 72.5); err != nil {
		t.Fatal("SetChannelCurrent errored:", err)
	}
	if e.ActiveChannel() != 3 {
		t.Errorf("expected active channel 3, got %d", e.ActiveChannel())
	}
	if _, mA := e.Channel(3); mA != 72.5 {
		t.Errorf("expected channel 3 at 72.5 mA, got %f", mA)
	}
	got, err := m.GetChannelCurrent(3)
	if err != nil {
		t.Fatal("GetChannelCurrent errored:", err)
	}
	if got != 72.5 {
		t.Errorf("expected read-back of 72.5, got %f", got)
	}
	ch, err := m.GetActiveChannel()
	if err != nil {
		t.Fatal("GetActiveChannel errored:", err)
	}
	if ch != 3 {
		t.Errorf("expected active channel 3, got %d", ch)
	}
}

func TestEmissionMapsToSystemEnable(t *testing.T) {
	m, e := NewEmulatedMCLS1()
	if err := m.SetEmission(true); err != nil {
		t.Fatal("SetEmission errored:", err)
	}
	if !e.System() {
		t.Error("expected the system enable to be on")
	}
	on, err := m.GetEmission()
	if err != nil {
		t.Fatal("GetEmission errored:", err)
	}
	if !on {
		t.Error("expected GetEmission to read back true")
	}
}

func TestStatusDecodesStatword(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	if err := m.EnableChannel(2, true); err != nil {
		t.Fatal("EnableChannel errored:", err)
	}
	if err := m.SetEmission(true); err != nil {
		t.Fatal("SetEmission errored:", err)
	}
	w, err := m.StatWord()
	if err != nil {
		t.Fatal("StatWord errored:", err)
	}
	if w != 0b10010 {
		t.Errorf("expected statword 0b10010, got %b", w)
	}
	status, err := m.Status()
	if err != nil {
		t.Fatal("Status errored:", err)
	}
	if !status["Channel 2 enabled"] {
		t.Error("expected channel 2 flag set")
	}
	if !status["System enabled"] {
		t.Error("expected system flag set")
	}
	if status["Channel 1 enabled"] {
		t.Error("expected channel 1 flag clear")
	}
}

func TestStartupBringsLaserReady(t *testing.T) {
	m, e := NewEmulatedMCLS1()
	if err := m.Startup(2, 50); err != nil {
		t.Fatal("Startup errored:", err)
	}
	on, mA := e.Channel(2)
	if !on || mA != 50 {
		t.Errorf("expected channel 2 enabled at 50 mA, got on=%v mA=%f", on, mA)
	}
	if !e.System() {
		t.Error("expected system enable on after startup")
	}
}

func TestShutdownPowersDownWhenLastUser(t *testing.T) {
	m, e := NewEmulatedMCLS1()
	if err := m.Startup(1, 40); err != nil {
		t.Fatal("Startup errored:", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatal("Shutdown errored:", err)
	}
	if on, _ := e.Channel(1); on {
		t.Error("expected channel 1 disabled after shutdown")
	}
	if e.System() {
		t.Error("expected system powered down, no channels remain enabled")
	}
}

func TestShutdownSparesOtherUsers(t *testing.T) {
	m, e := NewEmulatedMCLS1()
	if err := m.EnableChannel(4, true); err != nil {
		t.Fatal("EnableChannel errored:", err)
	}
	if err := m.SetEmission(true); err != nil {
		t.Fatal("SetEmission errored:", err)
	}
	if err := m.Startup(1, 40); err != nil {
		t.Fatal("Startup errored:", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatal("Shutdown errored:", err)
	}
	if on, _ := e.Channel(1); on {
		t.Error("expected channel 1 disabled after shutdown")
	}
	if !e.System() {
		t.Error("expected system left on, channel 4 is still in use")
	}
}

func TestUnknownCommandIsCmdNotDefined(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	_, err := m.Raw("bogus")
	uerr, ok := err.(UARTError)
	if !ok {
		t.Fatalf("expected UARTError, got %T (%v)", err, err)
	}
	if uerr.Code != StatusCmdNotDefined {
		t.Errorf("expected code 0x%02X, got 0x%02X", StatusCmdNotDefined, uerr.Code)
	}
}

func TestOverlongCommandIsInvalidBuffer(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	_, err := m.Raw(strings.Repeat("x", cmdBufSize))
	uerr, ok := err.(UARTError)
	if !ok {
		t.Fatalf("expected UARTError, got %T (%v)", err, err)
	}
	if uerr.Code != StatusInvalidBuffer {
		t.Errorf("expected code 0x%02X, got 0x%02X", StatusInvalidBuffer, uerr.Code)
	}
}

// muteConn accepts writes and never has anything to say
type muteConn struct{}

func (muteConn) Read(p []byte) (int, error)  { return 0, io.EOF }
func (muteConn) Write(p []byte) (int, error) { return len(p), nil }
func (muteConn) Close() error                { return nil }

func TestSilentDeviceIsTimeout(t *testing.T) {
	maker := func() (io.ReadWriteCloser, error) { return muteConn{}, nil }
	m := &MCLS1{
		pool: comm.NewPool(1, time.Minute, maker),
		pace: rate.NewLimiter(rate.Inf, 1),
	}
	_, err := m.Raw("id?")
	if !IsTimeout(err) {
		t.Fatalf("expected a timeout code, got %v", err)
	}
	uerr := err.(UARTError)
	if uerr.Code != StatusTimeout {
		t.Errorf("expected code 0x%02X, got 0x%02X", StatusTimeout, uerr.Code)
	}
}

// trailingOffConn replies with a partial message and then goes quiet
type trailingOffConn struct {
	rx *bytes.Buffer
}

func (c *trailingOffConn) Read(p []byte) (int, error) {
	if c.rx.Len() == 0 {
		return 0, io.EOF
	}
	return c.rx.Read(p)
}
func (c *trailingOffConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *trailingOffConn) Close() error                { return nil }

func TestPartialReplyIsReadTimeout(t *testing.T) {
	conn := &trailingOffConn{rx: bytes.NewBufferString("id?\rTHORLABS")}
	maker := func() (io.ReadWriteCloser, error) { return conn, nil }
	m := &MCLS1{
		pool: comm.NewPool(1, time.Minute, maker),
		pace: rate.NewLimiter(rate.Inf, 1),
	}
	_, err := m.Raw("id?")
	if !IsTimeout(err) {
		t.Fatalf("expected a timeout code, got %v", err)
	}
	uerr := err.(UARTError)
	if uerr.Code != StatusTimeoutRead {
		t.Errorf("expected code 0x%02X, got 0x%02X", StatusTimeoutRead, uerr.Code)
	}
}

func TestMutationsArePaced(t *testing.T) {
	e := NewEmulator()
	maker := func() (io.ReadWriteCloser, error) { return e, nil }
	interval := 50 * time.Millisecond
	m := &MCLS1{
		pool: comm.NewPool(1, time.Minute, maker),
		pace: rate.NewLimiter(rate.Every(interval), 1),
	}
	start := time.Now()
	if err := m.SetEnabled(true); err != nil {
		t.Fatal("SetEnabled errored:", err)
	}
	if err := m.SetEnabled(false); err != nil {
		t.Fatal("second SetEnabled errored:", err)
	}
	if elapsed := time.Since(start); elapsed < interval {
		t.Errorf("expected the second mutation to wait %v for the output to settle, both finished in %v", interval, elapsed)
	}
}

func TestQueriesAreNotPaced(t *testing.T) {
	e := NewEmulator()
	maker := func() (io.ReadWriteCloser, error) { return e, nil }
	interval := 250 * time.Millisecond
	m := &MCLS1{
		pool: comm.NewPool(1, time.Minute, maker),
		pace: rate.NewLimiter(rate.Every(interval), 1),
	}
	start := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := m.GetCurrent(); err != nil {
			t.Fatal("GetCurrent errored:", err)
		}
	}
	if elapsed := time.Since(start); elapsed > interval {
		t.Errorf("expected queries to run unthrottled, 5 took %v", elapsed)
	}
}

func TestIDAndSpecs(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	id, err := m.ID()
	if err != nil {
		t.Fatal("ID errored:", err)
	}
	if !strings.Contains(id, "MCLS1") {
		t.Errorf("expected the model in the ID string, got %q", id)
	}
	specs, err := m.Specs()
	if err != nil {
		t.Fatal("Specs errored:", err)
	}
	if specs == "" {
		t.Error("expected a nonempty specs string")
	}
}

func TestStepRoundTrip(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	if err := m.SetStep(0.25); err != nil {
		t.Fatal("SetStep errored:", err)
	}
	got, err := m.GetStep()
	if err != nil {
		t.Fatal("GetStep errored:", err)
	}
	if got != 0.25 {
		t.Errorf("expected step 0.25, got %f", got)
	}
}

func TestTempReadsSetpointAtSteadyState(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	if err := m.SetTargetTemp(22.5); err != nil {
		t.Fatal("SetTargetTemp errored:", err)
	}
	target, err := m.GetTargetTemp()
	if err != nil {
		t.Fatal("GetTargetTemp errored:", err)
	}
	if target != 22.5 {
		t.Errorf("expected target 22.5, got %f", target)
	}
	temp, err := m.GetTemp()
	if err != nil {
		t.Fatal("GetTemp errored:", err)
	}
	if temp != 22.5 {
		t.Errorf("expected steady state temp 22.5, got %f", temp)
	}
}

func TestPowerTracksEnableState(t *testing.T) {
	m, _ := NewEmulatedMCLS1()
	if err := m.SetCurrent(50); err != nil {
		t.Fatal("SetCurrent errored:", err)
	}
	p, err := m.GetPower()
	if err != nil {
		t.Fatal("GetPower errored:", err)
	}
	if p != 0 {
		t.Errorf("expected no output power while disabled, got %f", p)
	}
	if err := m.Startup(1, 50); err != nil {
		t.Fatal("Startup errored:", err)
	}
	p, err = m.GetPower()
	if err != nil {
		t.Fatal("GetPower errored:", err)
	}
	if p <= 0 {
		t.Errorf("expected output power while emitting, got %f", p)
	}
}
