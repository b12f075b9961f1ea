/*
Package comm provides connection plumbing for lab hardware that speaks
line-terminated ASCII over a serial port or a terminal server.

The pieces compose the same way in every driver:

 1. make a CreationFunc for the device's address (serial or TCP)
 2. put it in a Pool, sized one for hardware that only tolerates a single
    open handle
 3. per transaction, Get a connection, wrap it in NewTimeout and
    NewTerminator, and write/read ASCII through the wrappers

A minimal example for a sensor that replies to "RD?" with a number:

	maker := comm.BackingOffSerialConnMaker("/dev/ttyUSB0", 9600, time.Second)
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	// handle err, defer pool.ReturnWithError(conn, err)
	rw := comm.NewTerminator(conn, '\r', '\r')
	io.WriteString(rw, "RD?")
*/
package comm

import (
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// CreationFunc is a function which returns a new "connection" to something.
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// backoffPolicy is shared by the conn makers.  Devices on terminal servers
// (and some USB-serial bridges) refuse connections for a short window after
// a previous close, so the first attempt failing is routine.
func backoffPolicy() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr over TCP,
// retrying with exponential backoff for a few seconds before giving up.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = net.DialTimeout("tcp", addr, timeout)
			return err
		}
		err := backoff.Retry(op, backoffPolicy())
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// BackingOffSerialConnMaker returns a CreationFunc which opens the serial
// port at addr, retrying with exponential backoff for a few seconds.
// timeout becomes the port's read timeout.
func BackingOffSerialConnMaker(addr string, baud int, timeout time.Duration) CreationFunc {
	conf := &serial.Config{Name: addr, Baud: baud, ReadTimeout: timeout}
	return func() (io.ReadWriteCloser, error) {
		var port *serial.Port
		op := func() error {
			var err error
			port, err = serial.OpenPort(conf)
			return err
		}
		err := backoff.Retry(op, backoffPolicy())
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// deadliner is the piece of net.Conn needed to arm timeouts
type deadliner interface {
	SetDeadline(time.Time) error
}

// NewTimeout arms a read/write deadline on rw if the underlying connection
// supports one.  Serial ports configure their timeout at open time and pass
// through unchanged, so the error may be ignored for them.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	if d, ok := rw.(deadliner); ok {
		return rw, d.SetDeadline(time.Now().Add(timeout))
	}
	return rw, nil
}

// Terminator wraps a ReadWriter, appending the Tx terminator to writes and
// consuming reads up to (and stripping) the Rx terminator.
type Terminator struct {
	rw     io.ReadWriter
	rxTerm byte
	txTerm byte
}

// NewTerminator returns a Terminator wrapping rw
func NewTerminator(rw io.ReadWriter, rxTerm, txTerm byte) *Terminator {
	return &Terminator{rw: rw, rxTerm: rxTerm, txTerm: txTerm}
}

// Write sends b to the underlying ReadWriter with the Tx terminator appended.
// The returned count excludes the terminator.
func (t *Terminator) Write(b []byte) (int, error) {
	n, err := t.rw.Write(append(b, t.txTerm))
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read fills p up to the Rx terminator, which is stripped.  The device side
// of these links is slow enough that byte-at-a-time reads are immaterial.
func (t *Terminator) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := t.rw.Read(p[n : n+1])
		n += m
		if err != nil {
			return n, err
		}
		if m > 0 && p[n-1] == t.rxTerm {
			return n - 1, nil
		}
	}
	return n, nil
}

// SetDeadline forwards to the underlying connection so a Terminator can
// still be wrapped in NewTimeout.
func (t *Terminator) SetDeadline(d time.Time) error {
	if dl, ok := t.rw.(deadliner); ok {
		return dl.SetDeadline(d)
	}
	return nil
}
