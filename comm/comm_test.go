package comm_test

import (
	"bytes"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/spacetelescope/catkit/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	return ln.Addr().String()
}

func TestPoolHandsOutToCapacity(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	size := 3
	pool := comm.NewPool(size, time.Second, maker)
	for i := 0; i < size; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		if conn == nil {
			t.Fatal("pool handed out a nil connection")
		}
	}
	if pool.Active() != size {
		t.Errorf("expected %d active connections, got %d", size, pool.Active())
	}
}

func TestPoolReusesReturnedConns(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	conn2, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	if conn != conn2 {
		t.Error("pool did not reuse the returned connection")
	}
	if pool.Size() != 1 {
		t.Errorf("expected pool size 1, got %d", pool.Size())
	}
}

func TestPoolBlocksWhenExhausted(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	size := 2
	pool := comm.NewPool(size, time.Second, maker)
	held := []io.ReadWriter{}
	for i := 0; i < size; i++ {
		rw, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		held = append(held, rw)
	}
	newConn := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("pool grew beyond its size limit")
	case <-time.After(100 * time.Millisecond):
		log.Println("pool size held")
	}
	pool.Put(held[0])
	select {
	case <-newConn:
	case <-time.After(time.Second):
		t.Fatal("pool did not hand out a returned connection to a waiter")
	}
}

func TestDestroyWakesWaiters(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, err := pool.Get()
		if err != nil {
			t.Error("waiting Get errored:", err)
		}
		got <- rw
	}()
	time.Sleep(50 * time.Millisecond) // let the second Get park
	pool.Destroy(conn)
	select {
	case rw := <-got:
		if rw == nil {
			t.Fatal("waiting Get woke with a nil connection")
		}
	case <-time.After(time.Second):
		t.Fatal("a Get parked behind a destroyed connection was never woken")
	}
	if pool.Active() != 1 {
		t.Errorf("expected 1 active connection after the waiter woke, got %d", pool.Active())
	}
}

func TestReturnWithErrorDestroysJunk(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Errorf("expected junk connection to be destroyed, pool size %d", pool.Size())
	}
}

type scriptedConn struct {
	rx *bytes.Buffer
	tx *bytes.Buffer
}

func (c scriptedConn) Read(p []byte) (int, error)  { return c.rx.Read(p) }
func (c scriptedConn) Write(p []byte) (int, error) { return c.tx.Write(p) }

func TestTerminatorAppendsAndStrips(t *testing.T) {
	conn := scriptedConn{
		rx: bytes.NewBufferString("90.00\r"),
		tx: &bytes.Buffer{},
	}
	rw := comm.NewTerminator(conn, '\r', '\r')
	n, err := rw.Write([]byte("current?"))
	if err != nil {
		t.Fatal("write errored:", err)
	}
	if n != len("current?") {
		t.Errorf("expected write count %d, got %d", len("current?"), n)
	}
	if got := conn.tx.String(); got != "current?\r" {
		t.Errorf("expected terminated command %q on the wire, got %q", "current?\r", got)
	}
	buf := make([]byte, 64)
	n, err = rw.Read(buf)
	if err != nil {
		t.Fatal("read errored:", err)
	}
	if got := string(buf[:n]); got != "90.00" {
		t.Errorf("expected stripped reply %q, got %q", "90.00", got)
	}
}

func TestTimeoutPassesThroughNonConn(t *testing.T) {
	conn := scriptedConn{rx: &bytes.Buffer{}, tx: &bytes.Buffer{}}
	rw, err := comm.NewTimeout(conn, time.Second)
	if err != nil {
		t.Fatal("expected nil error for deadline-less ReadWriter, got:", err)
	}
	if rw == nil {
		t.Fatal("expected the ReadWriter back, got nil")
	}
}
