package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a
// device, handing them out to callers and closing them if they go unused.
// A pool of size one serializes access to hardware which only supports a
// single open handle, which is every RS232 device.  Pools must be created
// with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	timeout time.Duration           // time after all connections are returned to free them
	conns   chan io.ReadWriteCloser // idle connections ready for reuse
	slots   chan struct{}           // capacity tokens; holding one permits holding a conn
	timer   *time.Timer             // timer used to destroy connections after all are returned
	maker   CreationFunc

	reclaiming bool // whether startReclaim's goroutine is running
	mu         sync.Mutex
}

// NewPool creates a new pool of up to maxSize connections made by maker,
// which are closed after they have all been idle for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		slots:   make(chan struct{}, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
	}
	for i := 0; i < maxSize; i++ {
		p.slots <- struct{}{}
	}
	p.timer.Stop() // nothing to reclaim yet
	return p
}

// Get retrieves a connection from the pool, blocking until one is available
// if all are in use.  The caller has exclusive use of the connection until
// it is returned with Put (healthy) or Destroy (junk); ReturnWithError
// picks between the two.
//
// If the error from Get is not nil, the connection must not be returned
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	// stopping the timer can fail as documented at
	// https://golang.org/pkg/time/#Timer.Stop but a fresh connection will be
	// made with retry logic anyway, so it is ignored here.
	p.timer.Stop()
	p.mu.Unlock()

	// take a capacity token; blocks until a Put or Destroy frees one.
	// The token ensures at most maxSize connections exist at once.
	<-p.slots
	select {
	case c := <-p.conns:
		return c, nil
	default:
	}
	// none idle; the token came from a Destroy or the pool is still filling.
	// Make a fresh connection, handing the token back on failure.
	c, err := p.maker()
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	return c, nil
}

// Put restores a connection to the pool.  It may be reused, or will be
// closed after all connections are returned and the timeout has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	// park the connection before releasing the token so a waiter that
	// wakes on the token finds it
	p.conns <- rwc
	p.slots <- struct{}{}
	p.mu.Lock()
	if len(p.slots) == p.maxSize {
		p.startReclaim()
	}
	p.mu.Unlock()
}

// Destroy closes a connection instead of returning it to the pool.  Use it
// in place of Put when the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	// release the token with no idle connection behind it; a waiter parked
	// in Get wakes and dials a fresh one
	p.slots <- struct{}{}
}

// ReturnWithError calls Put if err is nil, else Destroy.  It exists so that
// drivers can return connections in a one-line defer:
//
//	defer func() { pool.ReturnWithError(conn, err) }()
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err == nil {
		p.Put(rw)
	} else {
		p.Destroy(rw)
	}
}

// Size returns the number of connections in the pool or given out from it
func (p *Pool) Size() int {
	return p.Active() + len(p.conns)
}

// Active returns the number of connections currently given out
func (p *Pool) Active() int {
	return p.maxSize - len(p.slots)
}

// startReclaim spawns a goroutine which closes every idle connection
// after the timeout passes.  Callers must hold p.mu.
func (p *Pool) startReclaim() {
	// re-arm the timer even if the goroutine is already waiting on it; Get
	// stops the timer and would otherwise leave the goroutine parked forever
	p.timer.Reset(p.timeout)
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	go func() {
		<-p.timer.C
		p.mu.Lock()
		defer p.mu.Unlock()
		for {
			select {
			case closer := <-p.conns:
				closer.Close()
			default:
				p.reclaiming = false
				return
			}
		}
	}()
}
