package database

import (
	"sync/atomic"
)

// executor funnels all work of a Database through a single worker goroutine,
// which is the Database's owning context.
type executor struct {
	work   chan func()
	stop   chan struct{}
	exited chan struct{}
	owned  atomic.Bool // Set while the worker runs a function.
}

func newExecutor() *executor {
	var e = &executor{
		work:   make(chan func()),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go e.serve()
	return e
}

func (e *executor) serve() {
	defer close(e.exited)
	for {
		select {
		case fn := <-e.work:
			e.owned.Store(true)
			fn()
			e.owned.Store(false)
		case <-e.stop:
			return
		}
	}
}

// do runs |fn| on the worker goroutine and returns its error. A panic of
// |fn| is re-raised on the calling goroutine. do must not be called from
// within |fn|, which would deadlock.
func (e *executor) do(fn func() error) error {
	var (
		done      = make(chan struct{})
		err       error
		recovered interface{}
	)
	var task = func() {
		defer close(done)
		defer func() { recovered = recover() }()
		err = fn()
	}

	select {
	case e.work <- task:
	case <-e.exited:
		return ErrClosed
	}
	<-done

	if recovered != nil {
		panic(recovered)
	}
	return err
}

// halt stops the worker goroutine. Subsequent calls of do fail with ErrClosed.
func (e *executor) halt() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	<-e.exited
}

// assertOwned panics if the caller is not running on the worker goroutine.
func (e *executor) assertOwned() {
	if !e.owned.Load() {
		panic("database used outside of its owning context (see Database.Do)")
	}
}
