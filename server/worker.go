package server

import (
	"fmt"
	"os"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/prose/compiler"
)

// Workspace holds the latest analysis of every open document. It is owned
// by a Worker goroutine and must not be touched from anywhere else.
type Workspace struct {
	analyses map[protocol.DocumentUri]*Analysis
	read     compiler.ReadFunc
}

// Update analyzes text as the new content of uri.
func (w *Workspace) Update(uri protocol.DocumentUri, text string) *Analysis {
	a := Analyze(uri, text, w.read)
	w.analyses[uri] = a
	return a
}

// Get returns the latest analysis of uri, or nil.
func (w *Workspace) Get(uri protocol.DocumentUri) *Analysis {
	return w.analyses[uri]
}

// Forget drops the analysis of a closed document.
func (w *Workspace) Forget(uri protocol.DocumentUri) {
	delete(w.analyses, uri)
}

// workRequest represents a unit of work to be executed on the worker goroutine.
type workRequest struct {
	fn   func(*Workspace) interface{}
	done chan workResult
}

// workResult holds the return value from a workspace operation.
type workResult struct {
	value interface{}
	err   error
}

// Worker serializes all workspace access through a single goroutine.
// LSP notifications and requests may arrive concurrently; every analysis
// and lookup goes through the worker so they observe documents in order.
type Worker struct {
	ws       *Workspace
	requests chan workRequest
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine. A nil
// read uses os.ReadFile for includes.
func NewWorker(read compiler.ReadFunc) *Worker {
	if read == nil {
		read = os.ReadFile
	}
	w := &Worker{
		ws: &Workspace{
			analyses: make(map[protocol.DocumentUri]*Analysis),
			read:     read,
		},
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the workspace, recovering from panics.
func (w *Worker) execute(fn func(*Workspace) interface{}) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.ws)
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func(*Workspace) interface{}) (interface{}, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
}
