package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/schenql/dbbuilder/pkg/db"
)

type pendingBatch struct {
	index int
	rows  []db.Row
}

// BatchWriter buffers rows for one table and hands them to the sink in
// numbered batches. Batches are committed by a single goroutine in the order
// they were filled.
//
// A batch rejected for a constraint violation is reported through OnResult
// and writing continues. Any other sink error is fatal: later batches are
// dropped and Submit and Close return the error.
type BatchWriter struct {
	mu     sync.Mutex
	buf    []db.Row
	cap    int
	next   int
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	commitCh chan pendingBatch
	sink     db.Sink
	table    db.Table

	// OnResult receives the result of every batch, from the committer
	// goroutine. Set it before the first Submit.
	OnResult func(db.BatchResult)
	// OnError receives fatal errors and dropped batches.
	OnError func(error)

	// lastErr stores the first fatal error seen by the writer. Protected by errMu.
	errMu   sync.Mutex
	lastErr error
}

// NewBatchWriter creates a writer for table that flushes every bufferSize
// rows. Cancelling ctx stops the writer; batches not yet written are
// dropped.
func NewBatchWriter(ctx context.Context, sink db.Sink, table db.Table, bufferSize int) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ctx, cancel := context.WithCancel(ctx)
	bw := &BatchWriter{
		buf:      make([]db.Row, 0, bufferSize),
		cap:      bufferSize,
		ctx:      ctx,
		cancel:   cancel,
		commitCh: make(chan pendingBatch, 2), // Buffer a couple of batches
		sink:     sink,
		table:    table,
	}

	bw.wg.Add(1)
	go bw.committer()
	return bw
}

// Submit enqueues a row.
func (bw *BatchWriter) Submit(row db.Row) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	if err := bw.err(); err != nil {
		return err
	}
	bw.buf = append(bw.buf, row)
	if len(bw.buf) >= bw.cap {
		bw.flushLocked()
	}
	return nil
}

// flushLocked assumes bw.mu is held.
func (bw *BatchWriter) flushLocked() {
	if len(bw.buf) == 0 {
		return
	}
	b := pendingBatch{index: bw.next, rows: bw.buf}
	bw.next++
	bw.buf = make([]db.Row, 0, bw.cap)

	// Blocking here while holding the lock applies backpressure to Submit.
	if bw.ctx.Err() == nil {
		select {
		case bw.commitCh <- b:
			return
		case <-bw.ctx.Done():
		}
	}
	bw.drop(b)
}

func (bw *BatchWriter) drop(b pendingBatch) {
	err := fmt.Errorf("batch writer: dropping %s batch %d of %d rows: %w", bw.table.Name, b.index, len(b.rows), context.Cause(bw.ctx))
	bw.setErr(err)
	if bw.OnError != nil {
		bw.OnError(err)
	}
}

func (bw *BatchWriter) committer() {
	defer bw.wg.Done()
	for b := range bw.commitCh {
		if bw.ctx.Err() != nil {
			bw.drop(b)
			continue
		}
		res := bw.sink.InsertBatch(bw.ctx, bw.table, b.index, b.rows)
		if bw.OnResult != nil {
			bw.OnResult(res)
		}
		var ce *db.ConstraintError
		if res.Err == nil || errors.As(res.Err, &ce) {
			continue
		}
		// The sink itself failed; nothing after this can succeed.
		bw.setErr(res.Err)
		if bw.OnError != nil {
			bw.OnError(res.Err)
		}
		bw.cancel()
	}
}

func (bw *BatchWriter) setErr(err error) {
	bw.errMu.Lock()
	if bw.lastErr == nil {
		bw.lastErr = err
	}
	bw.errMu.Unlock()
}

func (bw *BatchWriter) err() error {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.lastErr
}

// Batches returns the number of batches flushed so far.
func (bw *BatchWriter) Batches() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.next
}

// Close flushes the remaining rows, waits for pending batches to be written
// and returns the first fatal error.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	// flush remaining
	if len(bw.buf) > 0 {
		bw.flushLocked()
	}
	bw.mu.Unlock()

	close(bw.commitCh) // Stop committer loop
	bw.wg.Wait()
	bw.cancel()

	return bw.err()
}

var ErrBatchWriterClosed = &BatchWriterError{"batch writer closed"}

type BatchWriterError struct{ msg string }

func (e *BatchWriterError) Error() string { return e.msg }
