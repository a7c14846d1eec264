package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"tickerwatch/internal/model"
)

// pendingWrite is a hot-tier write buffered during circuit-open state.
type pendingWrite struct {
	WriteType string // "quote", "snapshot", "strategy"
	Data      []byte // JSON-encoded payload
}

// BufferedWriter wraps a Writer with a circuit breaker. While the circuit is
// open, writes are buffered locally and replayed when it closes again, so a
// redis outage degrades the hot tier without dropping the freshest values.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	OnBuffer func()          // called when a write is buffered
	OnFlush  func(count int) // called after replaying buffered writes
}

// NewBufferedWriter wraps w. maxBufferSize <= 0 defaults to 10000; when the
// buffer is full the oldest write is dropped.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteQuote writes a quote through the circuit breaker, buffering when open.
func (bw *BufferedWriter) WriteQuote(q *model.Quote) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeQuote(bw.ctx, q)
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("quote", q)
		return nil
	}
	return err
}

// WriteSnapshot writes an indicator snapshot through the circuit breaker.
func (bw *BufferedWriter) WriteSnapshot(snap *model.IndicatorSnapshot) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeSnapshot(bw.ctx, snap)
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("snapshot", snap)
		return nil
	}
	return err
}

// WriteStrategy writes a strategy result through the circuit breaker.
func (bw *BufferedWriter) WriteStrategy(r *model.StrategyResult) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeStrategy(bw.ctx, r)
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("strategy", r)
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(writeType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[buffered-writer] marshal error: %v", err)
		return
	}

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{WriteType: writeType, Data: data})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered writes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		switch pw.WriteType {
		case "quote":
			var q model.Quote
			if json.Unmarshal(pw.Data, &q) == nil {
				bw.writer.writeQuote(bw.ctx, &q)
			}
		case "snapshot":
			var snap model.IndicatorSnapshot
			if json.Unmarshal(pw.Data, &snap) == nil {
				bw.writer.writeSnapshot(bw.ctx, &snap)
			}
		case "strategy":
			var r model.StrategyResult
			if json.Unmarshal(pw.Data, &r) == nil {
				bw.writer.writeStrategy(bw.ctx, &r)
			}
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of writes waiting to be replayed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped writer.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
