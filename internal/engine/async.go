package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/gopdec/internal/hwdec"
	"github.com/jmylchreest/gopdec/internal/observability"
)

var (
	// ErrNoResult means retrieval was attempted with nothing submitted.
	ErrNoResult = errors.New("engine: no async result to retrieve")

	// ErrRequestMismatch means the retrieval parameters do not match
	// the buffered request.
	ErrRequestMismatch = errors.New("engine: async result does not match request")
)

// AsyncProtocolError is a caller-usage error on the async decode
// protocol. Unwraps to ErrNoResult or ErrRequestMismatch.
type AsyncProtocolError struct {
	RequestID string
	Err       error
}

func (e *AsyncProtocolError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("async protocol: %v", e.Err)
	}
	return fmt.Sprintf("async protocol: request %s: %v", e.RequestID, e.Err)
}

func (e *AsyncProtocolError) Unwrap() error {
	return e.Err
}

type asyncState int

const (
	asyncIdle asyncState = iota
	asyncPending
	asyncReady
)

type asyncRequest struct {
	id       string
	paths    []string
	frameIDs [][]int64
	order    hwdec.ColorOrder
}

func (r *asyncRequest) matches(paths []string, frameIDs [][]int64, order hwdec.ColorOrder) bool {
	if r.order != order || !slices.Equal(r.paths, paths) || len(r.frameIDs) != len(frameIDs) {
		return false
	}
	for i := range r.frameIDs {
		if !slices.Equal(r.frameIDs[i], frameIDs[i]) {
			return false
		}
	}
	return true
}

// mailbox is the one-slot buffer behind the async protocol. The mutex
// guards only state transitions; decode work happens outside it.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	state  asyncState
	req    asyncRequest
	frames [][]Frame
	err    error
	logger *slog.Logger
}

func newMailbox(logger *slog.Logger) *mailbox {
	m := &mailbox{logger: logger}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// DecodeAsync submits a decode request to the background worker and
// returns its request id immediately. Submitting while a prior result
// is pending or unconsumed waits for it and discards it with a
// warning; the protocol holds at most one outstanding result.
func (e *Engine) DecodeAsync(paths []string, frameIDs [][]int64, order hwdec.ColorOrder) (string, error) {
	if len(paths) != len(frameIDs) {
		return "", &ValidationError{Detail: fmt.Sprintf("%d paths but %d frame lists", len(paths), len(frameIDs))}
	}
	if e.cfg.MaxFiles > 0 && len(paths) > e.cfg.MaxFiles {
		return "", &ValidationError{Detail: fmt.Sprintf("batch of %d files exceeds reader capacity %d", len(paths), e.cfg.MaxFiles)}
	}

	m := e.async
	m.mu.Lock()
	if m.state == asyncPending {
		m.logger.Warn("async decode submitted while prior request is in flight, waiting",
			slog.String("prior_request_id", m.req.id))
	}
	for m.state == asyncPending {
		m.cond.Wait()
	}
	if m.state == asyncReady {
		m.logger.Warn("discarding unconsumed async result",
			slog.String("request_id", m.req.id))
	}

	req := asyncRequest{
		id:       ulid.Make().String(),
		paths:    slices.Clone(paths),
		frameIDs: cloneFrameIDs(frameIDs),
		order:    order,
	}
	m.state = asyncPending
	m.req = req
	m.frames = nil
	m.err = nil
	m.mu.Unlock()

	go func() {
		frames, err := e.DecodeList(req.paths, req.frameIDs, req.order)

		m.mu.Lock()
		if m.req.id == req.id {
			m.frames = frames
			m.err = err
			m.state = asyncReady
		}
		m.mu.Unlock()
		m.cond.Broadcast()
	}()

	observability.WithRequestID(e.logger, req.id).Debug("async decode submitted",
		slog.Int("files", len(paths)))
	return req.id, nil
}

// GetAsyncResult retrieves the result of the outstanding async decode.
// The parameters must match the buffered request exactly; a mismatch
// is an AsyncProtocolError distinct from "nothing to retrieve". The
// returned frames are borrowed pool views, invalidated by the next
// decode against the same files.
func (e *Engine) GetAsyncResult(paths []string, frameIDs [][]int64, order hwdec.ColorOrder) ([][]Frame, error) {
	m := e.async

	m.mu.Lock()
	if m.state == asyncIdle {
		m.mu.Unlock()
		return nil, &AsyncProtocolError{Err: ErrNoResult}
	}
	for m.state == asyncPending {
		m.cond.Wait()
	}
	if m.state != asyncReady {
		m.mu.Unlock()
		return nil, &AsyncProtocolError{Err: ErrNoResult}
	}
	if !m.req.matches(paths, frameIDs, order) {
		id := m.req.id
		m.mu.Unlock()
		return nil, &AsyncProtocolError{RequestID: id, Err: ErrRequestMismatch}
	}

	frames, err := m.frames, m.err
	m.state = asyncIdle
	m.frames = nil
	m.err = nil
	m.mu.Unlock()
	m.cond.Broadcast()
	return frames, err
}

// close waits out an in-flight async decode and drops any buffered
// result.
func (m *mailbox) close() {
	m.mu.Lock()
	for m.state == asyncPending {
		m.cond.Wait()
	}
	m.state = asyncIdle
	m.frames = nil
	m.err = nil
	m.mu.Unlock()
}

func cloneFrameIDs(frameIDs [][]int64) [][]int64 {
	out := make([][]int64, len(frameIDs))
	for i, ids := range frameIDs {
		out[i] = slices.Clone(ids)
	}
	return out
}
