package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
)

// DefaultMaxArgSize bounds inbound arguments read with ReadArg.
const DefaultMaxArgSize = 1 << 20

// Host is the set of boundary primitives a handler may use during one call.
type Host interface {
	// DebugPrint emits a diagnostic line. It never fails.
	DebugPrint(msg []byte)

	// ArgDataSize returns the length of the inbound argument.
	ArgDataSize() int

	// ArgDataCopy copies len(dst) argument bytes starting at offset.
	ArgDataCopy(dst []byte, offset int) error

	// ReplyDataAppend appends to the pending reply payload.
	ReplyDataAppend(data []byte) error

	// Reply commits the pending payload as the response.
	Reply() error

	// Reject commits a failure response carrying msg.
	Reject(msg string) error

	// Committed reports whether Reply or Reject has run.
	Committed() bool
}

var (
	// ErrAlreadyCommitted matches errors from appends or commits after the
	// response was committed.
	ErrAlreadyCommitted = &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindAlreadyCommitted}

	// ErrOutOfBounds matches ArgDataCopy ranges outside the argument.
	ErrOutOfBounds = &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindOutOfBounds}

	// ErrTooLarge matches arguments above the configured limit.
	ErrTooLarge = &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindTooLarge}
)

// Status is the state of a call's response.
type Status int

const (
	StatusPending Status = iota
	StatusReplied
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusReplied:
		return "replied"
	case StatusRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Response is the committed outcome of a call.
type Response struct {
	Payload []byte
	Message string
	Status  Status
}

// Call is the Host of a single inbound message.
type Call struct {
	logger *zap.Logger
	id     string
	method string
	arg    []byte
	reply  []byte
	debug  []string
	resp   Response
	mu     sync.Mutex
}

var _ Host = (*Call)(nil)

// NewCall creates a call for method carrying arg. The argument is copied.
func NewCall(method string, arg []byte) *Call {
	id := uuid.NewString()
	return &Call{
		id:     id,
		method: method,
		arg:    append([]byte(nil), arg...),
		logger: Logger().With(zap.String("call_id", id), zap.String("method", method)),
	}
}

// ID returns the unique call identifier.
func (c *Call) ID() string {
	return c.id
}

// Method returns the invoked entry point name.
func (c *Call) Method() string {
	return c.method
}

func (c *Call) DebugPrint(msg []byte) {
	c.mu.Lock()
	c.debug = append(c.debug, string(msg))
	c.mu.Unlock()
	c.logger.Debug("debug_print", zap.ByteString("msg", msg))
}

// DebugLines returns the lines printed so far.
func (c *Call) DebugLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.debug...)
}

func (c *Call) ArgDataSize() int {
	return len(c.arg)
}

func (c *Call) ArgDataCopy(dst []byte, offset int) error {
	if offset < 0 || offset > len(c.arg) || len(dst) > len(c.arg)-offset {
		err := errors.OutOfBounds(errors.PhaseHost, offset, len(dst), len(c.arg))
		err.Op = "arg-copy"
		return err
	}
	copy(dst, c.arg[offset:])
	return nil
}

func (c *Call) ReplyDataAppend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resp.Status != StatusPending {
		return errors.AlreadyCommitted("reply-append")
	}
	c.reply = append(c.reply, data...)
	return nil
}

func (c *Call) Reply() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resp.Status != StatusPending {
		return errors.AlreadyCommitted("reply")
	}
	c.resp = Response{Status: StatusReplied, Payload: c.reply}
	c.reply = nil
	c.logger.Debug("replied", zap.Int("bytes", len(c.resp.Payload)))
	return nil
}

func (c *Call) Reject(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resp.Status != StatusPending {
		return errors.AlreadyCommitted("reject")
	}
	c.resp = Response{Status: StatusRejected, Message: msg}
	c.reply = nil
	c.logger.Debug("rejected", zap.String("reason", msg))
	return nil
}

// Abort replaces any response with a reject carrying msg. Runtimes use it
// when the guest traps, which discards a reply committed before the trap.
func (c *Call) Abort(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resp = Response{Status: StatusRejected, Message: msg}
	c.reply = nil
	c.logger.Debug("aborted", zap.String("reason", msg))
}

func (c *Call) Committed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resp.Status != StatusPending
}

// Response returns the committed response. Before commit the status is
// StatusPending.
func (c *Call) Response() Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.resp
	r.Payload = append([]byte(nil), r.Payload...)
	return r
}

// ReadArg copies the whole argument into a fresh buffer. A positive max
// rejects larger arguments before any copy takes place.
func ReadArg(h Host, max int) ([]byte, error) {
	n := h.ArgDataSize()
	if n < 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("negative argument size %d", n))
	}
	if max > 0 && n > max {
		return nil, errors.TooLarge(errors.PhaseHost, "argument", n, max)
	}
	buf := make([]byte, n)
	if err := h.ArgDataCopy(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// Printf formats a debug line.
func Printf(h Host, format string, args ...any) {
	h.DebugPrint([]byte(fmt.Sprintf(format, args...)))
}

type callKey struct{}

// WithCall attaches c to ctx for host functions invoked from guest code.
func WithCall(ctx context.Context, c *Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the call attached to ctx.
func CallFrom(ctx context.Context) (*Call, bool) {
	c, ok := ctx.Value(callKey{}).(*Call)
	return c, ok && c != nil
}
