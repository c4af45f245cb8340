package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/yllada/hostbridge/common"
)

const (
	frameMessage = "message"
	frameInvoke  = "invoke"
	frameResult  = "result"

	// MaxFrameBytes bounds one newline-delimited frame.
	MaxFrameBytes = 8 * 1024 * 1024
)

// frame is one newline-delimited JSON record on a stream.
type frame struct {
	Kind    string          `json:"kind"`
	Channel string          `json:"channel,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Stream is a Transport over any byte stream, typically the stdin/stdout of a
// host process spawned through pkexec.
type Stream struct {
	rwc io.ReadWriteCloser
	box *mailbox
	log common.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	calls   map[uint64]chan frame
	invoke  InvokeFunc
	closed  bool
	readErr error

	done chan struct{}
}

// NewStream starts reading frames from rwc.
func NewStream(rwc io.ReadWriteCloser, log common.Logger) *Stream {
	if log == nil {
		log = common.NopLogger{}
	}
	s := &Stream{
		rwc:   rwc,
		box:   newMailbox(),
		log:   log,
		calls: make(map[uint64]chan frame),
		done:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Send writes a message frame.
func (s *Stream) Send(channel string, body json.RawMessage) error {
	return s.write(frame{Kind: frameMessage, Channel: channel, Body: body})
}

// Receive returns inbound message frames.
func (s *Stream) Receive() <-chan Message {
	return s.box.out
}

// ServeInvoke installs the handler for inbound invoke frames.
func (s *Stream) ServeInvoke(fn InvokeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoke = fn
}

// Invoke writes an invoke frame and waits for the result with the same sequence number.
func (s *Stream) Invoke(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, common.ErrClosed
	}
	s.seq++
	seq := s.seq
	reply := make(chan frame, 1)
	s.calls[seq] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.calls, seq)
		s.mu.Unlock()
	}()

	if err := s.write(frame{Kind: frameInvoke, Channel: channel, Seq: seq, Body: args}); err != nil {
		return nil, err
	}

	select {
	case f := <-reply:
		if len(f.Error) > 0 && string(f.Error) != "null" {
			return nil, &RemoteError{Payload: f.Error}
		}
		return f.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, common.ErrClosed
	}
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.box.close()
	return s.rwc.Close()
}

// Done is closed once the read loop has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the read loop, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

func (s *Stream) write(f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(payload) >= MaxFrameBytes {
		return common.ErrFrameTooLarge
	}
	payload = append(payload, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return common.ErrClosed
	default:
	}
	if _, err := s.rwc.Write(payload); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.box.close()
	}()

	scanner := bufio.NewScanner(s.rwc)
	scanner.Buffer(make([]byte, 64*1024), MaxFrameBytes)
	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			s.log.Warn("dropping malformed frame: %v", err)
			continue
		}
		s.handle(f)
	}

	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		err = common.ErrFrameTooLarge
	}
	if err != nil {
		s.log.Warn("stream read ended: %v", err)
	}
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *Stream) handle(f frame) {
	switch f.Kind {
	case frameMessage:
		s.box.push(Message{Channel: f.Channel, Body: f.Body})
	case frameResult:
		s.mu.Lock()
		reply, ok := s.calls[f.Seq]
		s.mu.Unlock()
		if !ok {
			s.log.Debug("result for unknown invoke seq %d", f.Seq)
			return
		}
		select {
		case reply <- f:
		default:
			s.log.Warn("duplicate result for invoke seq %d", f.Seq)
		}
	case frameInvoke:
		s.mu.Lock()
		fn := s.invoke
		s.mu.Unlock()
		go s.answer(fn, f)
	default:
		s.log.Warn("unknown frame kind %q", f.Kind)
	}
}

func (s *Stream) answer(fn InvokeFunc, f frame) {
	out := frame{Kind: frameResult, Seq: f.Seq}
	if fn == nil {
		out.Error = ErrorPayload(common.ErrInvokeUnsupported)
	} else if body, err := fn(context.Background(), f.Channel, f.Body); err != nil {
		out.Error = ErrorPayload(err)
	} else {
		out.Body = body
	}
	if err := s.write(out); err != nil {
		s.log.Warn("invoke %s result not delivered: %v", f.Channel, err)
	}
}
