package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/ipc"
	"github.com/yllada/hostbridge/transport"
)

// RequestHandler answers a correlated request. value is the request payload.
// The returned value becomes the reply's value; a returned error becomes its
// error field.
type RequestHandler func(ctx context.Context, value json.RawMessage) (any, error)

// InvokeHandler answers a transport-native invoke. args is a JSON array.
type InvokeHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Recorder receives one record per served request.
type Recorder interface {
	Record(ctx context.Context, rec common.RequestRecord) error
}

// Broadcaster pushes a notification to the UI.
type Broadcaster interface {
	Broadcast(name string) error
}

// Outcomes stored in request records.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeNoHandler = "no-handler"
)

// Server is the host end of the bridge. It answers correlated requests
// received over a transport, serves native invokes and pushes broadcasts.
//
// Requests are handled concurrently, so replies go out in completion order.
type Server struct {
	t   transport.Transport
	log common.Logger

	mu       sync.RWMutex
	requests map[string]RequestHandler
	invokes  map[string]InvokeHandler
	recorder Recorder
	quiet    map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

// NewServer creates a server over t. When t can answer native invokes the
// server installs itself as their handler.
func NewServer(t transport.Transport, log common.Logger) *Server {
	if log == nil {
		log = common.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		t:        t,
		log:      log,
		requests: make(map[string]RequestHandler),
		invokes:  make(map[string]InvokeHandler),
		quiet: map[string]bool{
			common.ChannelPing:        true,
			common.ChannelRequestLog:  true,
			common.ChannelWindowState: true,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	if srv, ok := t.(transport.InvokeServer); ok {
		srv.ServeInvoke(s.invoke)
	}
	return s
}

// Handle registers h for correlated requests on channel, replacing any
// previous handler.
func (s *Server) Handle(channel string, h RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[channel] = h
}

// HandleInvoke registers h for native invokes on channel.
func (s *Server) HandleInvoke(channel string, h InvokeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokes[channel] = h
}

// SetRecorder sets where served requests are recorded. Nil disables recording.
func (s *Server) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Broadcast pushes a bare notification named name.
func (s *Server) Broadcast(name string) error {
	return s.Push(name, nil)
}

// Push sends v, JSON encoded, on channel.
func (s *Server) Push(channel string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", channel, err)
	}
	if err := s.t.Send(channel, body); err != nil {
		return fmt.Errorf("push %s: %w", channel, err)
	}
	s.log.Debug("pushed %s", channel)
	return nil
}

// Serve handles inbound requests until the transport closes or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("Serving requests")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return nil
		case msg, ok := <-s.t.Receive():
			if !ok {
				s.log.Info("Transport closed, stopping")
				return nil
			}
			s.mu.Lock()
			if s.ctx.Err() != nil {
				s.mu.Unlock()
				return nil
			}
			s.wg.Add(1)
			s.mu.Unlock()
			go func() {
				defer s.wg.Done()
				s.handle(msg)
			}()
		}
	}
}

// Close stops serving, waits for in-flight requests and closes the transport.
func (s *Server) Close() error {
	var err error
	s.closed.Do(func() {
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()
		s.wg.Wait()
		err = s.t.Close()
	})
	return err
}

func (s *Server) handle(msg transport.Message) {
	var req ipc.Request
	if err := json.Unmarshal(msg.Body, &req); err != nil || req.CorrelationID == "" {
		s.log.Warn("dropping %s: not a request envelope", msg.Channel)
		return
	}

	s.mu.RLock()
	h := s.requests[msg.Channel]
	s.mu.RUnlock()

	start := time.Now()
	resp := ipc.Response{CorrelationID: req.CorrelationID}
	outcome := OutcomeOK

	if h == nil {
		outcome = OutcomeNoHandler
		resp.Error = transport.ErrorPayload(fmt.Errorf("%w: %s", common.ErrNoHandler, msg.Channel))
	} else if value, err := h(s.ctx, req.Value); err != nil {
		outcome = OutcomeError
		resp.Error = transport.ErrorPayload(err)
	} else if resp.Value, err = json.Marshal(value); err != nil {
		outcome = OutcomeError
		resp.Value = nil
		resp.Error = transport.ErrorPayload(fmt.Errorf("encode %s reply: %w", msg.Channel, err))
	}

	body, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("encode reply to %s: %v", req.CorrelationID, err)
		return
	}
	if err := s.t.Send(req.CorrelationID, body); err != nil && !errors.Is(err, common.ErrClosed) {
		s.log.Warn("reply to %s on %s not sent: %v", req.CorrelationID, msg.Channel, err)
	}
	s.record(req.CorrelationID, msg.Channel, start, outcome)
}

func (s *Server) invoke(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
	s.mu.RLock()
	h := s.invokes[channel]
	s.mu.RUnlock()

	start := time.Now()
	if h == nil {
		s.record(common.NewCorrelationID(), channel, start, OutcomeNoHandler)
		return nil, fmt.Errorf("%w: %s", common.ErrNoHandler, channel)
	}

	value, err := h(ctx, args)
	if err != nil {
		s.record(common.NewCorrelationID(), channel, start, OutcomeError)
		return nil, err
	}
	body, err := json.Marshal(value)
	if err != nil {
		s.record(common.NewCorrelationID(), channel, start, OutcomeError)
		return nil, fmt.Errorf("encode %s result: %w", channel, err)
	}
	s.record(common.NewCorrelationID(), channel, start, OutcomeOK)
	return body, nil
}

func (s *Server) record(id, channel string, start time.Time, outcome string) {
	s.mu.RLock()
	r := s.recorder
	quiet := s.quiet[channel]
	s.mu.RUnlock()
	if r == nil || quiet {
		return
	}

	rec := common.RequestRecord{
		CorrelationID: id,
		Channel:       channel,
		StartedAt:     start.UnixMilli(),
		DurationMS:    time.Since(start).Milliseconds(),
		Outcome:       outcome,
	}
	if err := r.Record(context.Background(), rec); err != nil {
		s.log.Warn("record %s: %v", id, err)
	}
}

// Args decodes a JSON array of invoke arguments into the pointers in dst.
// Missing trailing arguments leave their targets untouched.
func Args(args json.RawMessage, dst ...any) error {
	if len(args) == 0 {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(args, &raw); err != nil {
		return fmt.Errorf("invoke arguments: %w", err)
	}
	for i, target := range dst {
		if i >= len(raw) {
			break
		}
		if err := json.Unmarshal(raw[i], target); err != nil {
			return fmt.Errorf("invoke argument %d: %w", i, err)
		}
	}
	return nil
}
