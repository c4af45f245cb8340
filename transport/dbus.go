package transport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/hostbridge/common"
)

// D-Bus member names on common.BusInterface.
const (
	memberSend    = common.BusInterface + ".Send"
	memberInvoke  = common.BusInterface + ".Invoke"
	signalMessage = "Message"

	errNameRemote       = common.BusInterface + ".Error"
	errNameUnauthorized = common.BusInterface + ".Unauthorized"
	errNameUnsupported  = common.BusInterface + ".Unsupported"
)

// DBusClient is the UI end of the session-bus transport.
// Host pushes arrive as Message signals; sends and invokes are method calls on
// the host object.
type DBusClient struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	token   string
	box     *mailbox
	signals chan *dbus.Signal
	log     common.Logger

	closeOnce sync.Once
}

// DialDBus connects to the session bus and subscribes to host signals.
// It does not check that the host is running; see HostRunning.
func DialDBus(token string, log common.Logger) (*DBusClient, error) {
	if log == nil {
		log = common.NopLogger{}
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: session bus: %v", common.ErrHostUnreachable, err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(common.BusObjectPath)),
		dbus.WithMatchInterface(common.BusInterface),
		dbus.WithMatchMember(signalMessage),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe host signals: %w", err)
	}

	c := &DBusClient{
		conn:    conn,
		obj:     conn.Object(common.BusName, dbus.ObjectPath(common.BusObjectPath)),
		token:   token,
		box:     newMailbox(),
		signals: make(chan *dbus.Signal, 64),
		log:     log,
	}
	conn.Signal(c.signals)
	go c.pump()
	return c, nil
}

// HostRunning reports whether some process owns the host bus name.
func (c *DBusClient) HostRunning(ctx context.Context) (bool, error) {
	var has bool
	err := c.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, common.BusName).Store(&has)
	return has, err
}

func (c *DBusClient) pump() {
	defer c.box.close()
	for sig := range c.signals {
		if sig.Name != common.BusInterface+"."+signalMessage || len(sig.Body) != 2 {
			continue
		}
		channel, ok1 := sig.Body[0].(string)
		body, ok2 := sig.Body[1].([]byte)
		if !ok1 || !ok2 {
			c.log.Warn("malformed host signal from %s", sig.Sender)
			continue
		}
		c.box.push(Message{Channel: channel, Body: json.RawMessage(body)})
	}
}

// Send calls Send on the host without waiting for a reply.
func (c *DBusClient) Send(channel string, body json.RawMessage) error {
	call := c.obj.Go(memberSend, dbus.FlagNoReplyExpected, nil, channel, []byte(body), c.token)
	if call.Err != nil {
		return fmt.Errorf("dbus send %s: %w", channel, call.Err)
	}
	return nil
}

// Receive returns host pushes.
func (c *DBusClient) Receive() <-chan Message {
	return c.box.out
}

// Invoke calls Invoke on the host and waits for its reply.
func (c *DBusClient) Invoke(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
	var out []byte
	err := c.obj.CallWithContext(ctx, memberInvoke, 0, channel, []byte(args), c.token).Store(&out)
	if err != nil {
		return nil, mapDBusError(err)
	}
	return json.RawMessage(out), nil
}

// Close disconnects from the bus.
func (c *DBusClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.RemoveSignal(c.signals)
		close(c.signals)
		err = c.conn.Close()
	})
	return err
}

func mapDBusError(err error) error {
	var name string
	var body []interface{}
	var value dbus.Error
	var ptr *dbus.Error
	switch {
	case errors.As(err, &ptr):
		name, body = ptr.Name, ptr.Body
	case errors.As(err, &value):
		name, body = value.Name, value.Body
	default:
		return err
	}

	switch name {
	case errNameUnauthorized:
		return common.ErrUnauthorized
	case errNameUnsupported:
		return common.ErrInvokeUnsupported
	case errNameRemote:
		if len(body) == 1 {
			if payload, ok := body[0].(string); ok {
				return &RemoteError{Payload: json.RawMessage(payload)}
			}
		}
	}
	return err
}

// DBusHost is the host end of the session-bus transport. It owns
// common.BusName and exports the host object.
type DBusHost struct {
	conn  *dbus.Conn
	token string
	box   *mailbox
	log   common.Logger

	mu     sync.RWMutex
	invoke InvokeFunc

	closeOnce sync.Once
}

// ServeDBus claims the host bus name and exports the host object.
// Calls carrying a token other than token are rejected.
func ServeDBus(token string, log common.Logger) (*DBusHost, error) {
	if log == nil {
		log = common.NopLogger{}
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}

	h := &DBusHost{conn: conn, token: token, box: newMailbox(), log: log}
	if err := conn.Export(&hostObject{host: h}, dbus.ObjectPath(common.BusObjectPath), common.BusInterface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export host object: %w", err)
	}

	reply, err := conn.RequestName(common.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already owned", common.BusName)
	}
	return h, nil
}

// Send emits a Message signal to every connected UI.
func (h *DBusHost) Send(channel string, body json.RawMessage) error {
	return h.conn.Emit(dbus.ObjectPath(common.BusObjectPath), common.BusInterface+"."+signalMessage, channel, []byte(body))
}

// Receive returns messages sent by UIs.
func (h *DBusHost) Receive() <-chan Message {
	return h.box.out
}

// Invoke is not available host-to-UI on D-Bus.
func (h *DBusHost) Invoke(context.Context, string, json.RawMessage) (json.RawMessage, error) {
	return nil, common.ErrInvokeUnsupported
}

// ServeInvoke installs the handler for UI invokes.
func (h *DBusHost) ServeInvoke(fn InvokeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invoke = fn
}

// Close releases the bus name and disconnects.
func (h *DBusHost) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.box.close()
		h.conn.ReleaseName(common.BusName)
		err = h.conn.Close()
	})
	return err
}

func (h *DBusHost) authorized(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

// hostObject is exported on the bus. godbus maps its exported methods to
// members of common.BusInterface.
type hostObject struct {
	host *DBusHost
}

func (o *hostObject) Send(channel string, body []byte, token string) *dbus.Error {
	if !o.host.authorized(token) {
		o.host.log.Warn("rejected send on %s: bad token", channel)
		return dbus.NewError(errNameUnauthorized, nil)
	}
	o.host.box.push(Message{Channel: channel, Body: json.RawMessage(body)})
	return nil
}

func (o *hostObject) Invoke(channel string, args []byte, token string) ([]byte, *dbus.Error) {
	if !o.host.authorized(token) {
		o.host.log.Warn("rejected invoke on %s: bad token", channel)
		return nil, dbus.NewError(errNameUnauthorized, nil)
	}
	o.host.mu.RLock()
	fn := o.host.invoke
	o.host.mu.RUnlock()
	if fn == nil {
		return nil, dbus.NewError(errNameUnsupported, nil)
	}
	out, err := fn(context.Background(), channel, json.RawMessage(args))
	if err != nil {
		return nil, dbus.NewError(errNameRemote, []interface{}{string(ErrorPayload(err))})
	}
	return []byte(out), nil
}
