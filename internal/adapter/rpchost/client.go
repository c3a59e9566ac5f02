// Package rpchost drives commands in an external host process over JSON-RPC.
package rpchost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/host"
)

// Step states reported by the host.
const (
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateNeedsInput = "needs_input"
)

// StartArgs is the request body for Host.Start.
type StartArgs struct {
	ExecutionID string            `json:"execution_id"`
	Command     string            `json:"command"`
	Args        []json.RawMessage `json:"args"`
	Context     string            `json:"context,omitempty"`
}

// ResumeArgs is the request body for Host.Resume.
type ResumeArgs struct {
	ExecutionID string `json:"execution_id"`
	Value       string `json:"value"`
}

// CancelArgs is the request body for Host.Cancel.
type CancelArgs struct {
	ExecutionID string `json:"execution_id"`
}

// PingArgs is the request body for Host.Ping.
type PingArgs struct{}

// Ack is the reply for Host.Cancel and Host.Ping.
type Ack struct {
	OK bool `json:"ok"`
}

// StepReply is returned by Host.Start and Host.Resume once the command
// completes, fails or needs input.
type StepReply struct {
	State        string          `json:"state"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
	InputKind    string          `json:"input_kind,omitempty"`
}

func (r *StepReply) signal() host.Signal {
	switch r.State {
	case StateCompleted:
		result := r.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		return host.Completed(result)
	case StateFailed:
		return host.Failed(r.ErrorKind, r.ErrorMessage)
	case StateNeedsInput:
		kind, ok := domain.ParseInputKind(r.InputKind)
		if !ok {
			kind = domain.InputKindText
		}
		return host.NeedsInput(r.Prompt, kind)
	default:
		return host.Failed("protocol_error", fmt.Sprintf("unknown step state %q", r.State))
	}
}

// Client is a host.Host backed by a remote process. Every call uses its own
// TCP connection.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
	log         *zap.SugaredLogger
}

// New creates a client for the host listening on addr.
func New(addr string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		addr:        addr,
		dialTimeout: timeout,
		callTimeout: timeout,
		log:         log,
	}
}

// Ping calls Host.Ping.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	var ack Ack
	if err := c.do(ctx, conn, "Host.Ping", &PingArgs{}, &ack); err != nil {
		return fmt.Errorf("host ping: %w", err)
	}
	if !ack.OK {
		return errors.New("host ping returned ok=false")
	}
	return nil
}

// Start dials the host and issues Host.Start. A dial failure is returned
// directly; anything after that arrives as a signal.
func (c *Client) Start(ctx context.Context, call host.Call) (host.Invocation, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial host: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	inv := &invocation{
		client:  c,
		ctx:     ctx,
		cancel:  cancel,
		id:      call.ExecutionID,
		signals: make(chan host.Signal, 1),
	}
	go inv.watch()
	go inv.step(conn, "Host.Start", &StartArgs{
		ExecutionID: call.ExecutionID,
		Command:     call.Command,
		Args:        call.Args,
		Context:     call.Context,
	})
	return inv, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "tcp", c.addr)
}

// do runs one call on conn and closes it.
func (c *Client) do(ctx context.Context, conn net.Conn, method string, args, reply interface{}) error {
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 && method != "Host.Start" && method != "Host.Resume" {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

type invocation struct {
	client  *Client
	ctx     context.Context
	cancel  context.CancelFunc
	id      string
	signals chan host.Signal

	mu       sync.Mutex
	waiting  bool
	finished bool
}

func (inv *invocation) Signals() <-chan host.Signal { return inv.signals }

func (inv *invocation) Cancel() { inv.cancel() }

func (inv *invocation) Resume(value string) error {
	inv.mu.Lock()
	if !inv.waiting {
		inv.mu.Unlock()
		return errors.New("invocation is not waiting for input")
	}
	inv.waiting = false
	inv.mu.Unlock()

	go func() {
		conn, err := inv.client.dial(inv.ctx)
		if err != nil {
			if inv.ctx.Err() == nil {
				inv.deliver(host.Failed("host_unreachable", err.Error()))
			}
			return
		}
		inv.step(conn, "Host.Resume", &ResumeArgs{ExecutionID: inv.id, Value: value})
	}()
	return nil
}

func (inv *invocation) step(conn net.Conn, method string, args interface{}) {
	var reply StepReply
	if err := inv.client.do(inv.ctx, conn, method, args, &reply); err != nil {
		if inv.ctx.Err() != nil {
			return
		}
		var se rpc.ServerError
		if errors.As(err, &se) {
			inv.deliver(host.Failed("host_error", string(se)))
			return
		}
		inv.deliver(host.Failed("host_unreachable", err.Error()))
		return
	}
	inv.deliver(reply.signal())
}

func (inv *invocation) deliver(sig host.Signal) {
	inv.mu.Lock()
	if sig.Kind == host.SignalNeedsInput {
		inv.waiting = true
	} else {
		inv.finished = true
	}
	inv.mu.Unlock()

	host.Send(inv.ctx, inv.signals, sig)
}

// watch tells the host to stop once the invocation context ends before the
// command finished.
func (inv *invocation) watch() {
	<-inv.ctx.Done()

	inv.mu.Lock()
	finished := inv.finished
	inv.mu.Unlock()
	if finished {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), inv.client.callTimeout)
	defer cancel()

	conn, err := inv.client.dial(ctx)
	if err == nil {
		var ack Ack
		err = inv.client.do(ctx, conn, "Host.Cancel", &CancelArgs{ExecutionID: inv.id}, &ack)
	}
	if err != nil {
		inv.client.log.Warnw("host cancel failed", "executionId", inv.id, "error", err)
	}
}
