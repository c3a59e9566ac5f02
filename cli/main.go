// Package main provides bridgectl, a small client for the bridge HTTP API and
// its observer WebSocket.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "bridgectl",
		Usage: "talk to a running bridge",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://localhost:8080", EnvVars: []string{"BRIDGE_ADDR"}, Usage: "Base URL of the bridge."},
			&cli.StringFlag{Name: "secret", EnvVars: []string{"BRIDGE_SHARED_SECRET"}, Usage: "Shared secret sent as a bearer token."},
		},
		Commands: []*cli.Command{
			{
				Name:      "exec",
				Usage:     "run a command and print its result",
				ArgsUsage: "<command> [arg...]",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "timeout", Usage: "Per-call timeout. 0 uses the bridge default."},
					&cli.StringFlag{Name: "context", Usage: "Opaque context passed to the host."},
				},
				Action: execCommand,
			},
			{
				Name:      "answer",
				Usage:     "answer a pending input request",
				ArgsUsage: "<execution-id> <value>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "One of [text,secret,confirm,number]. Empty uses the kind the prompt asked for."},
				},
				Action: answerCommand,
			},
			{
				Name:      "cancel",
				Usage:     "cancel an execution",
				ArgsUsage: "<execution-id>",
				Action:    cancelCommand,
			},
			{
				Name:   "health",
				Usage:  "print the host health report",
				Action: getCommand("/v1/health"),
			},
			{
				Name:   "executions",
				Usage:  "list active and recently finished executions",
				Action: getCommand("/v1/executions"),
			},
			{
				Name:   "inputs",
				Usage:  "list pending input requests",
				Action: getCommand("/v1/inputs"),
			},
			{
				Name:   "watch",
				Usage:  "stream lifecycle events and answer input requests from stdin",
				Action: watchCommand,
			},
		},
	}
}

func execCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.ShowSubcommandHelp(c)
	}
	req := domain.ExecuteRequest{
		Command:   c.Args().First(),
		Args:      parseArgs(c.Args().Tail()),
		TimeoutMs: c.Duration("timeout").Milliseconds(),
	}
	if c.IsSet("context") {
		s := c.String("context")
		req.Context = &s
	}
	return call(c, http.MethodPost, "/v1/execute", req)
}

func answerCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.ShowSubcommandHelp(c)
	}
	return call(c, http.MethodPost, "/v1/input", domain.SubmitInputRequest{
		ExecutionID: c.Args().Get(0),
		Value:       c.Args().Get(1),
		Kind:        c.String("kind"),
	})
}

func cancelCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	return call(c, http.MethodPost, "/v1/executions/"+url.PathEscape(c.Args().First())+"/cancel", nil)
}

func getCommand(path string) cli.ActionFunc {
	return func(c *cli.Context) error {
		return call(c, http.MethodGet, path, nil)
	}
}

// parseArgs keeps arguments that are valid JSON and quotes the rest.
func parseArgs(raw []string) []json.RawMessage {
	args := make([]json.RawMessage, 0, len(raw))
	for _, a := range raw {
		if json.Valid([]byte(a)) {
			args = append(args, json.RawMessage(a))
			continue
		}
		b, _ := json.Marshal(a)
		args = append(args, b)
	}
	return args
}

func call(c *cli.Context, method, path string, body interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(c.Context, method, strings.TrimRight(c.String("addr"), "/")+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := c.String("secret"); secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	printJSON(data)

	if resp.StatusCode >= 300 {
		return cli.Exit(fmt.Sprintf("bridge returned %d", resp.StatusCode), 1)
	}
	return nil
}

func printJSON(data []byte) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(out.String())
}

// Client is an observer connection.
type Client struct {
	conn    *websocket.Conn
	prompts chan protocol.ExecutionNeedsInputMessage
	done    chan struct{}
}

// NewClient connects to the observer endpoint.
func NewClient(addr, secret string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(addr, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if secret != "" {
		header.Set("Authorization", "Bearer "+secret)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn:    conn,
		prompts: make(chan protocol.ExecutionNeedsInputMessage, 16),
		done:    make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ReadMessages prints every message and queues input requests for the
// prompt loop. It returns when the connection closes.
func (c *Client) ReadMessages() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			}
			return
		}

		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			fmt.Fprintf(os.Stderr, "unmarshal error: %v\n", err)
			continue
		}

		fmt.Printf("\n[%s] %s\n", time.UnixMilli(base.Ts).Format(time.TimeOnly), base.Type)
		printJSON(data)

		if base.Type == protocol.TypeExecutionNeedsInput {
			var msg protocol.ExecutionNeedsInputMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				select {
				case c.prompts <- msg:
				default:
					fmt.Fprintf(os.Stderr, "too many queued prompts, skipping %s\n", msg.ExecutionID)
				}
			}
		}
	}
}

// Answer sends an input submission for a pending request.
func (c *Client) Answer(executionID, value string, kind domain.InputKind) error {
	return c.conn.WriteJSON(protocol.InputSubmissionMessage{
		BaseMessage: protocol.BaseMessage{
			Type:        protocol.TypeInputSubmission,
			Ts:          time.Now().UnixMilli(),
			RequestID:   fmt.Sprintf("req_%d", time.Now().UnixNano()),
			ExecutionID: executionID,
		},
		Value: value,
		Kind:  string(kind),
	})
}

func watchCommand(c *cli.Context) error {
	client, err := NewClient(c.String("addr"), c.String("secret"))
	if err != nil {
		return err
	}
	defer client.Close()

	go client.ReadMessages()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-c.Context.Done():
			return nil
		case <-client.done:
			return nil
		case msg := <-client.prompts:
			fmt.Printf("%s asks (%s): %s\n> ", msg.ExecutionID, msg.Kind, msg.Prompt)
			var answer string
			select {
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				answer = line
			case <-client.done:
				return nil
			}
			if err := client.Answer(msg.ExecutionID, answer, msg.Kind); err != nil {
				return fmt.Errorf("send answer: %w", err)
			}
		}
	}
}
