// Package luahost runs commands as sandboxed Lua scripts inside the bridge
// process.
package luahost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/host"
)

var commandName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// maxResultDepth bounds table nesting in a script result.
const maxResultDepth = 64

var errResultShape = errors.New("cyclic or too deeply nested result")

// Host loads <command>.lua from its script directory for every call.
type Host struct {
	dir string
	log *zap.SugaredLogger
}

// New creates a Lua host serving scripts from dir.
func New(dir string, log *zap.SugaredLogger) *Host {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Host{dir: dir, log: log}
}

// Ping checks that the script directory is readable.
func (h *Host) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fi, err := os.Stat(h.dir)
	if err != nil {
		return fmt.Errorf("script dir: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("script dir %s is not a directory", h.dir)
	}
	return nil
}

// Start loads the script for call.Command and runs it on its own goroutine.
func (h *Host) Start(ctx context.Context, call host.Call) (host.Invocation, error) {
	if !commandName.MatchString(call.Command) {
		return nil, fmt.Errorf("%w: %q", host.ErrUnknownCommand, call.Command)
	}
	script, err := os.ReadFile(filepath.Join(h.dir, call.Command+".lua"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", host.ErrUnknownCommand, call.Command)
		}
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	inv := &invocation{
		ctx:     ctx,
		cancel:  cancel,
		call:    call,
		signals: make(chan host.Signal, 1),
		resume:  make(chan string, 1),
		log:     h.log.With("executionId", call.ExecutionID, "command", call.Command),
	}
	go inv.run(string(script))
	return inv, nil
}

type invocation struct {
	ctx     context.Context
	cancel  context.CancelFunc
	call    host.Call
	signals chan host.Signal
	resume  chan string
	log     *zap.SugaredLogger

	mu      sync.Mutex
	waiting bool
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

	select {
	case inv.resume <- value:
		return nil
	case <-inv.ctx.Done():
		return inv.ctx.Err()
	}
}

func (inv *invocation) run(script string) {
	defer inv.cancel()

	sig, ok := inv.execute(script)
	if !ok {
		return
	}
	host.Send(inv.ctx, inv.signals, sig)
}

func (inv *invocation) execute(script string) (host.Signal, bool) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSafeLibs(L)
	inv.registerAPI(L)
	L.SetContext(inv.ctx)

	if err := L.DoString(script); err != nil {
		return host.Failed("script_error", err.Error()), true
	}
	fn := L.GetGlobal("run")
	if fn.Type() != lua.LTFunction {
		return host.Failed("script_error", "script must define a 'run' function"), true
	}

	args := L.NewTable()
	for _, raw := range inv.call.Args {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return host.Failed("invalid_args", err.Error()), true
		}
		args.Append(goToLua(L, v))
	}
	var cctx lua.LValue = lua.LNil
	if inv.call.Context != "" {
		cctx = lua.LString(inv.call.Context)
	}

	L.Push(fn)
	L.Push(args)
	L.Push(cctx)
	if err := L.PCall(2, 1, nil); err != nil {
		if f := failureOf(err); f != nil {
			return host.Failed(f.Kind, f.Message), true
		}
		if inv.ctx.Err() != nil {
			return host.Signal{}, false
		}
		return host.Failed("runtime_error", err.Error()), true
	}

	value, err := luaToGo(L.Get(-1), nil, 0)
	if err != nil {
		return host.Failed("result_error", err.Error()), true
	}
	result, err := json.Marshal(value)
	if err != nil {
		return host.Failed("result_error", err.Error()), true
	}
	return host.Completed(result), true
}

// openSafeLibs loads base, table, string and math without file loading,
// print or randomness.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // use log()

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (inv *invocation) registerAPI(L *lua.LState) {
	L.SetGlobal("input", L.NewFunction(inv.luaInput))
	L.SetGlobal("sleep", L.NewFunction(inv.luaSleep))
	L.SetGlobal("log", L.NewFunction(inv.luaLog))
	L.SetGlobal("fail", L.NewFunction(inv.luaFail))
}

// luaInput implements input(prompt, kind?)
func (inv *invocation) luaInput(L *lua.LState) int {
	prompt := L.CheckString(1)
	kind, ok := domain.ParseInputKind(L.OptString(2, ""))
	if !ok {
		L.ArgError(2, "unknown input kind")
		return 0
	}

	inv.mu.Lock()
	inv.waiting = true
	inv.mu.Unlock()

	if !host.Send(inv.ctx, inv.signals, host.NeedsInput(prompt, kind)) {
		L.RaiseError("cancelled")
		return 0
	}
	select {
	case v := <-inv.resume:
		L.Push(lua.LString(v))
		return 1
	case <-inv.ctx.Done():
		L.RaiseError("cancelled")
		return 0
	}
}

// luaSleep implements sleep(ms)
func (inv *invocation) luaSleep(L *lua.LState) int {
	ms := L.CheckInt64(1)
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-inv.ctx.Done():
		L.RaiseError("cancelled")
	}
	return 0
}

// luaLog implements log(message)
func (inv *invocation) luaLog(L *lua.LState) int {
	inv.log.Infow("script log", "message", L.CheckString(1))
	return 0
}

// luaFail implements fail(kind, message). The failure travels as the error
// value itself, so a script that catches it with pcall leaves no trace.
func (inv *invocation) luaFail(L *lua.LState) int {
	ud := L.NewUserData()
	ud.Value = &host.Failure{Kind: L.CheckString(1), Message: L.OptString(2, "")}
	L.Error(ud, 0)
	return 0
}

// failureOf returns the host failure raised by fail(), if err carries one.
func failureOf(err error) *host.Failure {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return nil
	}
	ud, ok := apiErr.Object.(*lua.LUserData)
	if !ok {
		return nil
	}
	f, _ := ud.Value.(*host.Failure)
	return f
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a script result. parents holds the tables on the current
// path; a table that contains one of its ancestors is rejected.
func luaToGo(v lua.LValue, parents []*lua.LTable, depth int) (any, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		return float64(val), nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		if depth >= maxResultDepth {
			return nil, errResultShape
		}
		for _, p := range parents {
			if p == val {
				return nil, errResultShape
			}
		}
		parents = append(parents, val)

		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				item, err := luaToGo(val.RawGetInt(i), parents, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, item)
			}
			return out, nil
		}
		out := make(map[string]any)
		var err error
		val.ForEach(func(k, item lua.LValue) {
			if err != nil {
				return
			}
			out[k.String()], err = luaToGo(item, parents, depth+1)
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return v.String(), nil
	}
}
