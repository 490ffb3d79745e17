//go:build !no_scripts

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/runner"
)

// ScriptConfig holds the sandbox settings of hint scripts.
type ScriptConfig struct {
	ExecAllowlist []string      // allowed command paths
	ExecTimeout   time.Duration // timeout for each exec and for the whole script
}

// ScriptSource runs a Lua script that gathers hints, typically by parsing
// the output of allowlisted tools (ip neigh, a lease file reader). The
// script returns, or stores in the global `hosts`, a table keyed by MAC:
//
//	return {
//	  ["AA:BB:CC:DD:EE:FF"] = { name = "nas", ipv4 = { "10.0.0.5" } },
//	}
type ScriptSource struct {
	path   string
	cfg    ScriptConfig
	run    runner.Runner
	logger *slog.Logger
}

// NewScriptSource creates a source executing the script at path. The
// script is re-read on every call.
func NewScriptSource(path string, cfg ScriptConfig, run runner.Runner, logger *slog.Logger) *ScriptSource {
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 10 * time.Second
	}
	return &ScriptSource{
		path:   path,
		cfg:    cfg,
		run:    run,
		logger: logger.With("component", "discovery", "source", "script"),
	}
}

func (s *ScriptSource) HostHints(ctx context.Context) (map[string]hostdir.Hint, error) {
	code, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read hint script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSandboxLibs(L)
	L.SetContext(ctx)
	s.registerSystemModule(L)

	top := L.GetTop()
	if err := L.DoString(string(code)); err != nil {
		return nil, fmt.Errorf("hint script %s: %w", filepath.Base(s.path), err)
	}

	result := lua.LValue(lua.LNil)
	if L.GetTop() > top {
		result = L.Get(top + 1)
	}
	if result.Type() != lua.LTTable {
		result = L.GetGlobal("hosts")
	}
	tbl, ok := result.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("hint script %s: no hosts table returned", filepath.Base(s.path))
	}
	return s.tableToHints(tbl), nil
}

// openSandboxLibs opens only the base, table, string and math libraries
// and removes the base functions that load code from files or strings.
func openSandboxLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// registerSystemModule registers the `system` global table.
func (s *ScriptSource) registerSystemModule(L *lua.LState) {
	mod := L.NewTable()
	mod.RawSetString("log", L.NewFunction(s.systemLog))
	mod.RawSetString("exec", L.NewFunction(s.systemExec))
	L.SetGlobal("system", mod)
}

// system.log(level, msg)
func (s *ScriptSource) systemLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)

	switch level {
	case "debug":
		s.logger.Debug("script log", "msg", msg)
	case "warn":
		s.logger.Warn("script log", "msg", msg)
	case "error":
		s.logger.Error("script log", "msg", msg)
	default:
		s.logger.Info("script log", "msg", msg)
	}
	return 0
}

// system.exec(cmd) runs an allowlisted command and returns its stdout, or
// "" if the command is blocked or fails.
func (s *ScriptSource) systemExec(L *lua.LState) int {
	parts := strings.Fields(L.CheckString(1))
	if len(parts) == 0 {
		L.ArgError(1, "empty command")
		return 0
	}
	binary := parts[0]

	if !filepath.IsAbs(binary) {
		s.logger.Warn("exec blocked: not an absolute path", "cmd", binary)
		L.Push(lua.LString(""))
		return 1
	}
	if !slices.Contains(s.cfg.ExecAllowlist, binary) {
		s.logger.Warn("exec blocked: not in allowlist", "cmd", binary)
		L.Push(lua.LString(""))
		return 1
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.run.Run(ctx, binary, parts[1:])
	if err != nil {
		s.logger.Warn("exec failed", "cmd", binary, "err", err)
		L.Push(lua.LString(""))
		return 1
	}
	L.Push(lua.LString(res.Stdout))
	return 1
}

func (s *ScriptSource) tableToHints(tbl *lua.LTable) map[string]hostdir.Hint {
	out := make(map[string]hostdir.Hint)
	tbl.ForEach(func(k, v lua.LValue) {
		mac, ok := k.(lua.LString)
		if !ok {
			return
		}
		entry, ok := v.(*lua.LTable)
		if !ok {
			s.logger.Debug("skipping hint: value is not a table", "mac", string(mac))
			return
		}
		h := hostdir.Hint{
			Name: luaString(entry.RawGetString("name")),
			IPv4: luaStrings(entry.RawGetString("ipv4")),
			IPv6: luaStrings(entry.RawGetString("ipv6")),
		}
		out[hostdir.NormalizeMAC(string(mac))] = h
	})
	return out
}

func luaString(v lua.LValue) string {
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

// luaStrings accepts a string or an array of strings.
func luaStrings(v lua.LValue) []string {
	switch t := v.(type) {
	case lua.LString:
		return []string{string(t)}
	case *lua.LTable:
		var out []string
		for i := 1; i <= t.Len(); i++ {
			if s := luaString(t.RawGetInt(i)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
