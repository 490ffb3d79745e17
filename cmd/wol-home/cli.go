package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"wol-go-home/internal/client"
	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/pinning"
	"wol-go-home/internal/wake"
)

const requestTimeout = 30 * time.Second

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func newHostsCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List pinned, static and discovered hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			dir, err := env.client().Hosts(ctx)
			if err != nil {
				return fmt.Errorf("couldn't list hosts: %w", err)
			}
			out := cmd.OutOrStdout()
			if env.json {
				return writeJSONOut(out, dir)
			}
			printSection(out, "Pinned", dir.Pinned)
			printSection(out, "Static leases", dir.Static)
			printSection(out, "Discovered", dir.Discovered)
			return nil
		},
	}
}

func printSection(w io.Writer, title string, rows []hostdir.HostRecord) {
	fmt.Fprintln(w, headerStyle.Render(title))
	if len(rows) == 0 {
		fmt.Fprintln(w, cellStyle.Render("(none)"))
		return
	}
	t := newTable("NAME", "MAC", "IP", "SOURCES")
	for _, h := range rows {
		sources := make([]string, len(h.Origins))
		for i, o := range h.Origins {
			sources[i] = o.String()
		}
		t.Row(h.Name, h.MAC, h.IP, strings.Join(sources, ","))
	}
	fmt.Fprintln(w, t.String())
}

func newWakeCmd(env *cliEnv) *cobra.Command {
	var form wake.Form
	var broadcast bool
	cmd := &cobra.Command{
		Use:   "wake <mac>",
		Short: "Send a wake packet",
		Long: `Send a wake packet to a host.

Without options the daemon's configured utility, interface and broadcast
setting are used. Examples:
  wol-home wake AA:BB:CC:DD:EE:FF
  wol-home wake aa-bb-cc-dd-ee-ff --executable etherwake --interface br-lan --broadcast`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			c := env.client()
			var out *wake.Outcome
			var err error
			if form.Executable == "" && form.Interface == "" && !cmd.Flags().Changed("broadcast") {
				out, err = c.WakeHost(ctx, args[0])
			} else {
				form.MAC = args[0]
				if cmd.Flags().Changed("broadcast") {
					form.Broadcast = &broadcast
				}
				out, err = c.Wake(ctx, form)
			}
			if err != nil {
				return fmt.Errorf("couldn't wake host: %w", err)
			}
			if env.json {
				return writeJSONOut(cmd.OutOrStdout(), out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(out.Message))
			return nil
		},
	}
	cmd.Flags().StringVar(&form.Executable, "executable", "", "wake utility: etherwake or wol")
	cmd.Flags().StringVar(&form.Interface, "interface", "", "network interface (etherwake only)")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "send to the broadcast address (etherwake only)")
	return cmd
}

func printPinResult(cmd *cobra.Command, env *cliEnv, res *pinning.Result) error {
	if env.json {
		return writeJSONOut(cmd.OutOrStdout(), res)
	}
	style := okStyle
	if res.Outcome != pinning.OutcomeDone {
		style = warnStyle
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (run %s, %d polls)\n", style.Render(string(res.Outcome)), res.RunID, res.PollAttempts)
	return nil
}

func newPinCmd(env *cliEnv) *cobra.Command {
	var ip string
	cmd := &cobra.Command{
		Use:   "pin <mac> <name>",
		Short: "Pin a host as a wake target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			res, err := env.client().Pin(ctx, pinning.PinRequest{MAC: args[0], Name: args[1], IP: ip})
			if err != nil {
				return fmt.Errorf("couldn't pin host: %w", err)
			}
			return printPinResult(cmd, env, res)
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "optional IP address")
	return cmd
}

func newUnpinCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <mac>",
		Short: "Remove a pinned wake target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			res, err := env.client().Unpin(ctx, args[0])
			if err != nil {
				return fmt.Errorf("couldn't unpin host: %w", err)
			}
			return printPinResult(cmd, env, res)
		},
	}
}

func newPinsCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pins",
		Short: "Manage the pinned host list",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <file.yaml|->",
		Short: "Replace all pinned hosts",
		Long: `Replace the whole pinned host list in one step. The file is a YAML list:

  - name: nas
    mac: AA:BB:CC:DD:EE:01
    ip: 10.0.0.2
  - name: desktop
    mac: AA:BB:CC:DD:EE:02

If any row is invalid nothing is changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readRows(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			res, err := env.client().ReplacePins(ctx, rows)
			if err != nil {
				return fmt.Errorf("couldn't save pinned hosts: %w", err)
			}
			return printPinResult(cmd, env, res)
		},
	})
	return cmd
}

func readRows(cmd *cobra.Command, path string) ([]pinning.Row, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	var rows []pinning.Row
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse rows: %w", err)
	}
	return rows, nil
}

func newChangesCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List staged configuration changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			changes, err := env.client().Changes(ctx)
			if err != nil {
				return fmt.Errorf("couldn't list changes: %w", err)
			}
			out := cmd.OutOrStdout()
			if env.json {
				return writeJSONOut(out, changes)
			}
			configs := make([]string, 0, len(changes))
			for config := range changes {
				configs = append(configs, config)
			}
			sort.Strings(configs)
			t := newTable("CONFIG", "OP", "SECTION", "FIELD", "VALUES")
			n := 0
			for _, config := range configs {
				for _, ch := range changes[config] {
					field := ch.Field
					if ch.Op == "add" {
						field = ch.Type
					}
					t.Row(config, string(ch.Op), ch.Section, field, strings.Join(ch.Values, " "))
					n++
				}
			}
			if n == 0 {
				fmt.Fprintln(out, "No pending changes")
				return nil
			}
			fmt.Fprintln(out, t.String())
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Apply all staged changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := env.client().ApplyChanges(ctx); err != nil {
				return fmt.Errorf("couldn't apply changes: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("applying"))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revert <config>",
		Short: "Discard staged changes of one config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := env.client().RevertChanges(ctx, args[0]); err != nil {
				return fmt.Errorf("couldn't revert changes: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("reverted "+args[0]))
			return nil
		},
	})
	return cmd
}

func newLeaseCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Manage static DHCP leases",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <ip> <mac>...",
		Short: "Stage a static lease",
		Long: `Stage a static lease. The lease is saved but not applied; run
"wol-home changes apply" to apply it. While it is pending, pin edits are refused.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			lease := client.Lease{Name: args[0], IP: args[1], MACs: args[2:]}
			if err := env.client().AddLease(ctx, lease); err != nil {
				return fmt.Errorf("couldn't stage lease: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("staged "+lease.Name+", run \"wol-home changes apply\" to apply"))
			return nil
		},
	})
	return cmd
}

func newBackendsCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show installed wake utilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			b, err := env.client().Backends(ctx)
			if err != nil {
				return fmt.Errorf("couldn't query backends: %w", err)
			}
			out := cmd.OutOrStdout()
			if env.json {
				return writeJSONOut(out, b)
			}
			t := newTable("UTILITY", "PATH", "INSTALLED")
			t.Row(string(wake.KindEtherwake), b.Availability.EtherwakePath, fmt.Sprint(b.Availability.Etherwake))
			t.Row(string(wake.KindWol), b.Availability.WolPath, fmt.Sprint(b.Availability.Wol))
			fmt.Fprintln(out, t.String())
			if b.Selected != nil {
				fmt.Fprintln(out, okStyle.Render("default: "+string(b.Selected.Kind)))
			} else if b.Error != "" {
				fmt.Fprintln(out, warnStyle.Render(b.Error))
			}
			return nil
		},
	}
}

func newVersionCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client: %s\n", version)
			ctx, cancel := requestContext(cmd)
			defer cancel()
			server, err := env.client().Version(ctx)
			if err != nil {
				fmt.Fprintln(out, warnStyle.Render("daemon: unreachable ("+err.Error()+")"))
				return nil
			}
			fmt.Fprintf(out, "daemon: %s\n", server)
			return nil
		},
	}
}
