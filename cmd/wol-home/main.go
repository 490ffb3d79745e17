// Command wol-home runs the Wake-on-LAN gateway daemon and talks to it.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"wol-go-home/internal/client"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliEnv carries the client settings shared by operator subcommands.
type cliEnv struct {
	v    *viper.Viper
	json bool
}

func (e *cliEnv) client() *client.Client {
	return client.New(e.v.GetString("server"), e.v.GetString("api-key"))
}

func newRootCmd() *cobra.Command {
	env := &cliEnv{v: viper.New()}

	root := &cobra.Command{
		Use:           "wol-home",
		Short:         "Wake-on-LAN gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `wol-home wakes hosts on the local network and keeps a list of pinned wake targets.

Run "wol-home serve" on the gateway. The other commands talk to a running
daemon; point them at it with --server or WOL_HOME_SERVER and pass the API
key with --api-key or WOL_HOME_API_KEY.`,
	}

	flags := root.PersistentFlags()
	flags.String("server", "http://127.0.0.1:8080", "daemon base URL")
	flags.String("api-key", "", "daemon API key")
	flags.BoolVar(&env.json, "json", false, "output in JSON format")

	env.v.SetEnvPrefix("WOL_HOME")
	env.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	env.v.AutomaticEnv()
	bindFlags(env.v, flags, "server", "api-key")

	root.AddCommand(
		newServeCmd(),
		newHostsCmd(env),
		newWakeCmd(env),
		newPinCmd(env),
		newUnpinCmd(env),
		newPinsCmd(env),
		newChangesCmd(env),
		newLeaseCmd(env),
		newBackendsCmd(env),
		newVersionCmd(env),
	)
	return root
}

// bindFlags lets WOL_HOME_<NAME> stand in for flags left unset.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		_ = v.BindPFlag(name, fs.Lookup(name))
	}
}
