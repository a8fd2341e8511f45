// Command archi is the always-on personal agent: a chat surface over a
// local model with paid-API escalation, a goal queue worked off while
// the user is away, and a small HTTP dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"archi/internal/config"
	"archi/internal/logging"
)

var version = "0.3.0"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "archi",
		Short:         "Archi is an always-on personal agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file path (default: <data-dir>/archi.yaml)")
	root.PersistentFlags().String("data-dir", "", "state directory (default: ~/.archi)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("data_dir", root.PersistentFlags().Lookup("data-dir"))
	viper.SetEnvPrefix("ARCHI")
	viper.AutomaticEnv()

	root.AddCommand(newRunCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newGoalsCmd())
	root.AddCommand(newBudgetCmd())
	root.AddCommand(newServeCmd())
	return root
}

// loadConfig applies the global flags on top of the layered loader.
func loadConfig() config.Config {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithPath(path))
	}
	opts = append(opts, config.WithLogger(logging.NewComponentLogger("Config")))
	cfg := config.Load(opts...)
	if dir := viper.GetString("data_dir"); dir != "" {
		cfg.DataDir = config.ExpandHome(dir)
	}
	return cfg
}
