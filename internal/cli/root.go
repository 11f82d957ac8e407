// Package cli provides the qb command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/syssam/qb/config"
)

// Version is set at build time.
var Version = "0.1.0"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "qb",
		Short: "qb - SQL query builder",
		Long: `qb compiles builder queries into SQL and runs them against a database
or an in-memory simulation loaded from fixtures.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./"+config.FileName+")")
	flags.String("dialect", "", "SQL dialect (sqlite|mysql|postgres|mssql|oracle)")
	flags.String("driver", "", "database/sql driver name")
	flags.String("dsn", "", "data source name")
	flags.String("log.level", "", "log level (debug|info|warn|error)")
	flags.String("log.format", "", "log format (text|json)")

	_ = root.RegisterFlagCompletionFunc("dialect", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite", "mysql", "postgres", "mssql", "oracle"}, cobra.ShellCompDirectiveNoFileComp
	})

	load := func(cmd *cobra.Command) (*config.File, error) {
		return config.LoadWithFlags(cfgFile, cmd.Root().PersistentFlags())
	}
	root.AddCommand(newSQLCommand(load))
	root.AddCommand(newRunCommand(load))
	return root
}
