package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = getVersion()

var rootCmd = &cobra.Command{
	Use:   "migrun",
	Short: "Apply ordered SQL migration files to a database",
	Long: `migrun applies the SQL files in a migrations directory to a database, one at
a time in filename order, and reports which succeeded and which failed.

Connection details are taken from command-line flags, then the environment,
then the project config file, and finally an interactive prompt.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	verbose  bool
	envFiles []string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files to read (earlier files win; the process environment wins over all)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
