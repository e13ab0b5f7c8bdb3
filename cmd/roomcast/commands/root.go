package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomcast/internal/config"
	"github.com/Tyrowin/roomcast/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomcast",
	Short: "Topic-scoped WebSocket rooms with retained messages",
	Long: `roomcast relays messages between WebSocket clients joined to the same
topic, keeps a live roster per topic and replays the last retained message
to every new joiner.

Configuration is read from the file given with --config and can be
overridden with environment variables such as SERVER_PORT,
ALLOWED_ORIGINS and ROOMCAST_STORAGE_TYPE.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "", "", "config file (defaults apply when omitted)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(retainedCmd)
}

// setup loads the configuration and builds the root logger, which also
// becomes slog's default.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func printSuccess(format string, args ...any) {
	fmt.Println(color.GreenString(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Println(color.CyanString(format, args...))
}
