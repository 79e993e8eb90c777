// Package cli holds the chatlet terminal client commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Medal-OF-Owner/Chatlet/internal/config"
	"github.com/Medal-OF-Owner/Chatlet/internal/logging"
	"github.com/Medal-OF-Owner/Chatlet/internal/ui"
	"github.com/Medal-OF-Owner/Chatlet/internal/version"
)

var (
	flagServer   string
	flagToken    string
	flagLogFile  string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatlet",
	Short: "Terminal client for chatlet rooms with peer-to-peer calls",
	Long: `chatlet joins chat rooms from the terminal. Everyone in a room is linked
directly over WebRTC, so media streams flow peer to peer while the server
only relays chat and signaling.`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "chat server URL (env CHATLET_SERVER)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "account session token (env CHATLET_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write logs to this file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// initLogging keeps logs off the terminal, which the chat screen owns,
// unless a log file is given.
func initLogging() error {
	level := logging.ParseLevel(firstNonEmpty(flagLogLevel, os.Getenv("LOG_LEVEL")), zerolog.ErrorLevel)

	var w io.Writer = io.Discard
	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	logging.Init(level, w, false)
	return nil
}

// LoadConfig loads the client config and checks option combinations.
func LoadConfig(opts config.Options) (*config.Config, error) {
	opts.Server = firstNonEmpty(opts.Server, flagServer)
	opts.Token = firstNonEmpty(opts.Token, flagToken)

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
