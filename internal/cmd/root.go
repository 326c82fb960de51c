package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/qm4/kbchat/internal/config"
	"github.com/qm4/kbchat/internal/httpclient"
	"github.com/qm4/kbchat/internal/logger"
	"github.com/qm4/kbchat/internal/stream"
)

var (
	globalCfg   *config.Config
	log         *slog.Logger
	flagVerbose bool
	flagBaseURL string
)

var rootCmd = &cobra.Command{
	Use:   "kbchat",
	Short: "Stream answers from a knowledge-base chat server",
	Long: `kbchat sends a question to a knowledge-base chat server and prints
the answer as it streams back over Server-Sent Events.

Usage:
  kbchat ask "your question"
  kbchat ask -s 12 "follow up"
  kbchat stream /chat/12/send/stream '{"message":"hi"}'
  kbchat config set base_url https://kb.example.com

Settings are read from the config file, a .env file in the working
directory and KBCHAT_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if flagVerbose {
			cfg.Verbose = true
		}
		if flagBaseURL != "" {
			cfg.BaseURL = flagBaseURL
		}
		globalCfg = cfg
		log = logger.New(
			logger.WithWriter(cmd.ErrOrStderr()),
			logger.WithFormat(cfg.LogFormat),
			logger.WithDebug(cfg.Verbose),
		)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "Server base URL (overrides config)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newStreamClient builds a stream client from the loaded config.
func newStreamClient() (*stream.Client, error) {
	if err := globalCfg.Validate(); err != nil {
		return nil, err
	}

	hc, err := httpclient.New(httpclient.Config{
		Transport:   globalCfg.Transport,
		DialTimeout: globalCfg.DialTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("building http client: %w", err)
	}

	return stream.New(globalCfg.BaseURL,
		stream.WithHTTPClient(hc),
		stream.WithAPIPrefix(globalCfg.APIPrefix),
		stream.WithHeaders(globalCfg.Headers),
		stream.WithLogger(log),
		stream.WithTrailingFrame(globalCfg.Stream.EmitTrailingFrame),
	), nil
}
