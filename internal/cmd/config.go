package cmd

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/qm4/kbchat/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage default config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print current config as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		masked := *globalCfg
		masked.Headers = maps.Clone(globalCfg.Headers)
		for k, v := range masked.Headers {
			if isSecretHeader(k) {
				masked.Headers[k] = maskSecret(v)
			}
		}

		out, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long: `Set a config value and save the config file.

Keys: base_url, api_prefix, transport, dial_timeout_seconds, verbose,
log_format, stream.emit_trailing_frame, chat.enable_rag, headers.<Name>.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])
		value := args[1]

		// Edit the file alone; flag and KBCHAT_* overrides stay out of it.
		fileCfg, err := cfgpkg.ReadFile(cfgpkg.FilePath())
		if err != nil {
			return err
		}
		if err := fileCfg.Set(key, value); err != nil {
			return err
		}
		if err := cfgpkg.Save(fileCfg); err != nil {
			return err
		}

		if strings.HasPrefix(key, "headers.") && isSecretHeader(strings.TrimPrefix(key, "headers.")) {
			value = maskSecret(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "set %s=%s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cfgpkg.FilePath())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func isSecretHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "cookie", "x-api-key":
		return true
	}
	return false
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}
