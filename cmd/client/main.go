// Command client is a line-oriented chat client. It logs in over HTTP,
// keeps one WebSocket session open through the controller, and prints
// conversations with their delivery state.
//
// Configuration comes from config.toml, then .env and CHAT_* environment
// variables:
//
//   - CHAT_WS_URL: WebSocket endpoint (default ws://localhost:8080/ws)
//   - CHAT_HTTP_URL: REST base URL (default http://localhost:8080/)
//   - CHAT_EMAIL, CHAT_PASSWORD: login credentials
//   - CHAT_LOG_LEVEL: trace|debug|info|warn|error|disabled
//   - CHAT_METRICS_ADDR: serve Prometheus metrics on this address
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		envPath    string
		email      string
		password   string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Chat from the terminal",
		Long: `Log in, connect and chat from the terminal.

Commands:
  /users            list users
  /open <user>      open the conversation with a user (id or username)
  /more             load older messages of the open conversation
  /reconnect        drop and re-open the WebSocket session
  /quit             exit
Any other line is sent to the open conversation.`,
		Example: `  # Use config.toml and .env from the working directory
  client

  # Override credentials
  client --email alice@example.com --password password`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, envPath, email, password, logLevel)
			if err != nil {
				return err
			}
			return runClient(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.toml", "Path to TOML configuration file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "Path to .env file")
	cmd.Flags().StringVar(&email, "email", "", "Login email (overrides configuration)")
	cmd.Flags().StringVar(&password, "password", "", "Login password (overrides configuration)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides configuration)")
	return cmd
}
