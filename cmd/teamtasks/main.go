package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "teamtasks",
	Short:         "Team task tracker with an AI assistant",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", colorDefault(), "disable colored output")
	rootCmd.PersistentFlags().String("token", "", "bearer token for API commands (default $TEAMTASKS_TOKEN)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(promptsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// bearerToken returns the --token flag, falling back to $TEAMTASKS_TOKEN.
func bearerToken(cmd *cobra.Command) (string, error) {
	tok, _ := cmd.Flags().GetString("token")
	if tok == "" {
		tok = os.Getenv("TEAMTASKS_TOKEN")
	}
	if tok == "" {
		return "", fmt.Errorf("no bearer token: pass --token or set TEAMTASKS_TOKEN (mint one with `teamtasks token`)")
	}
	return tok, nil
}
