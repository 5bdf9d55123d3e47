package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teamtasks/teamtasks/internal/config"
)

// --- tasks ---

type taskView struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Status  string  `json:"status"`
	DueDate *string `json:"dueDate"`
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and manage your tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		asJSON, _ := cmd.Flags().GetBool("json")
		path, err := taskListPath(status)
		if err != nil {
			return err
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var raw json.RawMessage
		if err := decodeJSON(resp, &raw); err != nil {
			return err
		}
		if asJSON {
			return printJSON(raw)
		}

		var ts []taskView
		if err := json.Unmarshal(raw, &ts); err != nil {
			return fmt.Errorf("decoding tasks: %w", err)
		}
		if len(ts) == 0 {
			fmt.Printf("No %s tasks.\n", status)
			return nil
		}
		for _, t := range ts {
			fmt.Println(formatTaskLine(t))
		}
		return nil
	},
}

func taskListPath(status string) (string, error) {
	switch status {
	case "", "active":
		return "/api/tasks", nil
	case "completed", "deleted":
		return "/api/tasks/" + status, nil
	}
	return "", fmt.Errorf("unknown status %q: want active, completed or deleted", status)
}

func formatTaskLine(t taskView) string {
	due := ""
	if t.DueDate != nil && *t.DueDate != "" {
		due = "  due " + *t.DueDate
	}
	return fmt.Sprintf("%s  %s%s", colorize(colorCyan, shortID(t.ID)), t.Title, due)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create an active task",
	Long: `Create an active task.

Examples:
  teamtasks tasks add "Buy milk"
  teamtasks tasks add "Ship release" --due 2026-11-01 --notes "after QA"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"title": strings.Join(args, " ")}
		for _, f := range []string{"description", "notes"} {
			if v, _ := cmd.Flags().GetString(f); v != "" {
				body[f] = v
			}
		}
		if due, _ := cmd.Flags().GetString("due"); due != "" {
			body["dueDate"] = due
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/tasks", body)
		if err != nil {
			return err
		}

		var t taskView
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Created task %s", t.ID)
		return nil
	},
}

var tasksUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update task fields and append a changelog entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := updateBody(cmd)
		if len(body) == 0 {
			return fmt.Errorf("nothing to update: pass at least one of --title, --description, --due, --notes or --message")
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/api/tasks/"+args[0], body)
		if err != nil {
			return err
		}

		var t taskView
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Updated task %s", t.ID)
		return nil
	},
}

// updateBody includes only the flags the user actually set, so an explicit
// empty value (e.g. --due "") still clears the field.
func updateBody(cmd *cobra.Command) map[string]any {
	body := map[string]any{}
	for flag, field := range map[string]string{
		"title":       "title",
		"description": "description",
		"due":         "dueDate",
		"notes":       "notes",
		"message":     "updateText",
	} {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetString(flag)
			body[field] = v
		}
	}
	return body
}

// lifecycleCmd builds a command that moves a task through one transition.
func lifecycleCmd(use, short, method, suffix, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			resp, err := client.do(cmd.Context(), method, "/api/tasks/"+args[0]+suffix, nil)
			if err != nil {
				return err
			}
			var result any
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("%s task %s", done, args[0])
			return nil
		},
	}
}

func init() {
	tasksListCmd.Flags().String("status", "active", "task status: active, completed or deleted")
	tasksListCmd.Flags().Bool("json", false, "print the full task records as JSON")

	for _, c := range []*cobra.Command{tasksAddCmd, tasksUpdateCmd} {
		c.Flags().String("description", "", "task description")
		c.Flags().String("due", "", "due date (YYYY-MM-DD or RFC 3339)")
		c.Flags().String("notes", "", "free-form notes")
	}
	tasksUpdateCmd.Flags().String("title", "", "new title")
	tasksUpdateCmd.Flags().StringP("message", "m", "", "changelog entry to append")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksUpdateCmd)
	tasksCmd.AddCommand(lifecycleCmd("complete", "Mark an active task completed", "PATCH", "/complete", "Completed"))
	tasksCmd.AddCommand(lifecycleCmd("delete", "Soft-delete a task", "DELETE", "", "Deleted"))
	tasksCmd.AddCommand(lifecycleCmd("restore", "Restore a deleted task to active", "PATCH", "/restore", "Restored"))
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask the assistant; it can list, add and update your tasks",
	Long: `Ask the assistant; it can list, add and update your tasks.

Examples:
  teamtasks chat "what is due this week?"
  teamtasks chat "add a task to buy milk tomorrow"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/chat", map[string]string{
			"inputText": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var result struct {
			Response  string `json:"response"`
			ChatID    string `json:"chatId"`
			ToolCalls []struct {
				Name   string `json:"name"`
				Result string `json:"result"`
				Failed bool   `json:"failed"`
			} `json:"toolCalls"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, tc := range result.ToolCalls {
			if tc.Failed {
				printWarning("%s: %s", tc.Name, tc.Result)
			} else if verbose {
				printStep("%s: %s", tc.Name, tc.Result)
			} else {
				printStep("%s", tc.Name)
			}
		}
		fmt.Println(result.Response)
		return nil
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Browse chat history",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/ai-chats?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var chats []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"createdAt"`
			InputText string `json:"inputText"`
		}
		if err := decodeJSON(resp, &chats); err != nil {
			return err
		}

		if len(chats) == 0 {
			fmt.Println("No chats found.")
			return nil
		}
		for _, c := range chats {
			input := c.InputText
			if len(input) > 80 {
				input = input[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, shortID(c.ID)), c.CreatedAt, input)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().BoolP("verbose", "v", false, "print tool results")
	chatsListCmd.Flags().Int("limit", 20, "maximum number of chats to list")
	chatsListCmd.Flags().Int("offset", 0, "number of chats to skip")
	chatsCmd.AddCommand(chatsListCmd)
}

// --- prompts ---

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage stored system prompts (admin)",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/admin/prompts")
		if err != nil {
			return err
		}

		var ps []struct {
			ID         string `json:"id"`
			PromptName string `json:"promptName"`
			Status     string `json:"status"`
			CreatedAt  string `json:"createdAt"`
		}
		if err := decodeJSON(resp, &ps); err != nil {
			return err
		}
		if len(ps) == 0 {
			fmt.Println("No prompts found.")
			return nil
		}
		for _, p := range ps {
			fmt.Printf("%s  %-12s %-8s %s\n", colorize(colorCyan, shortID(p.ID)), p.PromptName, p.Status, p.CreatedAt)
		}
		return nil
	},
}

var promptsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Store a prompt; text is read from --text or --file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		status, _ := cmd.Flags().GetString("status")

		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		id, err := postPrompt(cmd.Context(), client, promptEntry{Name: args[0], Status: status, Text: text})
		if err != nil {
			return err
		}
		printSuccess("Stored prompt %s (%s)", args[0], id)
		return nil
	},
}

// promptEntry is one prompt in a YAML prompt file:
//
//	prompts:
//	  - name: AI_Tasks
//	    status: active
//	    text: |
//	      You are a helpful task assistant...
type promptEntry struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
	Text   string `yaml:"text"`
}

type promptFile struct {
	Prompts []promptEntry `yaml:"prompts"`
}

func parsePromptFile(data []byte) ([]promptEntry, error) {
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing prompt file: %w", err)
	}
	if len(f.Prompts) == 0 {
		return nil, fmt.Errorf("prompt file has no prompts")
	}
	for i, p := range f.Prompts {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("prompt %d: name is required", i+1)
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, fmt.Errorf("prompt %q: text is required", p.Name)
		}
	}
	return f.Prompts, nil
}

var promptsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Store every prompt listed in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		entries, err := parsePromptFile(data)
		if err != nil {
			return err
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		failures := 0
		for _, e := range entries {
			if _, err := postPrompt(cmd.Context(), client, e); err != nil {
				printError("Failed to store prompt %s: %v", e.Name, err)
				failures++
				continue
			}
			printStep("Stored %s", e.Name)
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d prompts failed", failures, len(entries))
		}
		printSuccess("Imported %d prompts", len(entries))
		return nil
	},
}

func postPrompt(ctx context.Context, client *apiClient, e promptEntry) (string, error) {
	resp, err := client.post(ctx, "/api/admin/prompts", map[string]string{
		"promptName": e.Name,
		"status":     e.Status,
		"text":       e.Text,
	})
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func init() {
	promptsAddCmd.Flags().String("text", "", "prompt text")
	promptsAddCmd.Flags().String("file", "", "read prompt text from a file")
	promptsAddCmd.Flags().String("status", "active", "prompt status")
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsAddCmd)
	promptsCmd.AddCommand(promptsImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		printStatus("Config file", "%s", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the secrets file",
	Long:  "Store a secret in the secrets file. Secret keys: " + strings.Join(config.SecretKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s in %s", args[0], config.SecretsFilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
