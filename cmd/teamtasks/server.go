package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teamtasks/teamtasks/internal/api"
	"github.com/teamtasks/teamtasks/internal/chat"
	"github.com/teamtasks/teamtasks/internal/config"
	"github.com/teamtasks/teamtasks/internal/identity"
	"github.com/teamtasks/teamtasks/internal/llm"
	"github.com/teamtasks/teamtasks/internal/notify"
	"github.com/teamtasks/teamtasks/internal/storage"
	"github.com/teamtasks/teamtasks/internal/tasks"
	"github.com/teamtasks/teamtasks/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the teamtasks server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running teamtasks server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show teamtasks system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the task tools over MCP (stdio transport)",
	Long: `Serve listTasks, addTask and updateTask to an MCP client over stdio.

Every tool call acts on behalf of the user given with --user.

Example:
  teamtasks mcp --user alice@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if strings.TrimSpace(user) == "" {
			return fmt.Errorf("--user is required")
		}
		return runMCP(user)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token signed with the configured JWT secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		id, _ := cmd.Flags().GetString("id")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if email == "" && id == "" {
			return fmt.Errorf("one of --email or --id is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireJWTSecret(); err != nil {
			return err
		}
		if ttl == 0 {
			ttl = cfg.TokenTTL()
		}

		tok, err := identity.NewVerifier(cfg.Auth.JWTSecret).Issue(identity.Identity{ID: id, Email: email, Role: role}, ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	mcpCmd.Flags().String("user", "", "user key (email or id) the tools act for")
	tokenCmd.Flags().String("email", "", "user email")
	tokenCmd.Flags().String("id", "", "user id, used when no email is given")
	tokenCmd.Flags().String("role", "", "user role, e.g. admin")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "teamtasks.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "teamtasks version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.OpenAI.APIKey == "" {
		slog.Warn("OpenAI API key not configured; chat requests will fail until OPENAI_API_KEY is set")
	}

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("teamtasks is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("teamtasks is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	hub := notify.NewHub(cfg.PingInterval())
	mgr := tasks.NewManager(store, hub)
	registry := tools.New(mgr)
	model := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAITimeout())
	orchestrator := chat.New(store, store, model, registry, chat.Config{
		Model:        cfg.OpenAI.Model,
		Temperature:  cfg.OpenAI.Temperature,
		PromptSource: cfg.Chat.PromptSource,
		PromptName:   cfg.Chat.PromptName,
		ToolsEnabled: cfg.Chat.ToolsEnabled,
	})
	verifier := identity.NewVerifier(cfg.Auth.JWTSecret)

	handler := api.NewHandler(api.Deps{
		Tasks:    mgr,
		Chat:     orchestrator,
		Chats:    store,
		Prompts:  store,
		Verifier: verifier,
		Live:     hub.Handler(verifier),
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "teamtasks listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMCP(user string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	s := api.NewMCPServer(api.MCPDeps{
		Tools: tools.New(tasks.NewManager(store, nil)),
		User:  user,
	})
	slog.Info("MCP server started (stdio transport)", "user", user)

	if err := server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("teamtasks is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop teamtasks (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to teamtasks (PID %d)", pid)
	return nil
}

func showStatus(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(serverURL(cfg) + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s:%d", cfg.Server.Host, cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.OpenAI.Model)
	if cfg.OpenAI.APIKey == "" {
		printStatus("OpenAI key", "%s", colorize(colorYellow, "not set"))
	} else {
		printStatus("OpenAI key", "set")
	}
	printStatus("Prompt", "%s (%s)", cfg.Chat.PromptSource, cfg.Chat.PromptName)

	// Task counts need a bearer token; skip them quietly without one.
	if token, tokErr := bearerToken(cmd); tokErr == nil && running {
		ac := &apiClient{baseURL: serverURL(cfg), token: token, httpClient: client}
		if summary := taskSummary(cmd.Context(), ac); summary != "" {
			printStatus("Tasks", "%s", summary)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countItems(ctx context.Context, c *apiClient, path string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return 0, err
	}
	var items []json.RawMessage
	if err := decodeJSON(resp, &items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// taskSummary reports exact per-status counts, e.g. "3 active, 1 completed".
// Views that fail to load are left out.
func taskSummary(ctx context.Context, c *apiClient) string {
	var parts []string
	for _, view := range []struct{ label, path string }{
		{"active", "/api/tasks"},
		{"completed", "/api/tasks/completed"},
		{"deleted", "/api/tasks/deleted"},
	} {
		n, err := countItems(ctx, c, view.path)
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, view.label))
	}
	return strings.Join(parts, ", ")
}
