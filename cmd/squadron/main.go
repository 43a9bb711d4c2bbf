// Squadron is a supervisor/worker agent system over a local model.
//
// One binary covers every topology: an interactive chat or one-shot
// question against the single-agent tool loop, a web chat UI backed by
// the supervisor/worker topology, standalone specialist agents serving
// the peer protocol, and a network mode that routes a question across
// running specialists. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	squadron chat            Interactive chat in the terminal
//	squadron ask <question>  Ask a single question and exit
//	squadron web             Start the web chat UI
//	squadron serve <role>    Run a specialist agent (file or math)
//	squadron network <q>     Route a question across running specialists
//	squadron init [dir]      Initialize a working directory with defaults
//	squadron version         Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/squadron-agent/squadron/internal/buildinfo"
	"github.com/squadron-agent/squadron/internal/config"
	"github.com/squadron-agent/squadron/internal/llm"
	"github.com/squadron-agent/squadron/internal/loop"
	"github.com/squadron-agent/squadron/internal/memory"
	"github.com/squadron-agent/squadron/internal/peer"
	"github.com/squadron-agent/squadron/internal/supervisor"
	"github.com/squadron-agent/squadron/internal/tools"
	"github.com/squadron-agent/squadron/internal/web"
)

// singleAgentPrompt is the system prompt for the single-agent tool
// loop.
const singleAgentPrompt = "You are Squadron, a helpful assistant. Use your tools when the " +
	"user's request involves files or arithmetic; answer directly otherwise. Keep replies short."

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the squadron command. All OS-level
// dependencies are injected as parameters so run can be called
// concurrently from tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call
	// run() concurrently from tests. The argument surface is small
	// enough that manual parsing is clearer than a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var topology string  // "single" (default) or "supervisor"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-topology" && i+1 < len(args):
			topology = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-topology="):
			topology = strings.TrimPrefix(args[i], "-topology=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}
	if topology != "" && topology != "single" && topology != "supervisor" {
		return fmt.Errorf("unknown topology: %q (expected single or supervisor)", topology)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, configPath, commandTopology(command, topology))
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: squadron ask <question>")
		}
		return runAsk(ctx, stdout, configPath, commandTopology(command, topology), strings.Join(cmdArgs, " "))
	case "web":
		return runWeb(ctx, stdout, configPath, commandTopology(command, topology))
	case "serve":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: squadron serve <file|math>")
		}
		return runServe(ctx, stdout, configPath, cmdArgs[0])
	case "network":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: squadron network <question>")
		}
		return runNetwork(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Squadron - supervisor/worker agents over a local model")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: squadron [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat             Interactive chat in the terminal")
	fmt.Fprintln(w, "  ask <question>   Ask a single question and exit")
	fmt.Fprintln(w, "  web              Start the web chat UI")
	fmt.Fprintln(w, "  serve <role>     Run a specialist agent: file or math")
	fmt.Fprintln(w, "  network <q>      Route a question across running specialists")
	fmt.Fprintln(w, "  init [dir]       Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>       Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -topology <t>        Turn topology: single or supervisor")
	fmt.Fprintln(w, "                       (default: supervisor for web, single otherwise)")
	fmt.Fprintln(w, "  -o, --output fmt     Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./squadron.yaml, ~/.config/squadron/squadron.yaml, /etc/squadron/squadron.yaml")
	return nil
}

// commandTopology resolves the turn topology for a command when the
// -topology flag was not given. The web UI runs the supervisor/worker
// topology by default; terminal commands run the single-agent loop.
func commandTopology(command, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if command == "web" {
		return "supervisor"
	}
	return "single"
}

// runner drives one conversation turn; both topologies satisfy it.
type runner interface {
	Run(ctx context.Context, threadID, userText string) (string, error)
}

// buildRunner constructs the selected topology over shared
// dependencies: the conversation store, the model client, and the
// builtin tool registry.
func buildRunner(logger *slog.Logger, cfg *config.Config, topology string) (runner, *memory.Store, error) {
	store, err := memory.NewStore(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open conversation store: %w", err)
	}

	client := llm.NewOllamaClient(cfg.Model.OllamaURL, cfg.Model.Temperature)
	reg := tools.NewBuiltinRegistry(cfg.Workspace)

	if topology == "supervisor" {
		sup := supervisor.New(logger, client, cfg.Model.Name, store,
			[]*supervisor.Worker{supervisor.FileWorker(reg), supervisor.MathWorker(reg)},
			cfg.Loop.MaxSupervisorSteps)
		return sup, store, nil
	}

	var peers []loop.Peer
	var endpoints []peer.Endpoint
	for _, p := range cfg.Peers {
		peers = append(peers, loop.Peer{Name: p.Name, Capability: p.Capability})
		endpoints = append(endpoints, peer.Endpoint{Name: p.Name, URL: p.URL})
	}
	directory := peer.NewDirectory(logger, peer.NewClient(), endpoints)

	engine := loop.New(logger,
		loop.NewToolProposer(client, cfg.Model.Name, reg),
		loop.NewValidator(reg, peers),
		loop.NewExecutor(logger, reg, directory),
		store, singleAgentPrompt, cfg.Loop.MaxSteps)
	return engine, store, nil
}

// runAsk answers a single question and exits.
func runAsk(ctx context.Context, stdout io.Writer, configPath, topology, question string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	r, store, err := buildRunner(logger, cfg, topology)
	if err != nil {
		return err
	}
	defer store.Close()

	answer, err := r.Run(ctx, "cli-ask", question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, answer)
	return nil
}

// runChat is the interactive terminal chat. Each session gets a fresh
// thread id; /clear allocates another one, abandoning continuity with
// the prior history.
func runChat(ctx context.Context, stdin io.Reader, stdout io.Writer, configPath, topology string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	r, store, err := buildRunner(logger, cfg, topology)
	if err != nil {
		return err
	}
	defer store.Close()

	newThread := func() string {
		id, _ := uuid.NewV7()
		return id.String()
	}
	threadID := newThread()

	fmt.Fprintf(stdout, "Squadron %s (%s topology, config: %s)\n", buildinfo.Version, topology, cfgPath)
	fmt.Fprintln(stdout, "Type /clear for a fresh conversation, /quit to exit.")

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			threadID = newThread()
			fmt.Fprintln(stdout, "Started a fresh conversation.")
			continue
		}

		answer, err := r.Run(ctx, threadID, line)
		if err != nil {
			fmt.Fprintf(stdout, "error: %s\n", err)
			continue
		}
		fmt.Fprintln(stdout, answer)
	}
}

// runWeb starts the chat web UI and blocks until a shutdown signal.
func runWeb(ctx context.Context, stdout io.Writer, configPath, topology string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Squadron web UI",
		"version", buildinfo.Version,
		"topology", topology,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, "text")
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Web.Port)

	r, store, err := buildRunner(logger, cfg, topology)
	if err != nil {
		return err
	}
	defer store.Close()

	server := web.NewServer(logger, r, store.Stats)
	addr := fmt.Sprintf("%s:%d", cfg.Web.Address, cfg.Web.Port)
	return serveHTTP(ctx, logger, addr, server.Routes())
}

// runServe runs one standalone specialist agent.
func runServe(ctx context.Context, stdout io.Writer, configPath, role string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	var name string
	var server *peer.Server
	switch role {
	case "file":
		name = "FileAgent"
		server = peer.NewServer(logger,
			peer.FileAgentCard(peerURL(cfg, name)),
			peer.FileSpecialist(tools.NewBuiltinRegistry(cfg.Workspace)))
	case "math":
		name = "MathAgent"
		server = peer.NewServer(logger,
			peer.MathAgentCard(peerURL(cfg, name)),
			peer.MathSpecialist())
	default:
		return fmt.Errorf("unknown role: %q (expected file or math)", role)
	}

	addr, err := peerListenAddr(cfg, name)
	if err != nil {
		return err
	}

	logger.Info("starting specialist agent",
		"role", role,
		"agent", name,
		"addr", addr,
	)
	return serveHTTP(ctx, logger, addr, server.Routes())
}

// runNetwork routes one question across the configured specialist
// agents, discovering them first so an unreachable network fails fast.
func runNetwork(ctx context.Context, stdout io.Writer, configPath, question string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var peers []loop.Peer
	var endpoints []peer.Endpoint
	for _, p := range cfg.Peers {
		peers = append(peers, loop.Peer{Name: p.Name, Capability: p.Capability})
		endpoints = append(endpoints, peer.Endpoint{Name: p.Name, URL: p.URL})
	}
	directory := peer.NewDirectory(logger, peer.NewClient(), endpoints)

	cards, errs := directory.DiscoverAll(ctx)
	for name, card := range cards {
		fmt.Fprintf(stdout, "discovered %s: %s\n", name, card.Description)
	}
	for name, derr := range errs {
		fmt.Fprintf(stdout, "unreachable %s: %s\n", name, derr)
	}
	if len(cards) == 0 {
		return errors.New("no specialist agents reachable; start them with: squadron serve file / squadron serve math")
	}

	store, err := memory.NewStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer store.Close()

	client := llm.NewOllamaClient(cfg.Model.OllamaURL, cfg.Model.Temperature)
	proposer := loop.NewPeerProposer(client, cfg.Model.Name, peers)

	maxHops := cfg.Loop.MaxHops
	if maxHops <= 0 {
		maxHops = 5
	}

	engine := loop.New(logger, proposer,
		loop.NewValidator(tools.NewRegistry(), peers),
		loop.NewExecutor(logger, tools.NewRegistry(), directory),
		store, proposer.SystemPrompt(), maxHops)
	engine.SetObserver(func(ev loop.StepEvent) {
		if ev.State == loop.StateExecuting {
			fmt.Fprintf(stdout, "-> %s\n", ev.Target)
		}
	})

	answer, err := engine.Run(ctx, "cli-network", question)
	if err != nil {
		return fmt.Errorf("network: %w", err)
	}

	fmt.Fprintln(stdout, answer)
	return nil
}

// serveHTTP runs an HTTP server until ctx is cancelled or a shutdown
// signal arrives, then drains in-flight requests.
func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// peerURL returns the configured URL for a named peer, empty if not
// configured.
func peerURL(cfg *config.Config, name string) string {
	for _, p := range cfg.Peers {
		if p.Name == name {
			return p.URL
		}
	}
	return ""
}

// peerListenAddr derives the listen address for a specialist from its
// configured URL.
func peerListenAddr(cfg *config.Config, name string) (string, error) {
	raw := peerURL(cfg, name)
	if raw == "" {
		return "", fmt.Errorf("peer %q is not configured", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse peer url %q: %w", raw, err)
	}
	port := u.Port()
	if port == "" {
		return "", fmt.Errorf("peer url %q has no port", raw)
	}
	return ":" + port, nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
// Without any config file the builtin defaults apply, so the stock
// local setup works with zero configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "builtin defaults", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
