package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quorumlabs/votegrid/pkg/aggregate"
	"github.com/quorumlabs/votegrid/pkg/api"
	"github.com/quorumlabs/votegrid/pkg/audit"
	"github.com/quorumlabs/votegrid/pkg/authz"
	"github.com/quorumlabs/votegrid/pkg/config"
	"github.com/quorumlabs/votegrid/pkg/forward"
	"github.com/quorumlabs/votegrid/pkg/observability"
	"github.com/quorumlabs/votegrid/pkg/registry"
	"github.com/quorumlabs/votegrid/pkg/source"
	"github.com/quorumlabs/votegrid/pkg/store"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "verify-audit":
		return runVerifyAuditCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "votegrid - weighted voting power aggregator")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  votegrid <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve         Run the aggregator server (default)")
	fmt.Fprintln(w, "  health        Check server health over HTTP")
	fmt.Fprintln(w, "  verify-audit  Fetch and verify the server's audit chain")
	fmt.Fprintln(w, "  token         Issue an admin bearer token")
	fmt.Fprintln(w, "  help          Show this help")
}

func logLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// journalStore is the persistence surface the server needs: write-through
// journaling plus the startup snapshot.
type journalStore interface {
	registry.Journal
	Load(ctx context.Context) ([]registry.Record, error)
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (journalStore, error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		ps := store.NewPostgresStore(db)
		if err := ps.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Info("journal ready", "backend", "postgres")
		return ps, nil
	case cfg.SQLitePath != "":
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		ss, err := store.NewSQLiteStore(db)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		log.Info("journal ready", "backend", "sqlite", "path", cfg.SQLitePath)
		return ss, nil
	default:
		log.Warn("no journal configured, registry is memory-only")
		return nil, nil
	}
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "votegrid",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability init failed: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	points := source.NewDaemonPointSource(cfg.SourceDaemonURL)
	if err := points.Ping(ctx); err != nil {
		logger.Warn("source daemon not reachable at startup", "url", cfg.SourceDaemonURL, "error", err)
	}
	resolver := source.NewHTTPResolver(cfg.SourceDaemonURL, points)

	var auth registry.Authorizer
	if cfg.PolicyPath != "" {
		policy, err := authz.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			fmt.Fprintf(stderr, "load policy: %v\n", err)
			return 1
		}
		auth = authz.NewEngine(policy)
	} else {
		logger.Warn("no authorization policy configured, every mutation is denied")
		auth = authz.NewEngine(&authz.Policy{})
	}

	reg := registry.New(auth, points)

	journal, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if journal != nil {
		records, err := journal.Load(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "load journal snapshot: %v\n", err)
			return 1
		}
		if err := reg.Restore(records); err != nil {
			fmt.Fprintf(stderr, "restore registry: %v\n", err)
			return 1
		}
		reg.WithJournal(journal)
	}

	eng := aggregate.New(reg, resolver, points)
	if cfg.RedisAddr != "" {
		eng.WithCache(aggregate.NewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
		logger.Info("aggregation cache enabled", "redis", cfg.RedisAddr)
	}
	reg.WithProber(eng)

	gate := forward.New(eng, loggingExecutor{logger}, nil)
	trail := audit.NewLedger()
	validator := authz.NewTokenValidator([]byte(cfg.JWTSecret))
	if validator == nil {
		logger.Warn("no JWT secret configured, admin surface is unreachable")
	}

	var limiter *api.GlobalRateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	srv := api.NewServer(reg, eng, gate, trail, validator, points, limiter)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           obs.HTTPMiddleware(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
		return 0
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "server failed: %v\n", err)
			return 1
		}
		return 0
	}
}

// loggingExecutor is the default action executor: it records the forwarded
// action and succeeds. Deployments wanting real side effects replace it.
type loggingExecutor struct {
	log *slog.Logger
}

func (e loggingExecutor) Execute(ctx context.Context, action forward.Action, exclude []string) error {
	e.log.InfoContext(ctx, "action executed",
		"action_id", action.ID.String(),
		"sender", action.Sender,
		"payload_bytes", len(action.Payload),
		"exclude", exclude)
	return nil
}

func runHealthCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	addr := cmd.String("addr", "http://localhost:8080", "Server base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	resp, err := http.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = io.Copy(out, resp.Body)
	fmt.Fprintln(out)
	return 0
}

func runVerifyAuditCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("verify-audit", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	addr := cmd.String("addr", "http://localhost:8080", "Server base URL")
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	resp, err := http.Get(*addr + "/v1/audit")
	if err != nil {
		fmt.Fprintf(errOut, "Fetch audit trail failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Fetch audit trail failed: status %d\n", resp.StatusCode)
		return 1
	}

	var body struct {
		Entries []audit.Entry `json:"entries"`
		Head    string        `json:"head"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(errOut, "Decode audit trail failed: %v\n", err)
		return 1
	}

	valid, detail := audit.VerifyChain(body.Entries)
	if *jsonOutput {
		result := map[string]any{
			"valid":   valid,
			"entries": len(body.Entries),
			"head":    body.Head,
			"detail":  detail,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
	} else if valid {
		fmt.Fprintf(out, "Audit chain verified: %d entries, head %s\n", len(body.Entries), body.Head)
	} else {
		fmt.Fprintf(errOut, "Audit chain INVALID: %s\n", detail)
	}
	if !valid {
		return 1
	}
	return 0
}

func runTokenCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	var (
		subject = cmd.String("subject", "", "Token subject (REQUIRED)")
		roles   = cmd.String("roles", "", "Comma-separated roles")
		ttl     = cmd.Duration("ttl", time.Hour, "Token lifetime")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *subject == "" {
		fmt.Fprintln(errOut, "Error: --subject is required")
		cmd.Usage()
		return 2
	}

	secret := os.Getenv("JWT_SECRET")
	validator := authz.NewTokenValidator([]byte(secret))
	if validator == nil {
		fmt.Fprintln(errOut, "Error: JWT_SECRET is not set")
		return 2
	}

	var roleList []string
	if *roles != "" {
		roleList = strings.Split(*roles, ",")
	}
	token, err := validator.Issue(*subject, roleList, *ttl)
	if err != nil {
		fmt.Fprintf(errOut, "Error issuing token: %v\n", err)
		return 1
	}

	result := map[string]any{
		"subject": *subject,
		"roles":   roleList,
		"expires": time.Now().Add(*ttl).UTC().Format(time.RFC3339),
		"token":   token,
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(out, string(data))
	return 0
}
