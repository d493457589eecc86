// Command collabiq runs the email-ingestion, LLM-extraction,
// entity-resolution, and workspace-write pipeline (§6 "Pipeline CLI").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabiq/adapter/out/llmprovider"
	"collabiq/adapter/out/mail"
	"collabiq/adapter/out/workspace"
	"collabiq/config"
	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/core/service/classify"
	"collabiq/core/service/daemon"
	"collabiq/core/service/llmhealth"
	"collabiq/core/service/orchestrator"
	"collabiq/core/service/resolution"
	"collabiq/core/service/workspacecache"
	"collabiq/core/service/writer"
	"collabiq/internal/dlqstore"
	"collabiq/internal/httputil"
	"collabiq/internal/logger"
	"collabiq/internal/ratelimit"
	"collabiq/internal/resilience"
	"collabiq/internal/secrets"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "collabiq: config error: %v\n", err)
		return 1
	}
	logger.Init(logger.Config{Level: logger.ParseLevel(cfg.LogLevel), Output: os.Stdout})
	log := logger.Default().WithComponent("cli")

	app, err := buildApp(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize pipeline")
		return 1
	}

	switch args[0] {
	case "run":
		return cmdRun(app, args[1:])
	case "dlq":
		return cmdDLQ(app, args[1:])
	case "status":
		return cmdStatus(app)
	default:
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  collabiq run [--daemon] [--interval <duration>]
  collabiq dlq list | show <id> | retry [--all | --id <id>]
  collabiq status`)
}

// app bundles the wired pipeline plus the pieces the CLI commands beyond
// `run` need directly (DLQ inspection, health/cost snapshots).
type app struct {
	daemon  *daemon.Daemon
	dlq     *dlqstore.Store
	health  out.HealthTracker
	cost    out.CostTracker
	quality out.QualityTracker
	writer  *writer.Writer
	replay  func(ctx context.Context, entry domain.DLQEntry) error
}

func buildApp(cfg *config.Config) (*app, error) {
	secretStore := secrets.New(cfg.EnvFilePath)
	ctx := context.Background()

	registry := httputil.NewRegistry()
	breakers := resilience.NewRegistry()
	limiter := ratelimit.New(nil, ratelimit.Config{RequestsPerSecond: cfg.WorkspaceRateLimitRPS, BurstSize: cfg.WorkspaceRateLimitRPS})

	workspaceToken := cfg.WorkspaceToken
	if workspaceToken == "" {
		token, err := secretStore.Get(ctx, "WORKSPACE_TOKEN")
		if err != nil {
			return nil, err
		}
		workspaceToken = token
	}

	workspaceClient := workspace.New(workspace.Config{
		BaseURL:       cfg.WorkspaceBaseURL,
		Token:         workspaceToken,
		CompaniesDBID: cfg.CompaniesDatabaseID,
		UsersDBID:     cfg.UsersDatabaseID,
		CollabsDBID:   cfg.CollabsDatabaseID,
	}, registry, limiter, breakers)

	cache := workspacecache.New(workspaceClient, cfg.DataDir+"/cache")

	adapters, providerConfigs, err := buildProviders(ctx, secretStore, registry, cfg.Providers)
	if err != nil {
		return nil, err
	}

	health := llmhealth.NewHealthTracker(cfg.DataDir + "/health/health.json")
	cost := llmhealth.NewCostTracker(cfg.DataDir + "/health/cost.json")
	quality := llmhealth.NewQualityTracker(cfg.DataDir + "/health/quality.json")

	orch := orchestrator.New(adapters, providerConfigs, health, cost, quality, breakers, orchestrator.Config{
		QualityRouting:      cfg.QualityRouting,
		OrchestratorTimeout: cfg.OrchestratorTimeout,
		FuzzyThreshold:      cfg.FuzzyThreshold,
		AbstentionThreshold: cfg.AbstentionThreshold,
	})

	companyMatcher := resolution.NewCompanyMatcher(cache, workspaceClient)
	personMatcher := resolution.NewPersonMatcher(cache)
	classifier := classify.New(orch)

	dlq := dlqstore.New(cfg.DataDir + "/dlq")
	entryWriter := writer.New(workspaceClient, dlq, breakers, cfg.CollabsDatabaseID, writer.DuplicateBehavior(cfg.DuplicateBehavior))

	mailDir := cfg.DataDir + "/mail"
	mailAdapter := mail.NewFileAdapter(mailDir)

	d := daemon.New(mailAdapter, orch, companyMatcher, personMatcher, classifier, entryWriter, dlq, cache, daemon.Config{
		Strategy:      cfg.ExtractionStrategy,
		CycleInterval: cfg.CycleInterval,
		StatePath:     cfg.DataDir + "/state/daemon.json",
	})

	replay := buildReplay(workspaceClient, cfg.CollabsDatabaseID, writer.DuplicateBehavior(cfg.DuplicateBehavior))

	return &app{daemon: d, dlq: dlq, health: health, cost: cost, quality: quality, writer: entryWriter, replay: replay}, nil
}

// buildReplay returns the function `dlq retry` re-runs a parked entry
// through. For workspace_write entries (parked by writer.CreateEntry) it
// re-issues the same duplicate-check-then-write the writer itself does,
// against the entry's already-mapped OriginalPayload. Every other
// operation type, including the llm_extract entries the daemon parks when
// extraction, resolution, or classification fails before a payload is
// mapped, is not replayed: the function returns an explicit error for it
// rather than silently no-opping.
func buildReplay(ws *workspace.Client, collabsDatabaseID string, duplicateBehavior writer.DuplicateBehavior) func(context.Context, domain.DLQEntry) error {
	return func(ctx context.Context, entry domain.DLQEntry) error {
		if entry.OperationType != domain.OpWorkspaceWrite {
			return fmt.Errorf("replay for operation type %q is not supported: only workspace_write entries are replayed", entry.OperationType)
		}

		existingID, found, err := ws.QueryByMessageID(ctx, collabsDatabaseID, entry.MessageID)
		if err != nil {
			return fmt.Errorf("replay: duplicate check failed: %w", err)
		}
		if found {
			if duplicateBehavior != writer.DuplicateUpdate {
				return nil // already present and duplicates are skipped: nothing to do
			}
			return ws.UpdatePage(ctx, existingID, out.PageWrite{DatabaseID: collabsDatabaseID, Properties: entry.OriginalPayload})
		}
		_, err = ws.CreatePage(ctx, out.PageWrite{DatabaseID: collabsDatabaseID, Properties: entry.OriginalPayload})
		return err
	}
}

func buildProviders(ctx context.Context, secretStore *secrets.Store, registry *httputil.Registry, configs []domain.ProviderConfig) ([]out.LLMProviderAdapter, []domain.ProviderConfig, error) {
	var adapters []out.LLMProviderAdapter
	for _, c := range configs {
		timeout := time.Duration(c.TimeoutMS) * time.Millisecond
		switch c.Name {
		case "openai":
			key, err := secretStore.Get(ctx, "OPENAI_API_KEY")
			if err != nil {
				return nil, nil, err
			}
			adapters = append(adapters, llmprovider.NewOpenAIAdapter(key, c.ModelID, timeout))
		case "anthropic":
			key, err := secretStore.Get(ctx, "ANTHROPIC_API_KEY")
			if err != nil {
				return nil, nil, err
			}
			adapters = append(adapters, llmprovider.NewAnthropicAdapter(registry, key, c.ModelID, timeout))
		case "gemini":
			key, err := secretStore.Get(ctx, "GEMINI_API_KEY")
			if err != nil {
				return nil, nil, err
			}
			adapters = append(adapters, llmprovider.NewGeminiAdapter(registry, key, c.ModelID, timeout))
		}
	}
	return adapters, configs, nil
}

// cmdRun implements `run [--daemon] [--interval <duration>]` (§6).
func cmdRun(a *app, args []string) int {
	var daemonMode bool
	interval := time.Duration(0)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--daemon":
			daemonMode = true
		case "--interval":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "collabiq: --interval requires a value")
				return 1
			}
			i++
			d, err := time.ParseDuration(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "collabiq: invalid --interval: %v\n", err)
				return 1
			}
			interval = d
		}
	}

	ctx, stop := signalContext()
	defer stop()

	if !daemonMode {
		result, err := a.daemon.RunCycle(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "collabiq: cycle failed: %v\n", err)
			return 1
		}
		fmt.Printf("fetched=%d written=%d skipped=%d dlqed=%d last=%s\n",
			result.MessagesFetched, result.MessagesWritten, result.MessagesSkipped, result.MessagesDLQed, result.LastMessageID)
		return 0
	}

	_ = interval // --interval is validated but not applied; the cycle interval comes from CYCLE_INTERVAL_MS via config.Load
	if err := a.daemon.RunDaemon(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "collabiq: daemon exited with error: %v\n", err)
		return 1
	}
	return 0
}

// signalContext returns a context cancelled on the first SIGINT/SIGTERM;
// a second signal forces an immediate process exit (§4.12 "Shutdown").
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
		<-sigCh
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func cmdDLQ(a *app, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "collabiq: dlq requires a subcommand (list|show|retry)")
		return 1
	}
	ctx := context.Background()

	switch args[0] {
	case "list":
		entries, err := a.dlq.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "collabiq: %v\n", err)
			return 1
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\t%s\n", e.DLQID, e.MessageID, e.OperationType, e.Status)
		}
		return 0

	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "collabiq: dlq show requires an id")
			return 1
		}
		entry, err := a.dlq.Get(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "collabiq: %v\n", err)
			return 1
		}
		fmt.Printf("%+v\n", entry)
		return 0

	case "retry":
		return cmdDLQRetry(a, ctx, args[1:])

	default:
		fmt.Fprintf(os.Stderr, "collabiq: unknown dlq subcommand %q\n", args[0])
		return 1
	}
}

func cmdDLQRetry(a *app, ctx context.Context, args []string) int {
	replay := func(entry domain.DLQEntry) error {
		return a.replay(ctx, entry)
	}

	all := false
	var id string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--all":
			all = true
		case "--id":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "collabiq: --id requires a value")
				return 1
			}
			i++
			id = args[i]
		}
	}

	if all {
		outcomes, err := a.dlq.ReplayAll(ctx, replay)
		if err != nil {
			fmt.Fprintf(os.Stderr, "collabiq: %v\n", err)
			return 1
		}
		for dlqID, outcome := range outcomes {
			fmt.Printf("%s\t%s\n", dlqID, outcome)
		}
		return 0
	}

	if id == "" {
		fmt.Fprintln(os.Stderr, "collabiq: dlq retry requires --all or --id <id>")
		return 1
	}
	outcome, err := a.dlq.Replay(ctx, id, replay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collabiq: %v\n", err)
		return 1
	}
	fmt.Printf("%s\t%s\n", id, outcome)
	return 0
}

// cmdStatus implements `status` (§6): provider health, cost, and quality
// scores. The daemon state is not printed.
func cmdStatus(a *app) int {
	for provider, h := range a.health.All() {
		fmt.Printf("provider=%s success_rate=%.2f consecutive_failures=%d circuit=%s\n",
			provider, h.SuccessRate(), h.ConsecutiveFailures, h.CircuitState)
	}
	for provider, c := range a.cost.All() {
		fmt.Printf("provider=%s api_calls=%d total_cost_usd=%.4f\n", provider, c.APICalls, c.TotalCostUSD)
	}
	for provider, q := range a.quality.All() {
		fmt.Printf("provider=%s quality_score=%.3f\n", provider, q.QualityScore())
	}
	return 0
}
