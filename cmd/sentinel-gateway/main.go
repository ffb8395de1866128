// Command sentinel-gateway is the CLI entry point for the governance
// gateway: it wires the PolicyCache, PIIScanner, RateLimiter, PolicyEngine,
// and CircuitBreaker described in spec.md into a running process, and
// exposes operator commands for inspecting and dry-running policy.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sentinelgw/sentinel-gateway/internal/breaker"
	"github.com/sentinelgw/sentinel-gateway/internal/config"
	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
	"github.com/sentinelgw/sentinel-gateway/internal/pii"
	"github.com/sentinelgw/sentinel-gateway/internal/policy"
	"github.com/sentinelgw/sentinel-gateway/internal/policycache"
	"github.com/sentinelgw/sentinel-gateway/internal/ratelimit"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "sentinel-gateway",
		Short: "Zero-trust governance gateway for autonomous agent actions",
		Long:  "Sentinel Gateway intercepts agent-issued actions, scrubs PII, scores risk against a policy set, and admits, denies, or suspends them pending human approval.",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: ./sentinel-gateway.yaml)")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway (wires cache, scanner, limiter, engine, breaker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile)
		},
	}

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Dry-run a JSON-encoded AgentRequest through the engine and breaker",
		Long:  "Reads a JSON object with agent_id, action_type, target_resource, parameters, and context from stdin (or --file), evaluates it against the built-in default policy set (with the configured mode and thresholds), and prints the resulting decision. Uses an in-memory cache and mock approval service -- nothing is persisted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			return runEvaluate(configFile, file)
		},
	}
	evaluateCmd.Flags().String("file", "", "Path to a JSON request file (default: read stdin)")

	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy management commands",
	}
	policyListCmd := &cobra.Command{
		Use:   "list",
		Short: "List the active policy set (cache contents, or built-in defaults if empty)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyList(configFile)
		},
	}
	policyValidateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a policy YAML file without loading it into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(args[0])
		},
	}
	policyCmd.AddCommand(policyListCmd, policyValidateCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sentinel-gateway %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", buildDate)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter sentinel-gateway.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if path == "" {
				path = "./sentinel-gateway.yaml"
			}
			if err := config.GenerateDefault(path); err != nil {
				return err
			}
			fmt.Printf("wrote default config to %s\n", path)
			return nil
		},
	}

	rootCmd.AddCommand(startCmd, evaluateCmd, policyCmd, versionCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(configFile string) *config.Config {
	loader := config.NewLoader()
	path := configFile
	if path == "" {
		path = "./sentinel-gateway.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := loader.Load(path); err != nil {
			slog.Warn("failed to load config, using defaults", "path", path, "error", err)
		}
	}
	return loader.Get()
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// newCache builds the configured PolicyCache backend.
func newCache(cfg config.CacheConfig, logger *slog.Logger) (gateway.Cache, func(), error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return policycache.NewRedisCache(client, cfg.TTL, logger), func() { _ = client.Close() }, nil
	default:
		c, err := policycache.NewSQLiteCache(cfg.SQLitePath, logger)
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to open policy cache: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	}
}

// newApprovalStore builds the configured ApprovalStore backend.
func newApprovalStore(cfg config.ApprovalConfig, logger *slog.Logger) (gateway.ApprovalStore, func(), error) {
	switch cfg.StoreDriver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return breaker.NewRedisApprovalStore(client, logger), func() { _ = client.Close() }, nil
	default:
		s, err := breaker.NewSQLiteApprovalStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to open approval store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	}
}

func runStart(configFile string) error {
	cfg := loadConfig(configFile)
	logger := newLogger(cfg.Server.LogLevel)

	cache, closeCache, err := newCache(cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	approvalStore, closeStore, err := newApprovalStore(cfg.Approval, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	scanner := pii.NewScanner(pii.Config{Enabled: cfg.PII.Enabled, Entities: cfg.PII.Entities}, logger)

	celEval, err := policy.NewCELEvaluator(logger)
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	mode := gateway.NewModeSwitch(gateway.ParseGatewayMode(cfg.Server.Mode))

	engine := policy.NewEngine(cache, scanner, celEval, mode, policy.Config{
		BlockThreshold:    cfg.Engine.BlockThreshold,
		ApprovalThreshold: cfg.Engine.ApprovalThreshold,
	}, logger)
	engine.ReloadFromCache(policycache.DefaultPolicies())

	if cfg.PoliciesFile != "" {
		if rules, err := policy.NewLoader(logger).LoadFile(cfg.PoliciesFile); err == nil {
			if n := cache.Refresh(rules, cfg.Cache.TTL); n > 0 {
				engine.ReloadFromCache(policycache.DefaultPolicies())
			}
		} else {
			logger.Warn("failed to load policy file, using cache/defaults", "path", cfg.PoliciesFile, "error", err)
		}
	}

	var webhook *breaker.WebhookSender
	if cfg.Approval.WebhookURL != "" {
		webhook = breaker.NewWebhookSender(cfg.Approval.WebhookURL, cfg.Approval.WebhookSecret, cfg.Approval.WebhookTimeout)
	}
	cb := breaker.NewCircuitBreaker(approvalStore, webhook, mode, logger)

	// The RateLimiter is consulted upstream of the engine, once per agent
	// request, by the HTTP surface (spec.md §2) -- out of scope per spec.md
	// §1. It's constructed here only so a caller embedding this process has
	// one ready to use once that surface exists.
	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
	defer func() { _ = limiterClient.Close() }()
	_ = ratelimit.NewLimiter(limiterClient, ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		Window:            cfg.RateLimit.Window,
	}, logger)

	if cfg.WatchPolicies && cfg.PoliciesFile != "" {
		policyLoader := policy.NewLoader(logger)
		if err := policyLoader.WatchFile(cfg.PoliciesFile, func(path string) {
			if rules, err := policyLoader.LoadFile(path); err == nil {
				cache.Refresh(rules, cfg.Cache.TTL)
				engine.ReloadFromCache(policycache.DefaultPolicies())
			} else {
				logger.Error("hot-reload failed", "error", err)
			}
		}); err != nil {
			logger.Warn("failed to watch policy file for hot-reload", "error", err)
		} else {
			defer policyLoader.StopWatch()
		}
	}

	logger.Info("sentinel-gateway ready",
		"mode", cb.GetMode(),
		"policies", engine.PolicyCount(),
		"rate_limit", fmt.Sprintf("%d/%s", cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window))
	logger.Info("the HTTP surface, authentication, durable audit writer, and metrics exporter are external collaborators per spec.md §1 and are not started by this process")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	return nil
}

type evaluateInput struct {
	AgentID        string         `json:"agent_id"`
	ActionType     string         `json:"action_type"`
	TargetResource string         `json:"target_resource"`
	Parameters     map[string]any `json:"parameters"`
	Context        map[string]any `json:"context"`
}

func runEvaluate(configFile, file string) error {
	cfg := loadConfig(configFile)
	logger := newLogger(cfg.Server.LogLevel)

	var data []byte
	var err error
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		reader := bufio.NewReader(os.Stdin)
		var sb strings.Builder
		buf := make([]byte, 4096)
		for {
			n, rerr := reader.Read(buf)
			sb.Write(buf[:n])
			if rerr != nil {
				break
			}
		}
		data = []byte(sb.String())
	}
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}

	var in evaluateInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to parse request JSON: %w", err)
	}

	req, err := gateway.NewAgentRequest(in.AgentID, gateway.ActionType(in.ActionType), in.TargetResource, in.Parameters, in.Context)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	scanner := pii.NewScanner(pii.Config{Enabled: true}, logger)
	celEval, err := policy.NewCELEvaluator(logger)
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	mode := gateway.NewModeSwitch(gateway.ParseGatewayMode(cfg.Server.Mode))

	memCache, err := policycache.NewSQLiteCache(":memory:", logger)
	if err != nil {
		return fmt.Errorf("failed to open in-memory policy cache: %w", err)
	}
	defer func() { _ = memCache.Close() }()

	engine := policy.NewEngine(memCache, scanner, celEval, mode, policy.Config{
		BlockThreshold:    cfg.Engine.BlockThreshold,
		ApprovalThreshold: cfg.Engine.ApprovalThreshold,
	}, logger)
	engine.LoadPolicies(policycache.DefaultPolicies())

	mock := breaker.NewMockApprovalService()
	store, err := breaker.NewSQLiteApprovalStore(":memory:", logger)
	if err != nil {
		return fmt.Errorf("failed to open in-memory approval store: %w", err)
	}
	defer func() { _ = store.Close() }()
	cb := breaker.NewCircuitBreaker(store, nil, mode, logger)

	result := engine.Evaluate(req)
	resp := cb.Process(req, result)
	if resp.ApprovalRequired {
		if approval, ok := store.Get(resp.ApprovalID); ok {
			mock.HandleApprovalRequest(approval)
		}
	}

	out, _ := json.MarshalIndent(map[string]any{
		"request_id":        result.RequestID,
		"decision":          result.Decision,
		"risk_score":        result.RiskScore,
		"risk_level":        result.RiskLevel,
		"matched_rules":     result.MatchedRules,
		"denial_reasons":    result.DenialReasons,
		"pii_detected":      result.PIIDetected,
		"pii_fields":        result.PIIFields,
		"sanitized_request": result.SanitizedRequest,
		"response": map[string]any{
			"status":            resp.Status,
			"message":           resp.Message,
			"forwarded":         resp.Forwarded,
			"approval_required": resp.ApprovalRequired,
			"approval_id":       resp.ApprovalID,
		},
		"evaluation_time_ms": result.EvaluationTimeMs,
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runPolicyList(configFile string) error {
	cfg := loadConfig(configFile)
	logger := newLogger(cfg.Server.LogLevel)

	cache, closeCache, err := newCache(cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	rules := cache.ListActive()
	source := "cache"
	if len(rules) == 0 {
		rules = policycache.DefaultPolicies()
		source = "built-in defaults"
	}

	fmt.Printf("%d active policies (source: %s)\n", len(rules), source)
	for _, r := range rules {
		fmt.Printf("  [%3d] %-28s %-16v modifier=%.2f enabled=%v\n", r.Priority, r.RuleID, r.ActionTypes, r.RiskScoreModifier, r.Enabled)
	}
	return nil
}

func runPolicyValidate(path string) error {
	rules, err := policy.NewLoader(slog.Default()).LoadFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d policies, all valid\n", path, len(rules))
	for _, r := range rules {
		fmt.Printf("  %-28s priority=%-4d modifier=%.2f\n", r.RuleID, r.Priority, r.RiskScoreModifier)
	}
	return nil
}
