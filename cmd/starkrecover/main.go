package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ConsumrBuzzy/stark-account-recovery/internal/chain"
	"github.com/ConsumrBuzzy/stark-account-recovery/internal/config"
	logpkg "github.com/ConsumrBuzzy/stark-account-recovery/internal/logger"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/candidate"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/rpcpool"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/search"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/types"
)

var (
	cfg    = config.NewConfig()
	logger *logpkg.Logger
)

func main() {
	// .env is a convenience at the boundary only; flags always win and the
	// search core never reads the environment.
	_ = godotenv.Load()

	var rootCmd = &cobra.Command{
		Use:   "starkrecover",
		Short: "Counterfactual account recovery-parameter search",
		Long: `Searches class hash / salt / constructor calldata combinations for the set
that derives a given Starknet account address, so an undeployed counterfactual
account can be reconstructed and activated.`,
		Run: runSearch,
	}

	rootCmd.Flags().IntVarP(&cfg.Workers, "workers", "w", runtime.NumCPU(), "Number of worker goroutines")
	rootCmd.Flags().StringVarP(&cfg.Target, "target", "t", os.Getenv("TARGET_ADDRESS"), "Target account address (hex)")
	rootCmd.Flags().StringVarP(&cfg.PublicKey, "public-key", "k", os.Getenv("PUBLIC_KEY"), "Signer public key, fills pubkey placeholders")
	rootCmd.Flags().StringVarP(&cfg.ClassHashes, "class-hashes", "c", "", "Comma-separated class hashes to try")
	rootCmd.Flags().StringVarP(&cfg.ClassHashFile, "class-hash-file", "f", "", "File with one class hash per line ('#' comments)")
	rootCmd.Flags().StringVar(&cfg.Salts, "salts", "", "Comma-separated salt values (token 'pubkey' substitutes the public key)")
	rootCmd.Flags().Uint64VarP(&cfg.SaltRange, "salt-range", "r", 0, "Enumerate salts 0..N-1")
	rootCmd.Flags().StringArrayVarP(&cfg.Patterns, "calldata", "d", []string{"pubkey"}, "Constructor calldata pattern, repeatable (tokens: pubkey, salt, none)")
	rootCmd.Flags().StringVar(&cfg.RPCURLs, "rpc", os.Getenv("RPC_URLS"), "Comma-separated node URLs for sanity checks and verification")
	rootCmd.Flags().StringVarP(&cfg.OutFile, "out", "o", "recovery_recipe.txt", "Recipe output file")
	rootCmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	rootCmd.Flags().StringVarP(&cfg.LogFile, "log-file", "l", "", "Log file for progress tracking (default: stdout)")
	rootCmd.Flags().IntVarP(&cfg.LogInterval, "log-interval", "i", 5, "Logging interval in seconds")
	rootCmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip the post-match on-chain verification")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSearch(cmd *cobra.Command, args []string) {
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	setupLogging()

	resolved, err := cfg.Resolve()
	if err != nil {
		// A malformed target or pattern is fatal for the whole search.
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	space, err := candidate.NewSpace(resolved.Spec)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger.Printf("Target: %s", resolved.Target)
	logger.Printf("Search space: %d candidates (class hashes x salts x patterns)", space.Size())
	logger.Printf("Starting search with %d workers...", cfg.Workers)

	var client *chain.Client
	if len(resolved.RPCURLs) > 0 {
		pool, err := rpcpool.New(resolved.RPCURLs)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		client = chain.NewClient(pool, nil)
		// Cheap liveness probe before burning CPU: a dead pool is a
		// connectivity problem, not a search problem.
		probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		head, err := client.BlockNumber(probeCtx)
		cancel()
		if err != nil {
			logger.Printf("RPC sanity check failed: %v", err)
			logger.Println("Transient infrastructure failure prevented the search. Fix connectivity or add endpoints, then retry.")
			os.Exit(2)
		}
		logger.Printf("RPC pool alive, chain head at block %d", head)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("\nReceived interrupt signal. Stopping search...")
		cancel()
	}()

	opts := search.Options{
		Workers:     cfg.Workers,
		LogInterval: time.Duration(cfg.LogInterval) * time.Second,
		OutFile:     resolved.OutFile,
	}
	if cfg.Verbose {
		opts.Logger = logger
	}

	engine := search.NewEngine(space, resolved.Target, opts)
	outcome, err := engine.Search(ctx)

	switch {
	case errors.Is(err, context.Canceled):
		logger.Printf("Search interrupted after %d candidates.", outcome.Tried)
		os.Exit(1)
	case err != nil:
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if !outcome.Found {
		logger.Printf("No match in %d candidates (%.2f candidates/sec).", outcome.Tried, rate(outcome.Tried, outcome.Duration))
		logger.Println("Widen the search: more class hashes, a larger salt range, or new calldata shapes.")
		return
	}

	r := outcome.Recipe
	logger.Printf("Found match!")
	logger.Printf("Class hash: %s", r.ClassHash)
	logger.Printf("Salt: %s", r.Salt)
	calldata := make([]string, len(r.Calldata))
	for i, c := range r.Calldata {
		calldata[i] = c.String()
	}
	logger.Printf("Constructor calldata: [%s]", strings.Join(calldata, ", "))
	logger.Printf("Candidates tried: %d", outcome.Tried)
	logger.Printf("Duration: %v", outcome.Duration)
	logger.Printf("Rate: %.2f candidates/sec", rate(outcome.Tried, outcome.Duration))
	logger.Printf("Recipe written to %s", resolved.OutFile)

	if client != nil && !cfg.SkipVerify {
		verify(client, outcome)
	}
}

// verify checks the found recipe against chain state and reports the
// account's fee-token balance. Failures here are reported, not fatal: the
// recipe is already persisted.
func verify(client *chain.Client, outcome types.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	deployed, err := client.VerifyRecipe(ctx, outcome.Recipe)
	switch {
	case err != nil:
		logger.Printf("On-chain verification failed: %v", err)
	case deployed:
		logger.Println("Target is already deployed with the matching class hash.")
	default:
		logger.Println("Target is not deployed yet (counterfactual), as expected.")
	}

	bal, err := client.BalanceOf(ctx, outcome.Recipe.TargetAddress)
	if err != nil {
		logger.Printf("Balance check failed: %v", err)
		return
	}
	logger.Printf("Fee-token balance at target: %s wei", bal)
}

func setupLogging() {
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		logger = logpkg.NewWriter(file)
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		logger = logpkg.New()
	}
}

func rate(tried uint64, d time.Duration) float64 {
	if d.Seconds() <= 0 {
		return 0
	}
	return float64(tried) / d.Seconds()
}
