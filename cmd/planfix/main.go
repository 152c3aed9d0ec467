package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cpravetz/stage7-sub000/pkg/engine"
	"github.com/cpravetz/stage7-sub000/pkg/oracle"
	"github.com/cpravetz/stage7-sub000/pkg/plan"
	"github.com/cpravetz/stage7-sub000/pkg/registry"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets
// any variables that aren't already set in the environment.
// Lines are KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
// The .env file is gitignored so secrets never end up in source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		// Remove surrounding quotes
		val = strings.Trim(val, `"'`)
		// Don't overwrite existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "planfix",
	Short: "Plan validation and repair engine",
	Long:  "planfix — validates, structurally rewrites, and repairs agent-generated plans before execution.",
}

// --- validate ---

var (
	validateGoal        string
	validateRegistryURL string
	validateBrainURL    string
	validateMaxAttempts int
	validateJSON        bool
	validateVerbose     bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [plan.json]",
	Short: "Validate and repair a plan file",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := plan.ReadDocument(args[0])
	if err != nil {
		return err
	}
	if docErrs := plan.ValidateDocument(doc); len(docErrs) > 0 {
		fmt.Fprintf(os.Stderr, "Document validation failed: %d error(s)\n\n", len(docErrs))
		for i, e := range docErrs {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Path, e.Message)
		}
		os.Exit(1)
	}
	steps, err := plan.Decode(doc)
	if err != nil {
		return err
	}

	log := newLogger(validateVerbose)
	defer log.Sync()

	eng := engine.New(engine.Config{
		Manifests:   newManifestSource(log),
		Oracle:      newOracle(),
		MaxAttempts: validateMaxAttempts,
		Logger:      log,
	})

	result, err := eng.ValidateAndRepair(cmd.Context(), steps, validateGoal, nil)
	if err != nil {
		return err
	}

	if validateJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printResult(result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}

func printResult(result *engine.Result) {
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "  ⚠ %s\n", w)
	}
	for _, t := range result.Transformations {
		fmt.Fprintf(os.Stderr, "  ~ rewrote %s\n", t)
	}
	if result.Valid {
		fmt.Printf("✓ plan is valid (%d steps)\n", len(result.Plan))
		return
	}
	fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(result.Errors))
	for i, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Kind, e.Message)
		if e.StepID != "" {
			fmt.Fprintf(os.Stderr, "     at step: %s\n", e.StepID)
		}
	}
}

// newManifestSource builds the registry-backed resolver from flags and
// environment. A missing registry URL means every action is novel.
func newManifestSource(log *zap.Logger) engine.ManifestSource {
	base := validateRegistryURL
	if base == "" {
		base = os.Getenv("PLANFIX_REGISTRY_URL")
	}
	if base == "" {
		return registry.NewResolver(nil, log)
	}
	client := registry.NewClient(base, os.Getenv("PLANFIX_REGISTRY_TOKEN"))
	return registry.NewResolver(client, log)
}

// newOracle builds the correction client from flags and environment.
// Returns nil when no endpoint is configured, which disables repair.
func newOracle() oracle.Oracle {
	endpoint := validateBrainURL
	if endpoint == "" {
		endpoint = os.Getenv("PLANFIX_BRAIN_URL")
	}
	if endpoint == "" {
		return nil
	}
	return oracle.NewChatClient(endpoint,
		os.Getenv("PLANFIX_BRAIN_TOKEN"),
		os.Getenv("PLANFIX_BRAIN_MODEL"))
}

func newLogger(verbose bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if verbose {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the step record JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := plan.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	// Pretty-print the JSON
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		// fallback to raw
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(string(formatted))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("planfix %s (build: %s)\n", version, commit)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateGoal, "goal", "", "Mission goal to steer repair")
	validateCmd.Flags().StringVar(&validateRegistryURL, "registry", "", "Capability registry base URL (overrides PLANFIX_REGISTRY_URL)")
	validateCmd.Flags().StringVar(&validateBrainURL, "brain", "", "Correction service base URL (overrides PLANFIX_BRAIN_URL)")
	validateCmd.Flags().IntVar(&validateMaxAttempts, "max-attempts", 0, "Maximum validate/repair attempts (default 3)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output the full result as JSON")
	validateCmd.Flags().BoolVar(&validateVerbose, "verbose", false, "Verbose logging")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
