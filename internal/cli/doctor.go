package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"golang.org/x/text/language"

	"github.com/tobert/cruxview/internal/batchfile"
	"github.com/tobert/cruxview/internal/crux"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks to verify cruxview is properly configured.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify cruxview is properly configured.

This command checks:
  - Config files (global and project) parse as JSON
  - A CrUX API key is available
  - The endpoint is an http(s) URL
  - The locale is a valid BCP 47 tag
  - The configured batch file, if any, is readable

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(version)
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

type fsUtils interface {
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	UserHomeDir() (string, error)
	Getwd() (string, error)
	Getenv(key string) string
}

type realFsUtils struct{}

func (r *realFsUtils) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (r *realFsUtils) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (r *realFsUtils) UserHomeDir() (string, error)          { return os.UserHomeDir() }
func (r *realFsUtils) Getwd() (string, error)                { return os.Getwd() }
func (r *realFsUtils) Getenv(key string) string              { return os.Getenv(key) }

// doctorState is the config as the checks see it, built up by the config check.
type doctorState struct {
	utils  fsUtils
	config *Config
}

func runDoctor(version string) error {
	return runDoctorWithUtils(version, &realFsUtils{})
}

func runDoctorWithUtils(version string, utils fsUtils) error {
	fmt.Printf("🔍 cruxview doctor v%s\n\n", version)

	st := &doctorState{utils: utils, config: DefaultConfig()}
	checks := []func(st *doctorState) checkResult{
		checkGlobalConfig,
		checkProjectConfig,
		checkAPIKey,
		checkEndpoint,
		checkLocale,
		checkBatchFile,
	}

	results := make([]checkResult, 0, len(checks))
	for _, check := range checks {
		result := check(st)
		results = append(results, result)
		printCheckResult(result)
	}

	fmt.Println()
	summary := summarizeResults(results)
	printSummary(summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}

	return nil
}

func printCheckResult(result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Printf("%s %s\n", icon, result.Message)

	if result.Suggestion != "" {
		fmt.Printf("  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(summary resultSummary) {
	if summary.FailCount > 0 {
		fmt.Printf("❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Printf("⚠️  %d warning(s)\n", summary.WarnCount)
		}
	} else if summary.WarnCount > 0 {
		fmt.Printf("✅ All critical checks passed!\n")
		fmt.Printf("⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Printf("💡 Run 'cruxview serve --verbose' to start the server\n")
	} else {
		fmt.Printf("✅ All checks passed!\n")
		fmt.Printf("💡 Run 'cruxview serve --verbose' to start the server\n")
	}
}

// loadInto parses path and merges it into the state. A missing file is not an error.
func (st *doctorState) loadInto(name, path string) checkResult {
	if _, err := st.utils.Stat(path); err != nil {
		return checkResult{
			Name:    name,
			Status:  "pass",
			Message: fmt.Sprintf("No %s config (%s)", name, path),
		}
	}

	data, err := st.utils.ReadFile(path)
	if err != nil {
		return checkResult{
			Name:       name,
			Status:     "fail",
			Message:    fmt.Sprintf("Could not read %s config", name),
			Suggestion: fmt.Sprintf("Error reading %s: %v", path, err),
			IsCritical: true,
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return checkResult{
			Name:       name,
			Status:     "fail",
			Message:    fmt.Sprintf("%s config is not valid JSON", name),
			Suggestion: fmt.Sprintf("Error parsing %s: %v", path, err),
			IsCritical: true,
		}
	}

	st.config = MergeConfigs(st.config, &cfg)
	return checkResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("Loaded %s config: %s", name, path),
	}
}

// Check 1: global config
func checkGlobalConfig(st *doctorState) checkResult {
	home, err := st.utils.UserHomeDir()
	if err != nil {
		return checkResult{
			Name:    "global",
			Status:  "warn",
			Message: "Could not determine home directory; skipping global config",
		}
	}
	return st.loadInto("global", filepath.Join(home, ".config", "cruxview", "config.json"))
}

// Check 2: project config, searched up to the repo root
func checkProjectConfig(st *doctorState) checkResult {
	dir, err := st.utils.Getwd()
	if err != nil {
		return checkResult{
			Name:    "project",
			Status:  "warn",
			Message: "Could not determine working directory; skipping project config",
		}
	}

	for {
		path := filepath.Join(dir, projectConfigName)
		if _, err := st.utils.Stat(path); err == nil {
			return st.loadInto("project", path)
		}
		if _, err := st.utils.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return checkResult{
		Name:    "project",
		Status:  "pass",
		Message: fmt.Sprintf("No project config (%s)", projectConfigName),
	}
}

// Check 3: API key
func checkAPIKey(st *doctorState) checkResult {
	if key := st.utils.Getenv("GOOGLE_API_KEY"); key != "" {
		st.config.APIKey = key
		return checkResult{
			Name:    "api_key",
			Status:  "pass",
			Message: fmt.Sprintf("API key from GOOGLE_API_KEY: %s", maskKey(key)),
		}
	}
	if st.config.APIKey != "" {
		return checkResult{
			Name:    "api_key",
			Status:  "pass",
			Message: fmt.Sprintf("API key from config: %s", maskKey(st.config.APIKey)),
		}
	}
	return checkResult{
		Name:    "api_key",
		Status:  "fail",
		Message: "No CrUX API key configured",
		Suggestion: `Set GOOGLE_API_KEY or add "api_key" to ~/.config/cruxview/config.json.
  Without a key only saved batch files (--from, --batch-file) can be viewed.`,
		IsCritical: true,
	}
}

// Check 4: endpoint URL
func checkEndpoint(st *doctorState) checkResult {
	endpoint := st.config.Endpoint
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return checkResult{
			Name:       "endpoint",
			Status:     "fail",
			Message:    fmt.Sprintf("Endpoint is not an http(s) URL: %q", endpoint),
			Suggestion: fmt.Sprintf("Use the default: %s", crux.DefaultEndpoint),
			IsCritical: true,
		}
	}
	if endpoint != crux.DefaultEndpoint {
		return checkResult{
			Name:    "endpoint",
			Status:  "warn",
			Message: fmt.Sprintf("Using a non-default endpoint: %s", endpoint),
		}
	}
	return checkResult{
		Name:    "endpoint",
		Status:  "pass",
		Message: fmt.Sprintf("Endpoint: %s", endpoint),
	}
}

// Check 5: locale
func checkLocale(st *doctorState) checkResult {
	if st.config.Locale == "" {
		return checkResult{
			Name:    "locale",
			Status:  "pass",
			Message: "Locale: en (default)",
		}
	}
	tag, err := language.Parse(st.config.Locale)
	if err != nil {
		return checkResult{
			Name:       "locale",
			Status:     "fail",
			Message:    fmt.Sprintf("Locale %q is not a valid BCP 47 tag", st.config.Locale),
			Suggestion: `Use a tag such as "en", "de" or "pt-BR"`,
			IsCritical: true,
		}
	}
	return checkResult{
		Name:    "locale",
		Status:  "pass",
		Message: fmt.Sprintf("Locale: %s", tag),
	}
}

// Check 6: batch file
func checkBatchFile(st *doctorState) checkResult {
	path := st.config.BatchFile
	if path == "" {
		return checkResult{
			Name:    "batch_file",
			Status:  "pass",
			Message: "Optional: no batch file configured",
		}
	}

	data, err := st.utils.ReadFile(path)
	if err != nil {
		return checkResult{
			Name:       "batch_file",
			Status:     "warn",
			Message:    fmt.Sprintf("Optional: batch file %s is not readable", path),
			Suggestion: "serve refuses to start until it exists; create it with 'cruxview query --save'",
		}
	}
	raw, err := batchfile.Decode(bytes.NewReader(data))
	if err != nil {
		return checkResult{
			Name:       "batch_file",
			Status:     "fail",
			Message:    fmt.Sprintf("Batch file %s is malformed", path),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}
	return checkResult{
		Name:    "batch_file",
		Status:  "pass",
		Message: fmt.Sprintf("Batch file %s: %d origins", path, len(raw)),
	}
}
