// Package cmd provides the vigil command-line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/core"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

const (
	maxFixtureFileSize = 1024 * 1024
	defaultTimeout     = 5 * time.Minute
)

// NewRootCmd creates the vigil command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vigil",
		Short: "Security alert triage and incident correlation",
		Long: `vigil scores incoming security alerts, narrates them for analysts and
correlates related alerts into incidents.

Run without a subcommand, or with "serve", to start the HTTP API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newNarrateCmd())
	rootCmd.AddCommand(newCorrelateCmd())
	rootCmd.AddCommand(newIncidentsCmd())

	return rootCmd
}

// validateFilePath rejects paths that traverse outside the working directory.
// The path is URL-decoded first so encoded ".." sequences are caught too.
func validateFilePath(filename string) error {
	decoded, err := url.QueryUnescape(filename)
	if err != nil {
		decoded = filename
	}

	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	absPath, err := filepath.Abs(filepath.Clean(decoded))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	rel, err := filepath.Rel(workDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path escapes current directory")
	}
	return nil
}

// alertFixture is an alert as written in a YAML or JSON file.
type alertFixture struct {
	ID        string                 `yaml:"id"`
	Timestamp time.Time              `yaml:"timestamp"`
	Source    string                 `yaml:"source"`
	AlertType string                 `yaml:"alert_type"`
	Severity  string                 `yaml:"severity"`
	RawLog    map[string]interface{} `yaml:"raw_log"`
}

// readAlertFixture loads an alert from a YAML or JSON file. JSON is read by
// the YAML decoder.
func readAlertFixture(filename string) (*core.Alert, error) {
	if err := validateFilePath(filename); err != nil {
		return nil, fmt.Errorf("invalid file path: %w", err)
	}

	fileInfo, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.Size() > maxFixtureFileSize {
		return nil, fmt.Errorf("file too large: maximum size is %d bytes, got %d bytes",
			maxFixtureFileSize, fileInfo.Size())
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var fixture alertFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse alert: %w", err)
	}
	if fixture.Source == "" || fixture.AlertType == "" || fixture.Severity == "" {
		return nil, fmt.Errorf("alert must have source, alert_type and severity")
	}

	alert := &core.Alert{
		ID:        fixture.ID,
		Timestamp: fixture.Timestamp,
		Source:    fixture.Source,
		Type:      fixture.AlertType,
		Severity:  core.Severity(fixture.Severity),
		RawLog:    fixture.RawLog,
	}
	alert.Normalize()
	return alert, nil
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
