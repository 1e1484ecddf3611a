package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run one pass over the
// mailbox. It is built once at startup and passed by value into every
// component; there is no ambient global configuration state.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string

	KanboardURL    string
	KanboardToken  string
	ProjectName    string
	DueOffsetHours int
	GroupID        int

	WellKnownForwarders []string

	DryRun   bool
	LogLevel string
	LogDir   string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", "INBOX", "Mailbox to poll for unseen messages")
	flags.String("kanboard-url", "", "Base URL of the Kanboard instance")
	flags.String("kanboard-token", "", "Kanboard application API token (falls back to KANBOARD_API_TOKEN env var)")
	flags.String("project", "Support", "Kanboard project new tasks are created in")
	flags.Int("due-offset-hours", 48, "Hours after the mail date a task becomes due")
	flags.Int("group-id", 0, "Kanboard group id new users are enrolled into (0 disables)")
	flags.StringArray("forwarder", nil, "Well-known forwarder email address (repeatable)")
	flags.Bool("dry-run", false, "Resolve everything but skip Kanboard mutations, leaving messages unseen")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (in addition to stdout)")

	if err := cmd.MarkFlagRequired("imap-host"); err != nil {
		return err
	}
	if err := cmd.MarkFlagRequired("imap-user"); err != nil {
		return err
	}
	if err := cmd.MarkFlagRequired("kanboard-url"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Config{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	mailbox, err := flags.GetString("mailbox")
	if err != nil {
		return Config{}, err
	}
	kanboardURL, err := flags.GetString("kanboard-url")
	if err != nil {
		return Config{}, err
	}
	kanboardToken, err := flags.GetString("kanboard-token")
	if err != nil {
		return Config{}, err
	}
	projectName, err := flags.GetString("project")
	if err != nil {
		return Config{}, err
	}
	dueOffsetHours, err := flags.GetInt("due-offset-hours")
	if err != nil {
		return Config{}, err
	}
	groupID, err := flags.GetInt("group-id")
	if err != nil {
		return Config{}, err
	}
	forwarders, err := flags.GetStringArray("forwarder")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}
	if kanboardToken == "" {
		kanboardToken = os.Getenv("KANBOARD_API_TOKEN")
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		IMAPHost:            imapHost,
		IMAPPort:            imapPort,
		IMAPUser:            imapUser,
		IMAPPass:            imapPass,
		UseTLS:              useTLS,
		InsecureSkipVerify:  insecureSkipVerify,
		Mailbox:             mailbox,
		KanboardURL:         strings.TrimRight(kanboardURL, "/"),
		KanboardToken:       kanboardToken,
		ProjectName:         projectName,
		DueOffsetHours:      dueOffsetHours,
		GroupID:             groupID,
		WellKnownForwarders: forwarders,
		DryRun:              dryRun,
		LogLevel:            logLevel,
		LogDir:              logDir,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if cfg.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.Mailbox == "" {
		return fmt.Errorf("--mailbox must not be empty")
	}
	if cfg.KanboardURL == "" {
		return fmt.Errorf("--kanboard-url is required")
	}
	if cfg.KanboardToken == "" {
		return fmt.Errorf("Kanboard token must be provided via --kanboard-token or KANBOARD_API_TOKEN env var")
	}
	if cfg.ProjectName == "" {
		return fmt.Errorf("--project must not be empty")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
