// Package cmd provides CLI commands for the fedsearch binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Shared flags for read-only output.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only views (search, inspect).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (search, inspect only)",
	}
)

// ConfigFlag points at a fedsearch.yaml file.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to fedsearch.yaml config file",
	EnvVars: []string{"FEDSEARCH_CONFIG"},
}

// LogLevelFlag sets the log level.
var LogLevelFlag = &cli.StringFlag{
	Name:  "log-level",
	Usage: "Log level: debug, info, warn, error",
	Value: "info",
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// federationFlags bound dispatch; they override the config file.
func federationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-concurrency",
			Usage: "Maximum targets queried at once",
		},
		&cli.DurationFlag{
			Name:  "deadline",
			Usage: "Shared deadline for the whole federation (e.g. 30s)",
		},
	}
}

// notifyFlags select the completion notifier.
func notifyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "notify",
			Usage: "Completion notifier: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "notify-url",
			Usage: "Webhook URL or Redis URL",
		},
		&cli.StringFlag{
			Name:  "notify-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringSliceFlag{
			Name:  "notify-header",
			Usage: "Webhook header as Key=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "notify-timeout",
			Usage: "Per-attempt notifier timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "notify-retries",
			Usage: "Notifier retry attempts",
			Value: 3,
		},
	}
}

// archiveFlags select the result archive.
func archiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "archive-backend",
			Usage: "Archive backend: fs or s3 (empty disables archiving)",
		},
		&cli.StringFlag{
			Name:  "archive-path",
			Usage: "Archive path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "archive-dataset",
			Usage: "Archive dataset name",
			Value: "fedsearch",
		},
		&cli.StringFlag{
			Name:  "archive-s3-region",
			Usage: "AWS region for the s3 backend (default chain when empty)",
		},
		&cli.StringFlag{
			Name:  "archive-s3-endpoint",
			Usage: "Custom endpoint for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "archive-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
