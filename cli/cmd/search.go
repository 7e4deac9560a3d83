package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/fedsearch/cli/render"
	"github.com/pithecene-io/fedsearch/cli/tui"
	"github.com/pithecene-io/fedsearch/federator"
	"github.com/pithecene-io/fedsearch/types"
)

// Exit codes for search.
const (
	exitComplete       = 0
	exitPartial        = 1
	exitRequestFailure = 2
	exitInvalidInput   = 3
)

// SearchCommand returns the search command: read a federation request,
// dispatch it and render the result.
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Run a federation request (JSON file or stdin)",
		ArgsUsage: "[request.json | -]",
		Flags: withFlags(
			[]cli.Flag{ConfigFlag, LogLevelFlag},
			federationFlags(),
			notifyFlags(),
			archiveFlags(),
			TUIReadOnlyFlags(),
		),
		Action: searchAction,
	}
}

func searchAction(c *cli.Context) error {
	if c.NArg() > 1 {
		return invalidInput("search takes at most one request file, got %d arguments", c.NArg())
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return invalidInput("%v", err)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return invalidInput("%v", err)
	}

	req, err := readRequest(c, c.Args().First())
	if err != nil {
		return invalidInput("invalid federation request: %v", err)
	}
	if cfg != nil {
		cfg.ApplyTargetDefaults(&req)
	}

	rt, err := buildRuntime(c, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := rt.dispatcher.Dispatch(ctx, req)
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, federator.ErrNoUsableTarget):
		// Every target failed before dispatch; the result still carries
		// one diagnostic per target.
	case err != nil:
		return cli.Exit(fmt.Sprintf("federation failed: %v", err), exitRequestFailure)
	}

	rt.hooks.Completed(context.WithoutCancel(ctx), result, elapsed)

	if c.Bool("tui") {
		if err := r.RenderTUI(tui.ViewSearchResult, result); err != nil {
			return err
		}
	} else if err := r.Render(result); err != nil {
		return err
	}

	if code := outcomeToExitCode(result.Outcome()); code != exitComplete {
		return cli.Exit("", code)
	}
	return nil
}

// readRequest decodes a request from path, or from the app reader when
// path is empty or "-".
func readRequest(c *cli.Context, path string) (types.FederationRequest, error) {
	var in io.Reader = c.App.Reader
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return types.FederationRequest{}, err
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	if in == nil {
		in = os.Stdin
	}
	return federator.DecodeRequest(in)
}

// outcomeToExitCode maps a federation outcome to the search exit code.
// A federation where every target failed is a request-level failure.
func outcomeToExitCode(outcome string) int {
	switch outcome {
	case types.OutcomeComplete:
		return exitComplete
	case types.OutcomePartial:
		return exitPartial
	default:
		return exitRequestFailure
	}
}
