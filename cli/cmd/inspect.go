package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/fedsearch/archive"
	"github.com/pithecene-io/fedsearch/cli/render"
	"github.com/pithecene-io/fedsearch/cli/tui"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
)

// ArchivedTarget is the table view of one archived target result.
type ArchivedTarget struct {
	Target     string `json:"target"`
	Kind       string `json:"type"`
	Count      string `json:"count"`
	Usable     string `json:"usable"`
	ElapsedMs  string `json:"elapsed_ms"`
	Diagnostic string `json:"diagnostic"`
}

// InspectCommand returns the inspect command, which reads an archived
// federation back from the archive.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show an archived federation by request id",
		ArgsUsage: "<request-id>",
		Flags: withFlags(
			[]cli.Flag{
				ConfigFlag,
				&cli.StringFlag{
					Name:  "target",
					Usage: "Only show this target",
				},
			},
			archiveFlags(),
			TUIReadOnlyFlags(),
		),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return invalidInput("inspect requires exactly one request id")
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return invalidInput("%v", err)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return invalidInput("%v", err)
	}
	ac, err := parseArchiveConfigWithPrecedence(c, cfg)
	if err != nil {
		return invalidInput("%v", err)
	}
	if ac == nil {
		return invalidInput("--archive-backend and --archive-path are required for inspect")
	}

	arc, err := buildArchive(c.Context, ac, log.Nop(), metrics.NewCollector())
	if err != nil {
		return invalidInput("archive: %v", err)
	}

	requestID := c.Args().First()
	rows, err := arc.Lookup(c.Context, requestID, c.String("target"))
	if errors.Is(err, archive.ErrNotArchived) {
		return cli.Exit(fmt.Sprintf("request %s is not archived at %s", requestID, arc.Location()), exitRequestFailure)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("archive lookup failed: %v", err), exitRequestFailure)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectFederation, rows)
	}
	if r.Format() == render.FormatTable {
		return r.Render(archivedTargets(rows))
	}
	return r.Render(rows)
}

func archivedTargets(rows []map[string]any) []ArchivedTarget {
	out := make([]ArchivedTarget, 0, len(rows))
	for _, row := range rows {
		t := ArchivedTarget{
			Target:     fmt.Sprint(row["target"]),
			Kind:       fmt.Sprint(row["kind"]),
			Count:      fmt.Sprint(row["count"]),
			Usable:     fmt.Sprint(row["usable"]),
			ElapsedMs:  fmt.Sprint(row["elapsed_ms"]),
			Diagnostic: "-",
		}
		if d, ok := row["diagnostic"].(map[string]any); ok {
			t.Diagnostic = fmt.Sprintf("%v %v: %v", d["kind"], d["code"], d["message"])
		}
		out = append(out, t)
	}
	return out
}
