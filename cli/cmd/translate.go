package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/fedsearch/cli/config"
	"github.com/pithecene-io/fedsearch/cli/render"
	"github.com/pithecene-io/fedsearch/cql"
	"github.com/pithecene-io/fedsearch/translate"
	"github.com/pithecene-io/fedsearch/types"
)

// TranslateResponse is the response for the translate command.
type TranslateResponse struct {
	Query       string   `json:"query"`
	Parsed      string   `json:"parsed"`
	Indexes     []string `json:"indexes"`
	Kind        string   `json:"type"`
	TargetQuery string   `json:"targetQuery"`
}

// TranslateCommand returns the translate command. It parses a query and
// prints what a target of the given kind would receive, without contacting
// any target.
func TranslateCommand() *cli.Command {
	return &cli.Command{
		Name:      "translate",
		Usage:     "Parse a query and show the target query for a target type",
		ArgsUsage: "<query>",
		Flags: withFlags(
			[]cli.Flag{
				ConfigFlag,
				&cli.StringFlag{
					Name:  "type",
					Usage: "Target type: session or http",
					Value: string(types.KindSession),
				},
				&cli.StringFlag{
					Name:  "quote-style",
					Usage: "Quote escape style: backslash or doubled",
				},
			},
			ReadOnlyFlags(),
		),
		Action: translateAction,
	}
}

func translateAction(c *cli.Context) error {
	if c.Bool("tui") {
		return invalidInput("--tui is not supported for translate command")
	}
	if c.NArg() != 1 {
		return invalidInput("translate requires exactly one query argument")
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return invalidInput("%v", err)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return invalidInput("%v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	if c.IsSet("quote-style") {
		cfg.Federation.QuoteStyle = c.String("quote-style")
		if err := cfg.Validate(); err != nil {
			return invalidInput("%v", err)
		}
	}

	kind, err := types.ParseTargetKind(c.String("type"))
	if err != nil {
		return invalidInput("%v", err)
	}

	text := c.Args().First()
	parser := cql.Parser{Quotes: cfg.FederatorConfig().Quotes}
	ast, err := parser.Parse(text)
	if err != nil {
		return invalidInput("%v", err)
	}
	query, err := translate.New(cfg.AttributeSet()).ToTargetQuery(text, ast, kind)
	if err != nil {
		return invalidInput("%v", err)
	}

	return r.Render(TranslateResponse{
		Query:       text,
		Parsed:      ast.String(),
		Indexes:     cql.Indexes(ast),
		Kind:        string(kind),
		TargetQuery: query,
	})
}
