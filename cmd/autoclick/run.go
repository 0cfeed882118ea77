package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Phazzie/autoclick/internal/datasource"
	"github.com/Phazzie/autoclick/internal/engine"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/streaming"
	"github.com/Phazzie/autoclick/pkg/schema"
)

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	paramsJSON := fs.String("params", "", "workflow parameters as a JSON object")
	fixturesPath := fs.String("fixtures", "", "canned page content for the scripted session (JSON file)")
	dbPath := fs.String("db", "", "persist run state to this database (default: in-memory)")
	quiet := fs.Bool("quiet", false, "suppress the report; the exit code carries the outcome")
	sources := map[string]datasource.Source{}
	fs.Func("source", "CSV data source as name=path (repeatable)", func(v string) error {
		name, path, ok := strings.Cut(v, "=")
		if !ok || name == "" || path == "" {
			return fmt.Errorf("want name=path, got %q", v)
		}
		sources[name] = datasource.NewCSVSource(name, path)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: autoclick run <workflow.json> [flags]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", fs.Arg(0), err)
		os.Exit(1)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	validator, err := newWorkflowValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	wf, err := validator.ValidateDocument(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", fs.Arg(0), err)
		os.Exit(1)
	}

	var params map[string]any
	if *paramsJSON != "" {
		if err := json.Unmarshal([]byte(*paramsJSON), &params); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -params JSON: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The scripted session stands in for a real browser driver; swap
	// the factory to wire one.
	newSession := page.FactoryFunc(func(context.Context) (page.Session, error) {
		return loadFixtures(*fixturesPath)
	})
	sess, err := newSession.NewSession(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close(context.Background())

	st, err := openStore(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	deps, err := buildDeps(sess, sources)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	eng := engine.New(nil, deps, engine.Config{
		Store:  st,
		Hub:    streaming.NewMemoryHub(),
		Logger: logger,
	})

	report, err := eng.Execute(ctx, wf, engine.WithParams(params))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	}
	if report.Status != schema.RunStatusCompleted {
		os.Exit(1)
	}
}

// pageFixtures is the canned content served to selectors during a run.
type pageFixtures struct {
	Texts    map[string]string `json:"texts,omitempty"`
	Elements map[string]int    `json:"elements,omitempty"`
	Evals    map[string]any    `json:"evals,omitempty"`
}

func loadFixtures(path string) (page.Session, error) {
	sess := page.NewScriptedSession()
	if path == "" {
		return sess, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read fixtures: %w", err)
	}
	var fx pageFixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("invalid fixtures JSON: %w", err)
	}
	for sel, text := range fx.Texts {
		sess.WithText(sel, text)
	}
	for sel, n := range fx.Elements {
		sess.WithElements(sel, n)
	}
	for script, result := range fx.Evals {
		sess.WithEvalResult(script, result)
	}
	return sess, nil
}
