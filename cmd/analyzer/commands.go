package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/volary-ai/analyzer-agent/agent/terminal"
	"github.com/volary-ai/analyzer-agent/analysis"
	"github.com/volary-ai/analyzer-agent/config"
	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/github"
	"github.com/volary-ai/analyzer-agent/history"
	"github.com/volary-ai/analyzer-agent/render"
)

func (a *app) command() *cli.Command {
	f := &a.flags
	return &cli.Command{
		Name:  "analyzer",
		Usage: "Finds technical debt in a repository",
		Description: `Explores the repository in the working directory with LLM agents and reports a ranked
list of technical debt issues. Without a command it runs the full pipeline: analyze,
evaluate, print and save to the analysis history.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "provider",
				Usage:       "completion provider (openai, anthropic, bedrock, gemini)",
				Sources:     cli.EnvVars("COMPLETIONS_PROVIDER"),
				Destination: &f.Provider,
			},
			&cli.StringFlag{
				Name:        "coordinator_model",
				Usage:       "model for the coordinating and evaluating agents (default: " + config.DefaultCoordinatorModel + ")",
				Sources:     cli.EnvVars("COORDINATOR_MODEL"),
				Destination: &f.CoordinatorModel,
			},
			&cli.StringFlag{
				Name:        "delegate_model",
				Usage:       "small model for exploration and web search (default: " + config.DefaultDelegateModel + ")",
				Sources:     cli.EnvVars("DELEGATE_MODEL"),
				Destination: &f.DelegateModel,
			},
			&cli.StringFlag{
				Name:        "completions_api_key",
				Usage:       "API key for the completions endpoint",
				Sources:     cli.EnvVars("COMPLETIONS_API_KEY", "INPUT_COMPLETIONS-API-KEY"),
				Destination: &f.CompletionsAPIKey,
			},
			&cli.StringFlag{
				Name:        "completions_endpoint",
				Usage:       "OpenAI compatible completions endpoint (default: OpenRouter)",
				Sources:     cli.EnvVars("COMPLETIONS_ENDPOINT"),
				Destination: &f.CompletionsEndpoint,
			},
			&cli.StringFlag{
				Name:        "cache_dir",
				Usage:       "directory for the issue index and analysis history (default: user cache directory)",
				Sources:     cli.EnvVars("VOLARY_CACHE_DIR"),
				Destination: &f.CacheDir,
			},
			&cli.StringFlag{
				Name:        "change_dir",
				Aliases:     []string{"C"},
				Usage:       "directory to change into before running",
				Destination: &f.ChangeDir,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("VOLARY_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "write JSON logs to this file instead of stderr",
				Sources:     cli.EnvVars("VOLARY_LOG_FILE"),
				Destination: &f.LogFile,
			},
			&cli.StringFlag{
				Name:        "tool-verbosity",
				Usage:       "how much agent tool activity to show (none, info, all)",
				Value:       string(terminal.VerbosityInfo),
				Destination: &f.ToolVerbosity,
			},
		},
		Before: a.before,
		After:  a.after,
		Action: a.runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "analyze, evaluate, print and save the issues",
				Action: a.runAction,
			},
			{
				Name:   "analyze",
				Usage:  "find issues and write them to stdout as JSON",
				Action: a.analyzeAction,
			},
			{
				Name:   "eval",
				Usage:  "evaluate the analysis JSON on stdin and write the result as JSON",
				Action: a.evalAction,
			},
			{
				Name:   "print",
				Usage:  "print the analysis JSON on stdin as a table",
				Action: a.printAction,
			},
			{
				Name:  "summary",
				Usage: "render the analysis JSON on stdin as a markdown table",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "repo",
						Usage:   "GitHub repository (owner/name) to link files to (default: detected from origin)",
						Sources: cli.EnvVars("GITHUB_REPOSITORY"),
					},
					&cli.StringFlag{
						Name:    "revision",
						Usage:   "revision to link files at",
						Sources: cli.EnvVars("GITHUB_SHA"),
					},
				},
				Action: a.summaryAction,
			},
			{
				Name:   "search",
				Usage:  "answer the question on stdin from the web",
				Action: a.searchAction,
			},
			{
				Name:  "history",
				Usage: "list the issues saved by earlier runs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "since",
						Usage: "only issues saved since a date (2006-01-02), time (RFC 3339) or duration ago (72h)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "write the records as JSON",
					},
				},
				Action: a.historyAction,
			},
		},
	}
}

func (a *app) runAction(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() > 0 {
		return errors.New("unknown command %q, run 'analyzer --help' for usage", c.Args().First())
	}
	analyzer, err := a.analyzer(ctx, true)
	if err != nil {
		return err
	}
	a.log.Info().Msg("running analysis")
	result, err := analyzer.Analyze(ctx)
	if err != nil {
		return err
	}
	evaluated, err := analyzer.Evaluate(ctx, result)
	if err != nil {
		return err
	}
	if err := render.Issues(a.stdout, evaluated, render.Width(a.stdout)); err != nil {
		return err
	}
	issues := make([]analysis.Issue, len(evaluated.Issues))
	for i, e := range evaluated.Issues {
		issues[i] = e.Issue
	}
	if _, err := a.history(ctx).Save(ctx, issues); err != nil {
		a.log.Warn().Err(err).Msg("failed to save analysis history")
	}
	return nil
}

func (a *app) analyzeAction(ctx context.Context, _ *cli.Command) error {
	analyzer, err := a.analyzer(ctx, false)
	if err != nil {
		return err
	}
	a.log.Info().Msg("running analysis")
	result, err := analyzer.Analyze(ctx)
	if err != nil {
		return err
	}
	return a.writeJSON(result)
}

func (a *app) evalAction(ctx context.Context, _ *cli.Command) error {
	var input analysis.Analysis
	if err := a.readJSON(&input); err != nil {
		return err
	}
	analyzer, err := a.analyzer(ctx, true)
	if err != nil {
		return err
	}
	evaluated, err := analyzer.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	return a.writeJSON(evaluated)
}

func (a *app) printAction(_ context.Context, _ *cli.Command) error {
	var input analysis.EvaluatedAnalysis
	if err := a.readJSON(&input); err != nil {
		return err
	}
	return render.Issues(a.stdout, input, render.Width(a.stdout))
}

func (a *app) summaryAction(ctx context.Context, c *cli.Command) error {
	var input analysis.EvaluatedAnalysis
	if err := a.readJSON(&input); err != nil {
		return err
	}
	repo := c.String("repo")
	if repo == "" {
		if detected, err := github.DetectRepo(ctx, a.root); err == nil {
			repo = detected
		}
	}
	return render.Markdown(a.stdout, render.SummaryMarkdown(input, repo, c.String("revision")))
}

func (a *app) searchAction(ctx context.Context, _ *cli.Command) error {
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return errors.Wrapf(err, "cannot read question from stdin")
	}
	question := strings.TrimSpace(string(data))
	if question == "" {
		return errors.New("no question given on stdin")
	}
	analyzer, err := a.analyzer(ctx, false)
	if err != nil {
		return err
	}
	answer, err := analyzer.Answer(ctx, question)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, answer)
	return err
}

func (a *app) historyAction(ctx context.Context, c *cli.Command) error {
	since, err := parseSince(c.String("since"), a.now())
	if err != nil {
		return err
	}
	records, err := a.history(ctx).Load(since)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return a.writeJSON(records)
	}
	issues := history.Issues(records)
	out := analysis.EvaluatedAnalysis{Issues: make([]analysis.EvaluatedIssue, len(issues))}
	for i, issue := range issues {
		out.Issues[i] = analysis.EvaluatedIssue{Issue: issue}
	}
	return render.Issues(a.stdout, out, render.Width(a.stdout))
}

// parseSince accepts a date, an RFC 3339 time or a duration before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("cannot parse --since %q, expected a date, an RFC 3339 time or a duration", s)
}
