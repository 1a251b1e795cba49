package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/volary-ai/analyzer-agent/agent/terminal"
	"github.com/volary-ai/analyzer-agent/analysis"
	"github.com/volary-ai/analyzer-agent/config"
	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/github"
	"github.com/volary-ai/analyzer-agent/history"
	"github.com/volary-ai/analyzer-agent/issueindex"
	"github.com/volary-ai/analyzer-agent/llm"
	"github.com/volary-ai/analyzer-agent/logutils"
	"github.com/volary-ai/analyzer-agent/render"
	"github.com/volary-ai/analyzer-agent/tools"
	"github.com/volary-ai/analyzer-agent/tools/mcp"
	"github.com/volary-ai/analyzer-agent/tools/web"
)

// flags are the global options that override the configuration files.
type flags struct {
	Provider            string
	CoordinatorModel    string
	DelegateModel       string
	CompletionsAPIKey   string
	CompletionsEndpoint string
	CacheDir            string
	ChangeDir           string
	LogLevel            string
	LogFile             string
	ToolVerbosity       string
}

// app holds what the commands share for one invocation.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	flags flags
	root  string
	cfg   *config.Config
	log   zerolog.Logger
	usage *llm.UsageTracker
	now   func() time.Time

	newBackend func(ctx context.Context, provider, endpoint, apiKey string) (llm.Backend, error)

	logCloser  func()
	mcpClients []*mcp.Client
	index      *issueindex.DB
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		log:        zerolog.Nop(),
		usage:      llm.NewUsageTracker(),
		now:        time.Now,
		newBackend: llm.NewBackend,
		logCloser:  func() {},
	}
}

func (a *app) before(ctx context.Context, _ *cli.Command) (context.Context, error) {
	logger, closer, err := logutils.New(a.flags.LogLevel, a.flags.LogFile)
	if err != nil {
		return ctx, errors.Wrapf(err, "setup logger")
	}
	a.logCloser = closer
	log.Logger = logger
	a.log = logger.With().Str("run_id", uuid.NewString()).Logger()

	if a.flags.ChangeDir != "" {
		if err := os.Chdir(a.flags.ChangeDir); err != nil {
			return ctx, errors.Wrapf(err, "cannot change directory")
		}
	}
	if a.root, err = os.Getwd(); err != nil {
		return ctx, errors.Wrapf(err, "could not get working directory")
	}

	cfg, err := config.LoadConfig(a.root)
	if err != nil {
		return ctx, err
	}
	applyFlags(cfg, a.flags)
	if err := cfg.Validate(); err != nil {
		return ctx, errors.Wrapf(err, "invalid options")
	}
	a.cfg = cfg
	return ctx, nil
}

// after runs even when the command failed and reports the usage spent so far.
func (a *app) after(_ context.Context, _ *cli.Command) error {
	if err := render.Usage(a.stderr, a.usage.Summary()); err != nil {
		a.log.Warn().Err(err).Msg("failed to print usage summary")
	}
	mcp.CloseAll(a.mcpClients)
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close issue index")
		}
	}
	a.logCloser()
	return nil
}

// applyFlags overrides the configuration with the options that were given.
func applyFlags(cfg *config.Config, f flags) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Provider, f.Provider)
	set(&cfg.CoordinatorModel, f.CoordinatorModel)
	set(&cfg.DelegateModel, f.DelegateModel)
	set(&cfg.CompletionsAPIKey, f.CompletionsAPIKey)
	set(&cfg.CompletionsEndpoint, f.CompletionsEndpoint)
	set(&cfg.CacheDir, f.CacheDir)
}

func (a *app) completer(ctx context.Context) (llm.Completer, error) {
	if a.cfg.Provider == llm.ProviderOpenAI && a.cfg.CompletionsAPIKey == "" {
		return nil, errors.New("the flag --completions_api_key is required (or set the $COMPLETIONS_API_KEY env var)")
	}
	backend, err := a.newBackend(ctx, a.cfg.Provider, a.cfg.CompletionsEndpoint, a.cfg.CompletionsAPIKey)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Str("provider", backend.Name()).Msg("using completion backend")
	return llm.NewClient(backend, a.usage), nil
}

func (a *app) workspace() *tools.Workspace {
	ignore, err := tools.LoadIgnoreFilter(a.root)
	if err != nil {
		a.log.Warn().Err(err).Msg("cannot read .gitignore, listing every file")
	}
	return tools.NewWorkspace(a.root, ignore, a.cfg.FilesystemAccess.Hidden)
}

func (a *app) history(ctx context.Context) *history.Store {
	origin, err := github.OriginURL(ctx, a.root)
	if err != nil {
		a.log.Debug().Err(err).Msg("no origin remote, keying history by directory")
	}
	return history.NewStore(a.cfg.CacheDir, history.RepoID(origin, a.root), a.log)
}

// analyzer builds the analysis agents. The issue index is synced first when
// withIndex is set.
func (a *app) analyzer(ctx context.Context, withIndex bool) (*analysis.Analyzer, error) {
	completer, err := a.completer(ctx)
	if err != nil {
		return nil, err
	}
	cfg := analysis.Config{
		CoordinatorModel:  a.cfg.CoordinatorModel,
		DelegateModel:     a.cfg.DelegateModel,
		MaxIterations:     a.cfg.MaxIterations,
		MaxRetriesOnEmpty: a.cfg.MaxRetriesOnEmpty,
		Workspace:         a.workspace(),
		Observer:          terminal.New(a.stderr, terminal.Verbosity(a.flags.ToolVerbosity)),
		Logger:            a.log,
		Now:               a.now,
	}
	if a.cfg.WebSearch.Enabled {
		cfg.Web = web.NewClient()
	}
	if len(a.cfg.MCPServers) > 0 {
		clients, err := mcp.ConnectAll(ctx, a.cfg.MCPServers, a.log)
		if err != nil {
			return nil, err
		}
		a.mcpClients = clients
		for _, c := range clients {
			cfg.ExtraTools = append(cfg.ExtraTools, c.Tools()...)
		}
	}
	if withIndex {
		cfg.IssueSearch = a.issueSearch(ctx)
	}
	return analysis.New(completer, cfg), nil
}

// issueSearch syncs the issue index and returns its query tool, or nil when
// nothing could be indexed. Failures are logged rather than returned.
func (a *app) issueSearch(ctx context.Context) tools.Tool {
	db, err := issueindex.Open(ctx, a.cfg.CacheDir)
	if err != nil {
		a.log.Warn().Err(err).Msg("cannot open issue index")
		return nil
	}
	a.index = db

	store := a.history(ctx)
	name := "local_" + history.RepoID("", a.root)
	repo, err := github.DetectRepo(ctx, a.root)
	if err == nil {
		name = issueindex.CollectionName(repo)
	}
	coll := db.Collection(name)

	if err != nil {
		a.log.Warn().Err(err).Msg("not a GitHub repository, existing issues will not be checked")
	} else {
		a.syncGitHub(ctx, coll, repo)
	}

	records, err := store.Load(time.Time{})
	if err != nil {
		a.log.Warn().Err(err).Msg("cannot load analysis history")
	}
	if err := coll.Upsert(ctx, issueindex.FromHistory(records)); err != nil {
		a.log.Warn().Err(err).Msg("failed to index analysis history")
	}

	n, err := coll.Count(ctx)
	if err != nil || n == 0 {
		return nil
	}
	a.log.Info().Str("collection", coll.Name()).Int("documents", n).Msg("issue index ready")
	return coll.Tool()
}

func (a *app) syncGitHub(ctx context.Context, coll *issueindex.Collection, repo string) {
	gh, err := github.NewClient()
	if err != nil {
		a.log.Warn().Err(err).Msg("cannot fetch GitHub issues")
		return
	}
	fetch := func(ctx context.Context, since time.Time) ([]github.Issue, error) {
		return gh.FetchIssues(ctx, repo, since)
	}
	if _, err := coll.Sync(ctx, fetch, a.now(), a.log); err != nil {
		a.log.Warn().Err(err).Msg("failed to sync GitHub issues")
	}
}

func (a *app) readJSON(v any) error {
	if err := json.NewDecoder(a.stdin).Decode(v); err != nil {
		return errors.Wrapf(err, "cannot parse JSON from stdin")
	}
	return nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
