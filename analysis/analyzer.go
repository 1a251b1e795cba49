package analysis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/volary-ai/analyzer-agent/agent"
	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/llm"
	"github.com/volary-ai/analyzer-agent/tools"
	"github.com/volary-ai/analyzer-agent/tools/web"
)

// Agent names double as usage buckets.
const (
	AnalyzerAgent       = "Analyzer"
	TaskRunnerAgent     = "Analysis Task Runner"
	IssueEvaluatorAgent = "Issue Evaluator"
	EvaluatorAgent      = "Evaluator"
	WebSearchAgent      = "Web Search"
)

// Config wires the analysis agents to their models and tools.
type Config struct {
	CoordinatorModel  string
	DelegateModel     string
	MaxIterations     int
	MaxRetriesOnEmpty int

	Workspace *tools.Workspace
	// Web enables the web_answers tool when set.
	Web *web.Client
	// IssueSearch is the query_issues tool, set when the repository's issue
	// tracker has been indexed.
	IssueSearch tools.Tool
	// ExtraTools are offered to the discovery agents, e.g. tools from MCP
	// servers.
	ExtraTools []tools.Tool

	Observer agent.Observer
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Analyzer runs the discovery and evaluation agents.
type Analyzer struct {
	completer llm.Completer
	cfg       Config
	log       zerolog.Logger
}

func New(completer llm.Completer, cfg Config) *Analyzer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Analyzer{
		completer: completer,
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "analysis").Logger(),
	}
}

func (a *Analyzer) newAgent(name, instruction, model string, ts []tools.Tool) (*agent.Agent, error) {
	reg, err := tools.NewRegistry(ts...)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot build tools for %s", name)
	}
	return agent.New(a.completer, agent.Config{
		Name:              name,
		Instruction:       instruction,
		Model:             model,
		Tools:             reg,
		MaxIterations:     a.cfg.MaxIterations,
		MaxRetriesOnEmpty: a.cfg.MaxRetriesOnEmpty,
		Observer:          a.cfg.Observer,
		Logger:            a.cfg.Logger,
	})
}

type questionArgs struct {
	Question string `json:"question" desc:"The question to answer using web search"`
}

// Answer researches a question on the web with a search agent.
func (a *Analyzer) Answer(ctx context.Context, question string) (string, error) {
	if a.cfg.Web == nil {
		return "", errors.New("web search is disabled")
	}
	searcher, err := a.newAgent(WebSearchAgent, searchInstruction(a.cfg.Now()), a.cfg.DelegateModel, a.cfg.Web.Tools())
	if err != nil {
		return "", err
	}
	return searcher.Run(ctx, agent.RunOptions{Prompt: searchPrompt(question)})
}

func (a *Analyzer) webAnswersTool() tools.Tool {
	return tools.MustFunc("web_answers", `Answers a question from the web using an autonomous search agent.

The agent can run several searches and read selected pages. Use it to look up facts, current versions or online
documentation, e.g. "What is the latest Go version?" or "What are the key migration points for psycopg3?".
Verify that a library, framework or language really is out of date with this tool before reporting it.
Keep questions well scoped so they can be answered in a few searches.`,
		func(ctx context.Context, args questionArgs) (tools.Result, error) {
			answer, err := a.Answer(ctx, args.Question)
			if err != nil {
				return tools.Result{}, err
			}
			return tools.Text(answer), nil
		})
}

// evalTools are the tools of the evaluation agents.
func (a *Analyzer) evalTools() []tools.Tool {
	var ts []tools.Tool
	if a.cfg.Web != nil {
		ts = append(ts, a.webAnswersTool())
	}
	if a.cfg.IssueSearch != nil {
		ts = append(ts, a.cfg.IssueSearch)
	}
	return ts
}

// baseTools are the exploration tools shared by the coordinator and its
// delegates.
func (a *Analyzer) baseTools() []tools.Tool {
	ts := a.cfg.Workspace.Tools()
	if a.cfg.Web != nil {
		ts = append(ts, a.webAnswersTool())
	}
	return append(ts, a.cfg.ExtraTools...)
}

// evaluate asks an evaluation agent to score issues, which must already
// carry IDs.
func (a *Analyzer) evaluate(ctx context.Context, name string, issues []Issue) (Evaluation, error) {
	evaluator, err := a.newAgent(name, evalInstruction(a.cfg.IssueSearch != nil), a.cfg.CoordinatorModel, a.evalTools())
	if err != nil {
		return Evaluation{}, err
	}
	input, err := json.MarshalIndent(ContextualiseAll(ctx, a.cfg.Workspace, issues), "", "  ")
	if err != nil {
		return Evaluation{}, errors.Wrapf(err, "cannot encode evaluation input")
	}
	return agent.RunTyped[Evaluation](ctx, evaluator, agent.RunOptions{Prompt: evalPrompt(string(input))})
}

type reportIssueArgs struct {
	Analysis Analysis `json:"analysis" desc:"The technical debt issues to evaluate (title, short_description, impact, recommended_action, files)"`
}

func (a *Analyzer) reportIssueTool() tools.Tool {
	return tools.MustFunc("report_issue", `Reports candidate technical debt issues for early feedback and critique.

Use this once you have investigated an issue thoroughly, to check your work so far and to decide whether you have 10-15
good issues before giving your final answer. The critique helps you:
- drop subjective or opinion based suggestions
- make sure issues are actionable with clear next steps
- avoid duplicating issues that were already reported
- calibrate your impact and effort estimates

Don't keep issues that receive negative critique, and let the feedback steer which kinds of issue you look for.`,
		func(ctx context.Context, args reportIssueArgs) (tools.Result, error) {
			ev, err := a.evaluate(ctx, IssueEvaluatorAgent, AssignIDs(args.Analysis.Issues))
			if err != nil {
				return tools.Text("Error evaluating issue: " + err.Error()), nil
			}
			data, err := json.MarshalIndent(ev, "", "  ")
			if err != nil {
				return tools.Result{}, err
			}
			return tools.Text(string(data)), nil
		})
}

const delegateDescription = `Delegates a complex step of the repository analysis to a sub-agent.

Usage notes:
- Delegate larger tasks so you can stay focused on the overall picture
- Keep each task to a focused part of the repository and describe the relevant files
- Delegate several tasks at once so they run in parallel
- Do NOT delegate simple one step tasks like reading a single file
- Do NOT mention sub-agents to the user

<example-usage>
user - Find tech debt in my repo
agent - ls(*) -> Makefile go.mod go.sum ...
        reasoning: This is a Go repository, so the Go sources are worth a look.
agent - ls(**/*.go) -> gateway/api.go ...
        reasoning: There is Go code under gateway/ but no test files next to it.
agent - delegate_task(task: Check gateway tests, description: Check the test coverage of the API gateway under gateway/**/*.go)
sub-agent - The gateway is covered by the Python integration tests under testing/api but has no unit tests.
agent - read_file(Makefile)
        reasoning: make test runs the integration tests, so the gateway is tested before merging. This is low priority.
</example-usage>`

// Analyze runs the discovery agent over the workspace.
func (a *Analyzer) Analyze(ctx context.Context) (Analysis, error) {
	repoContext := RepoContext(a.cfg.Workspace)
	base := a.baseTools()

	delegate := agent.DelegateTool("delegate_task", delegateDescription,
		func() (*agent.Agent, error) {
			return a.newAgent(TaskRunnerAgent, analyzerInstruction, a.cfg.DelegateModel, base)
		},
		agent.WithPrompt(func(description string) string { return delegatePrompt(description, repoContext) }),
	)

	coordinator, err := a.newAgent(AnalyzerAgent, analyzerInstruction, a.cfg.CoordinatorModel,
		append(append([]tools.Tool{}, base...), delegate, a.reportIssueTool()))
	if err != nil {
		return Analysis{}, err
	}
	result, err := agent.RunTyped[Analysis](ctx, coordinator, agent.RunOptions{Prompt: startAnalysisPrompt(repoContext)})
	if err != nil {
		return Analysis{}, err
	}
	if len(result.Issues) == 0 {
		a.log.Info().Msg("no technical debt issues found")
	}
	return result, nil
}

// Evaluate scores the issues of an analysis and returns them joined with
// their evaluations, highest priority first.
func (a *Analyzer) Evaluate(ctx context.Context, analysis Analysis) (EvaluatedAnalysis, error) {
	if len(analysis.Issues) == 0 {
		a.log.Info().Msg("no issues to evaluate")
		return EvaluatedAnalysis{Issues: []EvaluatedIssue{}}, nil
	}
	if a.cfg.IssueSearch == nil {
		a.log.Warn().Msg("no issue index available, duplicates of existing issues may be reported")
	}
	a.log.Info().Int("issues", len(analysis.Issues)).Msg("evaluating issues")

	issues := AssignIDs(analysis.Issues)
	ev, err := a.evaluate(ctx, EvaluatorAgent, issues)
	if err != nil {
		return EvaluatedAnalysis{}, err
	}
	return Merge(issues, ev.Issues, a.log), nil
}
