package analysis

import (
	"fmt"
	"strings"
	"time"
)

const analyzerInstruction = `You help find technical debt in a repository. Areas worth examining:

# Outdated dependencies
Is the language version, a library or module, a CI/CD image or an infrastructure module (e.g. terraform) behind
upstream?

# Deprecated usages
Does the code call functions its libraries have deprecated? Weigh the effort of moving off them now against being
forced into a rushed migration later.

# Security
Are there practices that would make the project safer? Keep the project's context in mind: a static personal site
may need neither CORS nor https.

# Build and lint warnings
Does the build emit warnings? Are linter findings being suppressed or ignored?

# Duplicated code
Is similar logic repeated in several places that could move into a shared package?

# Dead code
Is there unused or abandoned code? Check the history for areas that were deprecated long ago but never removed.

# Antipatterns
Is anything done in a way the wider community would consider bad practice or non-idiomatic? Compare against the
conventions the repository itself follows as well.

# Hard to follow code
Are there confusing names or tangled control flow that could be simplified?
`

const startAnalysisTemplate = `Our job is to find the technical debt in this repository and produce an actionable list of the most
important issues. Each issue will become a ticket, so it must be clear enough for a junior engineer to pick up.

Order the issues by value, trading off impact against the effort to fix them. Every item must be something an engineer
can act on. Prefer findings that need reasoning over ones that existing tooling already reports, such as TODO comments
or test coverage numbers.

We are running as a command line tool inside the repository. All of your tools share the same working directory.

Use set_todos and update_user often, both to track your own work and to tell the user how you are progressing. Tell the
user as soon as a task is done rather than batching updates.

Make several tool calls at once where you can, e.g. updating TODOs, updating the user and taking the next step together.

Start with a broad look at the repository and only then dig into particular kinds of debt. Avoid settling on one area
too early.

Hand larger pieces of work to sub-agents with delegate_task so you can keep the overall picture in view. Use
report_issue to get early critique of candidate issues.

Explore the whole repository before answering. Aim for 10-15 issues, but fewer is fine if there is little of substance.

<good-response>
1. Update github.com/example/module/v1 to github.com/example-module/v2
2. Stop building JSON by hand in net.company.foo/Response.java
3. Extract the shared error handling in pkg/api/accounts/errors.go and pkg/api/orders/errors.go
</good-response>
<bad-response reason="general advice rather than actionable items">
**Highest priority** is refactoring the god objects and fixing error handling that could fail at runtime.
**Medium priority** covers dead code, dependency updates and duplicated patterns.
</bad-response>

Leave out issues that cannot be acted on yet:
<bad-response>
1. Remove pytest once the migration to unittest has finished
</bad-response>

%s
`

const delegateTemplate = `You have been given the following task as part of finding the key areas of technical debt in this
repository:
%s

%s
`

const evalInstructionTemplate = `Our job is to judge how useful a set of suggested technical debt fixes would be to the owners of this
repository. For each suggestion produce a set of indicators describing the kind of issue and how the maintainers are
likely to receive it. Echo the id and the title of every issue exactly as they appear in the input.
%s
Objective or subjective: an objective issue is one any maintainer would want fixed, a subjective one is a matter of
taste the maintainers may not share.

<objective>
An index in main.py can go out of bounds of the array it reads.
</objective>
<objective>
Two goroutines in main.go access the same map without synchronisation.
</objective>
<subjective reason="unclear that the owners would want it">
The frontend serves static files and should be rewritten in Next.js.
</subjective>

Actionable: can it be done now, or does it depend on something that has not happened yet such as a major release?

<actionable reason="the condition has already been met">
A TODO says to simplify the code once Go 1.19 can be required, and Go 1.19 has been out for a long time.
</actionable>
<not-actionable reason="removal breaks users and needs a major release">
The deprecated --change_dir flag should be removed.
</not-actionable>

Production: does the issue affect the software wherever it runs, or only development setups?

<production>
Request body size is unlimited, so a client can exhaust memory with a huge upload.
</production>
<not-production reason="a live reloading dev server does not need https">
Dev mode serves plain http while watching files.
</not-production>

Local: is the fix confined to one function or file, or spread across the repository?

Impact, i.e. how bad is it to leave the issue alone:
- high: security holes, crashes or data loss, performance bad enough to make the software unusable
- medium: bugs hitting some users, deprecated APIs removed in the next version, code that slows feature work
- low: small inconsistencies, readability refactors, preventative changes, unlikely bugs

Effort, i.e. how much engineering time the fix needs:
- high: large refactors, subtle changes needing care, staged migrations, anything breaking compatibility
- medium: changes across several files or directories, two or three pull requests, non-obvious solutions
- low: one or two files, clearly scoped, a simple fix in a single pull request
`

const issueSearchInstruction = `
You MUST search for related issues with query_issues to make sure you are not reporting issues that have already
been considered. List any existing issue that already covers a suggestion in duplicated_by.
`

const evalPromptTemplate = `Evaluate the suggestions in the JSON below.

Each entry has:
- issue: the suggestion (id, title, short_description, impact, recommended_action, files)
- file_contents: the referenced code keyed by file path, so you can check the suggestion against the source

JSON: %s
`

const searchInstructionTemplate = `You answer questions by searching the web.

You have two tools:
1. web_search(query, max_results) returns titles, URLs and snippets from a search engine
2. fetch_page_content(url, max_length) returns the text of one page

Run one or more searches with different phrasings, pick the most promising results, fetch only the pages likely to
hold the answer and combine what you find. Prefer official documentation and other authoritative sources. Always cite
the URLs you relied on.

Example answer:
The latest Go version is 1.23.4

Source: Official Go downloads page (https://go.dev/dl/)

The current date is %s.
`

func startAnalysisPrompt(repoContext string) string {
	return fmt.Sprintf(startAnalysisTemplate, repoContext)
}

func delegatePrompt(task, repoContext string) string {
	return fmt.Sprintf(delegateTemplate, task, repoContext)
}

func evalInstruction(issueSearch bool) string {
	if issueSearch {
		return fmt.Sprintf(evalInstructionTemplate, issueSearchInstruction)
	}
	return fmt.Sprintf(evalInstructionTemplate, "")
}

func evalPrompt(inputJSON string) string {
	return fmt.Sprintf(evalPromptTemplate, inputJSON)
}

func searchInstruction(now time.Time) string {
	return fmt.Sprintf(searchInstructionTemplate, now.Format(time.DateOnly))
}

// searchPrompt is the user message asking a search agent a question.
func searchPrompt(question string) string {
	return "Please answer the following question: " + strings.TrimSpace(question)
}
