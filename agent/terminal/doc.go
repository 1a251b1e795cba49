// Package terminal renders agent progress for the operator.
//
// A Printer implements agent.Observer and writes styled lines to a writer,
// normally stderr so that stdout stays free for JSON and tables. Output from
// parallel sub-agents is serialised and prefixed with the task name.
//
// # Usage
//
//	p := terminal.New(os.Stderr, terminal.VerbosityInfo)
//	a, err := agent.New(client, agent.Config{Observer: p, ...})
//
// # Verbosity Levels
//
//   - None: only progress messages, reasoning and TODO lists
//   - Info: tool names are printed as they complete
//   - All: tool arguments and a preview of each result are printed too
package terminal
