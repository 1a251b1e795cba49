package llm

import "sync"

// AgentUsage is the accumulated usage of one named agent.
type AgentUsage struct {
	Agent            string
	Model            string
	Calls            int
	PromptTokens     int64
	CachedTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Cost             float64
}

func (a *AgentUsage) add(u Usage) {
	a.Calls++
	a.PromptTokens += u.PromptTokens
	a.CachedTokens += u.CachedTokens
	a.CompletionTokens += u.CompletionTokens
	a.TotalTokens += u.TotalTokens
	a.Cost += u.Cost
}

// UsageSummary is a snapshot of the tracker.
type UsageSummary struct {
	Agents []AgentUsage // in order of first use
	Total  AgentUsage
}

// CacheHitRate is cached prompt tokens as a percentage of all prompt tokens.
func (s UsageSummary) CacheHitRate() float64 {
	if s.Total.PromptTokens == 0 {
		return 0
	}
	return float64(s.Total.CachedTokens) / float64(s.Total.PromptTokens) * 100
}

// UsageTracker accumulates usage per agent name. It is shared by every agent
// in a run, including delegates running concurrently.
type UsageTracker struct {
	mu     sync.Mutex
	agents map[string]*AgentUsage
	order  []string
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{agents: make(map[string]*AgentUsage)}
}

// Record adds one call's usage to agent's bucket. The model of the first call
// names the bucket's model.
func (t *UsageTracker) Record(agent, model string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.agents[agent]
	if !ok {
		a = &AgentUsage{Agent: agent, Model: model}
		t.agents[agent] = a
		t.order = append(t.order, agent)
	}
	a.add(u)
}

// Agent returns the usage recorded for one agent.
func (t *UsageTracker) Agent(name string) AgentUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.agents[name]; ok {
		return *a
	}
	return AgentUsage{Agent: name}
}

// Summary returns every agent's usage and the totals across all of them.
func (t *UsageTracker) Summary() UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := UsageSummary{Total: AgentUsage{Agent: "Total"}}
	for _, name := range t.order {
		a := *t.agents[name]
		s.Agents = append(s.Agents, a)
		s.Total.Calls += a.Calls
		s.Total.PromptTokens += a.PromptTokens
		s.Total.CachedTokens += a.CachedTokens
		s.Total.CompletionTokens += a.CompletionTokens
		s.Total.TotalTokens += a.TotalTokens
		s.Total.Cost += a.Cost
	}
	return s
}
