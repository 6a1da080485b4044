package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_calls_failed",
		Help:         "stats_llm_calls_failed provides total model calls that failed or ended incomplete",
		RequiredTags: []string{"model"},
	}

	StatsStepsCompleted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_steps_completed",
		Help:         "stats_steps_completed provides total orchestrator steps completed",
		RequiredTags: []string{"model"},
	}

	StatsRunsFinished = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_runs_finished",
		Help:         "stats_runs_finished provides total orchestrator runs by terminal state",
		RequiredTags: []string{"state"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolCollisions = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_collisions",
		Help:         "stats_tool_collisions provides total tool name collisions on catalog merge",
		RequiredTags: []string{"tool"},
	}

	StatsConfirmationsApproved = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_confirmations_approved",
		Help:         "stats_confirmations_approved provides total tool calls approved by user",
		RequiredTags: []string{"tool"},
	}

	StatsConfirmationsDenied = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_confirmations_denied",
		Help:         "stats_confirmations_denied provides total tool calls denied by user",
		RequiredTags: []string{"tool"},
	}
)

// Perf
var (
	PerfChatRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_chat_run",
		Help:         "perf_chat_run provides duration of chat request",
		RequiredTags: []string{"state"},
	}

	PerfModelStep = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_model_step",
		Help:         "perf_model_step provides duration of model response streaming",
		RequiredTags: []string{"model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfChatRun,
	&PerfModelStep,
	&PerfToolCall,
	&StatsConfirmationsApproved,
	&StatsConfirmationsDenied,
	&StatsLLMCallsFailed,
	&StatsLLMInputTokens,
	&StatsLLMOutputTokens,
	&StatsRunsFinished,
	&StatsStepsCompleted,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
	&StatsToolCollisions,
}
