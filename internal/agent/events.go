package agent

// Canonical event names emitted by the runtime's hook pipeline. There is no
// wildcard registration; consumers enumerate the events they care about.
const (
	EventContentBlockStart = "content_block:start"
	EventContentBlockDelta = "content_block:delta"
	EventContentBlockEnd   = "content_block:end"
	EventThinkingDelta     = "thinking:delta"
	EventThinkingFinal     = "thinking:final"
	EventToolPre           = "tool:pre"
	EventToolPost          = "tool:post"
	EventToolError         = "tool:error"
	EventSessionFork       = "session:fork"
	EventSessionStart      = "session:start"
	EventSessionEnd        = "session:end"
	EventSessionResume     = "session:resume"
	EventProviderRequest   = "provider:request"
	EventLLMRequest        = "llm:request"
	EventLLMRequestRaw     = "llm:request:raw"
	EventProviderResponse  = "provider:response"
	EventLLMResponse       = "llm:response"
	EventLLMResponseRaw    = "llm:response:raw"
	EventContextCompaction = "context:compaction"
	EventUserNotification  = "user:notification"
	EventCancelRequested   = "cancel:requested"
	EventCancelCompleted   = "cancel:completed"
	EventOrchestratorDone  = "orchestrator:complete"
	EventPromptSubmit      = "prompt:submit"
)

// AllEvents lists every canonical event, in a stable order.
var AllEvents = []string{
	EventContentBlockStart,
	EventContentBlockDelta,
	EventContentBlockEnd,
	EventThinkingDelta,
	EventThinkingFinal,
	EventToolPre,
	EventToolPost,
	EventToolError,
	EventSessionFork,
	EventSessionStart,
	EventSessionEnd,
	EventSessionResume,
	EventProviderRequest,
	EventLLMRequest,
	EventLLMRequestRaw,
	EventProviderResponse,
	EventLLMResponse,
	EventLLMResponseRaw,
	EventContextCompaction,
	EventUserNotification,
	EventCancelRequested,
	EventCancelCompleted,
	EventOrchestratorDone,
	EventPromptSubmit,
}

// HookAction tells the hook pipeline how to proceed after a handler runs.
type HookAction string

const (
	// HookContinue lets the pipeline proceed to the next handler.
	HookContinue HookAction = "continue"
	// HookStop halts the pipeline for this event.
	HookStop HookAction = "stop"
)

// HookResult is returned by hook handlers.
type HookResult struct {
	Action HookAction
	Data   map[string]any
}

// Continue is the result most handlers return.
func Continue(data map[string]any) HookResult {
	return HookResult{Action: HookContinue, Data: data}
}
