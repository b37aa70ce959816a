// Package dispatch implements the moderation-gated message pipeline. Every
// envelope is screened, recorded, enriched with historical context, handed
// to the external model and its reply recorded, moving through an explicit
// per-envelope state machine. Retention cleanup runs opportunistically every
// few recorded turns.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/llm"
	"github.com/agentrelay/agentrelay-go/pkg/memory"
	"github.com/agentrelay/agentrelay-go/pkg/moderation"
	"github.com/agentrelay/agentrelay-go/pkg/retention"
	"github.com/agentrelay/agentrelay-go/pkg/retrieval"
)

// State is the dispatch progress of one envelope.
type State string

const (
	// StateReceived: the envelope entered the pipeline.
	StateReceived State = "received"

	// StateScreened: the moderation filter classified the content.
	StateScreened State = "screened"

	// StateRejected: terminal; blocked by moderation policy. The turn was
	// written to the moderation stream, never to conversation memory.
	StateRejected State = "rejected"

	// StateRecorded: the inbound turn was appended to memory.
	StateRecorded State = "recorded"

	// StateContextBuilt: historical context was assembled for the model.
	StateContextBuilt State = "context_built"

	// StateForwarded: the envelope was handed to the model collaborator.
	// Terminal when the model call fails or times out: the inbound turn
	// stays recorded and the conversation is left one-sided.
	StateForwarded State = "forwarded"

	// StateResponseRecorded: the model reply was appended to memory.
	StateResponseRecorded State = "response_recorded"

	// StateDone: terminal success.
	StateDone State = "done"
)

// Result reports the outcome of dispatching one envelope.
type Result struct {
	// EnvelopeID identifies the envelope (assigned at dispatch if the
	// sender left it empty).
	EnvelopeID string

	// State is the final pipeline state.
	State State

	// Reply is the model response (empty unless State is
	// StateResponseRecorded or StateDone).
	Reply string

	// Flagged reports whether moderation matched any disallowed term.
	Flagged bool

	// MatchedTerms lists the matched terms when Flagged.
	MatchedTerms []string
}

// Options holds dispatcher configuration overrides passed to New.
type Options struct {
	// Policy is the flagged-envelope disposition. Default: annotate.
	Policy core.ModerationPolicy

	// CleanupEvery triggers retention cleanup after this many recorded
	// turns per aggregate. Default: core.DefaultCleanupEvery.
	CleanupEvery int

	// ModelTimeout bounds the model call. Default: core.DefaultModelTimeout.
	ModelTimeout time.Duration

	// ContextWindow is the number of conversation entries supplied as
	// model context. Default: core.DefaultQueryLimit.
	ContextWindow int

	// Logger receives structured pipeline logs. Default: slog.Default().
	Logger *slog.Logger
}

// Dispatcher runs the per-envelope pipeline. Safe for concurrent use:
// envelopes for different aggregates proceed in parallel while per-aggregate
// serialization is enforced by the memory store.
type Dispatcher struct {
	store     *memory.Store
	engine    *retrieval.Engine
	retention *retention.Policy
	filter    *moderation.Filter
	provider  llm.Provider

	policy        core.ModerationPolicy
	cleanupEvery  int
	modelTimeout  time.Duration
	contextWindow int
	logger        *slog.Logger

	mu    sync.Mutex
	turns map[string]int
}

// New constructs a Dispatcher with optional overrides.
func New(store *memory.Store, engine *retrieval.Engine, policy *retention.Policy, filter *moderation.Filter, provider llm.Provider, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Policy:        core.PolicyAnnotate,
		CleanupEvery:  core.DefaultCleanupEvery,
		ModelTimeout:  core.DefaultModelTimeout,
		ContextWindow: core.DefaultQueryLimit,
		Logger:        slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Dispatcher{
		store:         store,
		engine:        engine,
		retention:     policy,
		filter:        filter,
		provider:      provider,
		policy:        opts.Policy,
		cleanupEvery:  opts.CleanupEvery,
		modelTimeout:  opts.ModelTimeout,
		contextWindow: opts.ContextWindow,
		logger:        opts.Logger,
		turns:         make(map[string]int),
	}
}

// Dispatch runs one envelope through the pipeline.
//
// Flagged content under the block policy terminates in StateRejected with
// the flagged text written to the moderation stream and conversation memory
// untouched. A moderation evaluation failure fails OPEN: the envelope is
// treated as clean and the failure logged. A model failure or timeout leaves
// the already-recorded inbound turn in place and returns StateForwarded with
// the error.
func (d *Dispatcher) Dispatch(ctx context.Context, env *core.Envelope) (*Result, error) {
	if env.UserID == "" || env.To == "" {
		return nil, core.WrapError("Dispatch", fmt.Errorf("%w: envelope requires user_id and to", core.ErrInvalidInput))
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	result := &Result{EnvelopeID: env.ID, State: StateReceived}

	// Screen.
	screen, err := d.filter.Classify(env.Content)
	if err != nil {
		// Fail open: a transient scanner fault must never block all
		// traffic. The failure itself is always logged for audit.
		d.logger.Error("moderation evaluation failed, failing open",
			"envelope_id", env.ID,
			"from", env.From,
			"to", env.To,
			"error", err,
		)
		screen = moderation.Result{}
	}
	result.State = StateScreened
	result.Flagged = screen.Flagged
	result.MatchedTerms = screen.MatchedTerms

	if screen.Flagged {
		rec := &core.ModerationRecord{
			ID:           uuid.NewString(),
			Content:      env.Content,
			From:         env.From,
			To:           env.To,
			MatchedTerms: screen.MatchedTerms,
			Timestamp:    time.Now(),
		}
		if err := d.store.RecordModeration(ctx, rec); err != nil {
			return result, err
		}
		d.logger.Warn("envelope flagged by moderation",
			"envelope_id", env.ID,
			"from", env.From,
			"to", env.To,
			"matched_terms", screen.MatchedTerms,
			"policy", string(d.policy),
		)
		if d.policy == core.PolicyBlock {
			result.State = StateRejected
			return result, nil
		}
	}

	// Record the inbound turn.
	_, err = d.store.AddEntry(ctx, env.UserID, env.To, core.MemoryTypeConversation, env.Content,
		core.WithMetadata(turnMetadata(env, "user")))
	if err != nil {
		return result, err
	}
	result.State = StateRecorded

	// Build context.
	messages, err := d.buildContext(ctx, env)
	if err != nil {
		return result, err
	}
	result.State = StateContextBuilt

	// Forward to the model, time-boxed. Cancellation aborts this step
	// without rolling back the inbound turn.
	modelCtx, cancel := context.WithTimeout(ctx, d.modelTimeout)
	defer cancel()

	result.State = StateForwarded
	reply, err := d.provider.GenerateWithMessages(modelCtx, messages)
	if err != nil {
		d.logger.Error("model invocation failed, conversation left one-sided",
			"envelope_id", env.ID,
			"to", env.To,
			"error", err,
		)
		return result, core.WrapError("Dispatch", fmt.Errorf("%w: %v", core.ErrModelOperation, err))
	}

	// Record the reply.
	_, err = d.store.AddEntry(ctx, env.UserID, env.To, core.MemoryTypeConversation, reply,
		core.WithMetadata(turnMetadata(env, "agent")))
	if err != nil {
		return result, err
	}
	result.State = StateResponseRecorded
	result.Reply = reply

	d.maybeCleanup(ctx, env.UserID, env.To)

	result.State = StateDone
	return result, nil
}

// Close releases the storage backend and model provider.
func (d *Dispatcher) Close() error {
	var errs []error
	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.provider != nil {
		if err := d.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ModerationRecords exposes the audit stream.
func (d *Dispatcher) ModerationRecords(ctx context.Context) ([]*core.ModerationRecord, error) {
	return d.store.ModerationRecords(ctx, nil)
}

// MemoryOverview exposes the memory query surface for a (user, agent) pair.
func (d *Dispatcher) MemoryOverview(ctx context.Context, userID, agentID string) (*core.MemoryOverview, error) {
	return d.engine.Overview(ctx, userID, agentID)
}

// buildContext assembles the model input: the aggregate summary and
// high-importance memories as a system message, the recent conversation
// window as alternating turns, and the new content last.
func (d *Dispatcher) buildContext(ctx context.Context, env *core.Envelope) ([]llm.Message, error) {
	window, err := d.engine.RecentContext(ctx, env.UserID, env.To, d.contextWindow)
	if err != nil {
		return nil, err
	}
	important, err := d.engine.ImportantMemories(ctx, env.UserID, env.To)
	if err != nil {
		return nil, err
	}

	var system string
	for _, entry := range important {
		if entry.Type == core.MemoryTypeConversation {
			continue
		}
		system += string(entry.Type) + ": " + entry.Content + "\n"
	}

	var messages []llm.Message
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	for _, entry := range window {
		role := "user"
		if r, ok := entry.Metadata["role"].(string); ok && r == "agent" {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: entry.Content})
	}
	return messages, nil
}

// maybeCleanup triggers retention cleanup once enough turns were recorded
// for the aggregate. Cleanup failures are logged, never surfaced to the
// dispatching turn.
func (d *Dispatcher) maybeCleanup(ctx context.Context, userID, agentID string) {
	key := userID + "\x00" + agentID

	d.mu.Lock()
	d.turns[key]++
	due := d.turns[key] >= d.cleanupEvery
	if due {
		d.turns[key] = 0
	}
	d.mu.Unlock()

	if !due || d.retention == nil {
		return
	}
	if _, err := d.retention.Cleanup(ctx, userID, agentID); err != nil {
		d.logger.Error("opportunistic cleanup failed",
			"user_id", userID,
			"agent_id", agentID,
			"error", err,
		)
	}
}

func turnMetadata(env *core.Envelope, role string) map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": env.ConversationID,
		"envelope_id":     env.ID,
		"from":            env.From,
		"to":              env.To,
		"performative":    env.Performative,
		"role":            role,
	}
}
