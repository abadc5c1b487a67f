package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comigor/whatsapp-relay/internal/config"
	"github.com/comigor/whatsapp-relay/internal/history"
	"github.com/comigor/whatsapp-relay/internal/journal"
	"github.com/comigor/whatsapp-relay/internal/llm"
	"github.com/comigor/whatsapp-relay/internal/logger"
	"github.com/comigor/whatsapp-relay/internal/observability"

	"github.com/qmuntal/stateless"
)

// FSM States
type FSMState string

const (
	StateReceived     FSMState = "Received"
	StateRecordedUser FSMState = "RecordedUser"
	StatePrompted     FSMState = "Prompted"
	StateModelCalled  FSMState = "ModelCalled"
	StateNormalized   FSMState = "Normalized"
	StateRecordedBot  FSMState = "RecordedBot"
	StateSent         FSMState = "Sent"   // Terminal: reply delivered
	StateFailed       FSMState = "Failed" // Terminal: model or send failure
)

// FSM Triggers
type FSMTrigger string

const (
	TriggerReceive       FSMTrigger = "Receive"
	TriggerUserRecorded  FSMTrigger = "UserRecorded"
	TriggerPromptBuilt   FSMTrigger = "PromptBuilt"
	TriggerModelReplied  FSMTrigger = "ModelReplied"
	TriggerNormalized    FSMTrigger = "Normalized"
	TriggerReplyRecorded FSMTrigger = "ReplyRecorded"
	TriggerDelivered     FSMTrigger = "Delivered"
	TriggerFail          FSMTrigger = "Fail"
)

// Outcome is the terminal result of one inbound message.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
)

var (
	// ErrNotify marks a typing/read notification failure. It is only logged.
	ErrNotify = errors.New("typing notification failed")
	// ErrModel marks a model backend failure; the sender gets an apology.
	ErrModel = errors.New("model backend failed")
	// ErrSend marks a rejected or failed outbound reply.
	ErrSend = errors.New("reply send failed")
)

// ApologyText is sent when the model backend fails.
const ApologyText = "Sorry, I encountered an error processing your message."

// Model produces a reply for an ordered prompt.
type Model interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Platform is the messaging side: typing indicator and outbound text.
type Platform interface {
	NotifyTyping(ctx context.Context, messageID string) error
	SendText(ctx context.Context, to, text string) error
}

// Recorder keeps an audit trail of pipeline runs.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry)
}

// Inbound is one text message delivered by the platform.
type Inbound struct {
	From      string
	MessageID string
	Text      string
}

// Agent runs the message pipeline
type Agent struct {
	store        *history.Store
	model        Model
	platform     Platform
	recorder     Recorder
	metrics      *observability.Metrics
	systemPrompt string
	maxSentences int
	dedup        *dedup
	locks        *senderLocks
}

// Option customizes an Agent.
type Option func(*Agent)

// WithRecorder journals every run.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithMetrics counts outcomes, failures and transitions.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates a new agent.
func New(store *history.Store, model Model, platform Platform, appCfg config.Config, opts ...Option) *Agent {
	a := &Agent{
		store:        store,
		model:        model,
		platform:     platform,
		systemPrompt: appCfg.LLM.SystemPrompt,
		maxSentences: appCfg.Conversation.MaxSentences,
		dedup:        newDedup(appCfg.Dedup.Size, appCfg.Dedup.TTL),
		locks:        newSenderLocks(),
	}
	if a.systemPrompt == "" {
		a.systemPrompt = defaultSystemPrompt
	}
	if a.maxSentences <= 0 {
		a.maxSentences = DefaultMaxSentences
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildPrompt builds the model prompt for sender from the stored history.
func (a *Agent) BuildPrompt(sender, text string) []llm.Message {
	return BuildPrompt(a.systemPrompt, a.store.History(sender), text)
}

// History returns sender's stored turns.
func (a *Agent) History(sender string) []history.Turn {
	return a.store.History(sender)
}

// ClearHistory forgets sender's conversation. A run already in flight for
// the sender keeps going and records its reply into a fresh history.
func (a *Agent) ClearHistory(sender string) bool {
	cleared := a.store.Clear(sender)
	logger.L.Info("conversation cleared", "sender", sender, "existed", cleared)
	return cleared
}

// Stats reports the store's aggregate counts.
func (a *Agent) Stats() history.Stats {
	return a.store.Stats()
}

// run carries one message through the FSM.
type run struct {
	msg    Inbound
	prompt []llm.Message
	raw    string
	reply  string
	err    error
}

// Handle processes one inbound message to completion. Runs for the same
// sender are serialized; different senders proceed independently. Nothing
// is retried: the error of a failed run wraps ErrModel or ErrSend.
func (a *Agent) Handle(ctx context.Context, msg Inbound) (Outcome, error) {
	if a.dedup.observe(msg.MessageID) {
		logger.L.Info("duplicate delivery skipped", "sender", msg.From, "message_id", msg.MessageID)
		a.countOutcome(OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	release, err := a.locks.acquire(ctx, msg.From)
	if err != nil {
		// never started, so a redelivery must run
		a.dedup.forget(msg.MessageID)
		a.finish(ctx, &run{msg: msg, err: err}, StateReceived, OutcomeFailed)
		return OutcomeFailed, err
	}
	defer release()

	start := time.Now()
	r := &run{msg: msg}
	fsm := a.machine(r)

	// Start the FSM
	if fireErr := fsm.FireCtx(ctx, TriggerReceive); fireErr != nil {
		logger.L.Error("FSM fire error", "error", fireErr)
		r.err = errors.Join(r.err, fmt.Errorf("FSM internal error: %w", fireErr))
	}

	currentState, err := fsm.State(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("FSM internal error: %w", err)
	}
	state, _ := currentState.(FSMState)

	if a.metrics != nil {
		a.metrics.ObservePipelineLatency(time.Since(start))
	}
	if state == StateSent && r.err == nil {
		a.finish(ctx, r, state, OutcomeSent)
		return OutcomeSent, nil
	}
	if r.err == nil {
		r.err = fmt.Errorf("FSM ended in an unexpected state: %v", currentState)
	}
	a.finish(ctx, r, state, OutcomeFailed)
	return OutcomeFailed, r.err
}

// machine wires the pipeline states. Each OnEntry action performs the step
// that leads out of its state and fires the matching trigger; firing is
// queued, so the whole run completes inside the initial FireCtx.
func (a *Agent) machine(r *run) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateReceived)
	log := logger.L.With("sender", r.msg.From, "message_id", r.msg.MessageID)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		log.Debug("FSM transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
		if a.metrics != nil {
			a.metrics.Transitions.WithLabelValues(fmt.Sprint(t.Destination)).Inc()
		}
	})

	// State: Received
	// Action: best-effort typing indicator, then store the user turn.
	fsm.Configure(StateReceived).
		PermitReentry(TriggerReceive). // the initial Fire enters Received again to run OnEntry
		OnEntry(func(ctx context.Context, _ ...any) error {
			if err := a.platform.NotifyTyping(ctx, r.msg.MessageID); err != nil {
				log.Warn("typing indicator failed", "error", fmt.Errorf("%w: %w", ErrNotify, err))
				a.countFailure("notify")
			}
			a.store.Append(r.msg.From, history.RoleUser, r.msg.Text)
			return fsm.FireCtx(ctx, TriggerUserRecorded)
		}).
		Permit(TriggerUserRecorded, StateRecordedUser)

	// State: RecordedUser
	// Action: build the prompt from the history that now holds the message.
	fsm.Configure(StateRecordedUser).
		OnEntry(func(ctx context.Context, _ ...any) error {
			r.prompt = a.BuildPrompt(r.msg.From, r.msg.Text)
			return fsm.FireCtx(ctx, TriggerPromptBuilt)
		}).
		Permit(TriggerPromptBuilt, StatePrompted)

	// State: Prompted
	// Action: single model call.
	// Transitions:
	//   - On ModelReplied -> StateModelCalled
	//   - On Fail -> StateFailed (apology follows)
	fsm.Configure(StatePrompted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			start := time.Now()
			raw, err := a.model.Complete(ctx, r.prompt)
			if a.metrics != nil {
				a.metrics.ObserveModelLatency(time.Since(start))
			}
			if err != nil {
				log.Error("LLM call failed", "error", err)
				a.countFailure("model")
				r.err = fmt.Errorf("%w: %w", ErrModel, err)
				return fsm.FireCtx(ctx, TriggerFail)
			}
			r.raw = raw
			return fsm.FireCtx(ctx, TriggerModelReplied)
		}).
		Permit(TriggerModelReplied, StateModelCalled).
		Permit(TriggerFail, StateFailed)

	// State: ModelCalled
	// Action: enforce the sentence limit.
	fsm.Configure(StateModelCalled).
		OnEntry(func(ctx context.Context, _ ...any) error {
			r.reply = NormalizeReply(r.raw, a.maxSentences)
			return fsm.FireCtx(ctx, TriggerNormalized)
		}).
		Permit(TriggerNormalized, StateNormalized)

	// State: Normalized
	// Action: store the assistant turn.
	fsm.Configure(StateNormalized).
		OnEntry(func(ctx context.Context, _ ...any) error {
			a.store.Append(r.msg.From, history.RoleAssistant, r.reply)
			return fsm.FireCtx(ctx, TriggerReplyRecorded)
		}).
		Permit(TriggerReplyRecorded, StateRecordedBot)

	// State: RecordedBot
	// Action: single send attempt.
	fsm.Configure(StateRecordedBot).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if err := a.platform.SendText(ctx, r.msg.From, r.reply); err != nil {
				log.Error("reply send failed", "error", err)
				a.countFailure("send")
				r.err = fmt.Errorf("%w: %w", ErrSend, err)
				return fsm.FireCtx(ctx, TriggerFail)
			}
			return fsm.FireCtx(ctx, TriggerDelivered)
		}).
		Permit(TriggerDelivered, StateSent).
		Permit(TriggerFail, StateFailed)

	// State: Sent
	// Terminal.
	fsm.Configure(StateSent).
		OnEntry(func(_ context.Context, _ ...any) error {
			log.Info("reply sent", "reply", r.reply)
			return nil
		})

	// State: Failed
	// Action: model failures get one apology attempt; a failed apology is
	// reported alongside the original error.
	fsm.Configure(StateFailed).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if !errors.Is(r.err, ErrModel) {
				return nil
			}
			if err := a.platform.SendText(ctx, r.msg.From, ApologyText); err != nil {
				log.Error("could not send error message", "error", err)
				a.countFailure("apology")
				r.err = errors.Join(r.err, fmt.Errorf("apology: %w", err))
			}
			return nil
		})

	return fsm
}

func (a *Agent) finish(ctx context.Context, r *run, state FSMState, outcome Outcome) {
	a.countOutcome(outcome)
	if outcome == OutcomeFailed {
		logger.L.Error("message processing failed", "sender", r.msg.From, "message_id", r.msg.MessageID, "state", state, "error", r.err)
	}
	if a.recorder == nil {
		return
	}
	entry := journal.Entry{
		Sender:    r.msg.From,
		MessageID: r.msg.MessageID,
		Outcome:   string(outcome),
		State:     string(state),
	}
	if r.err != nil {
		entry.Error = r.err.Error()
	}
	a.recorder.Record(context.WithoutCancel(ctx), entry)
}

func (a *Agent) countOutcome(o Outcome) {
	if a.metrics != nil {
		a.metrics.Messages.WithLabelValues(string(o)).Inc()
	}
}

func (a *Agent) countFailure(step string) {
	if a.metrics != nil {
		a.metrics.StepFailures.WithLabelValues(step).Inc()
	}
}
