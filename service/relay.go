package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"relaychat/llm"
	"relaychat/model"
	"relaychat/platform"
)

type RelayState string

const (
	StateReceived             RelayState = "received"
	StateContextAssembled     RelayState = "context-assembled"
	StateUserMessagePersisted RelayState = "user-message-persisted"
	StateModelStreaming       RelayState = "model-streaming"
	StateCompleted            RelayState = "completed"
	StateErrored              RelayState = "errored"
	StateAssistantPersisted   RelayState = "assistant-messages-persisted"
	StateClosed               RelayState = "closed"
)

const persistTimeout = 30 * time.Second

type RelayConfig struct {
	System       string
	MaxSteps     int
	HistoryLimit int
	// Timeout bounds the model call, which is detached from the client connection.
	Timeout time.Duration
	// ExposeErrors sends the cause of stream failures to the client instead of "error".
	ExposeErrors bool
}

// Relay streams a model response for one user message and records the exchange.
type Relay struct {
	chats    *ChatService
	provider llm.Provider
	tools    *llm.Registry
	logger   *logrus.Logger
	metrics  *platform.Metrics
	cfg      RelayConfig
}

func NewRelay(chats *ChatService, provider llm.Provider, tools *llm.Registry, logger *logrus.Logger, metrics *platform.Metrics, cfg RelayConfig) *Relay {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultMessageLimit
	}
	if cfg.HistoryLimit > MaxMessageLimit {
		cfg.HistoryLimit = MaxMessageLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Relay{chats: chats, provider: provider, tools: tools, logger: logger, metrics: metrics, cfg: cfg}
}

type Input struct {
	RequestID string
	UserID    string
	ChatID    string
	Message   model.Message
}

// Run is a prepared relay invocation: the chat is resolved and the user message is stored.
type Run struct {
	relay *Relay

	Chat        *model.Chat
	ChatCreated bool
	UserMessage model.Message
	MessageID   string

	history []model.Message
	state   RelayState
	log     *logrus.Entry
}

func (r *Run) State() RelayState {
	return r.state
}

func (r *Run) transition(state RelayState) {
	r.log.WithFields(logrus.Fields{"from": r.state, "to": state}).Debug("relay state")
	r.state = state
}

// Prepare validates in, resolves the chat, loads the context and stores the user message.
// Nothing is written when it returns a *ValidationError or ErrNotFound.
func (r *Relay) Prepare(ctx context.Context, in Input) (*Run, error) {
	run := &Run{
		relay:     r,
		MessageID: model.NewMessageID(),
		state:     StateReceived,
		log: r.logger.WithFields(logrus.Fields{
			"requestId": in.RequestID,
			"userId":    in.UserID,
			"chatId":    in.ChatID,
		}),
	}

	if err := validateInput(in); err != nil {
		r.metrics.RelayRejected("invalid")
		return nil, err
	}

	chat, created, err := r.chats.GetOrCreateChat(ctx, in.UserID, in.ChatID, in.Message.FirstText())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.RelayRejected("not-found")
		}
		return nil, err
	}
	run.Chat, run.ChatCreated = chat, created
	run.log = run.log.WithField("chatId", chat.ID)

	history, err := r.chats.GetMessages(ctx, chat.ID, in.UserID, r.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	run.transition(StateContextAssembled)

	rows, err := r.chats.SaveMessages(ctx, chat.ID, in.UserID, []model.Message{in.Message})
	if err != nil {
		r.metrics.PersistFailed("user")
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	run.UserMessage = rows[0].Payload()
	run.history = append(history, run.UserMessage)
	run.transition(StateUserMessagePersisted)
	return run, nil
}

func validateInput(in Input) error {
	var problems []string
	if in.UserID == "" {
		problems = append(problems, "user id is required")
	}
	if len(in.ChatID) > 255 {
		problems = append(problems, "chatId must be at most 255 characters")
	}
	if in.Message.Role != model.RoleUser {
		problems = append(problems, fmt.Sprintf("message role must be %q", model.RoleUser))
	}
	problems = append(problems, in.Message.Validate()...)
	if len(problems) > 0 {
		return NewValidationError(problems...)
	}
	return nil
}

// Stream calls the model and writes its events to w as they arrive. A failing w does not stop
// the model call: the response is still collected and stored. The assistant messages are
// stored before the stream is terminated, including partial content when the model failed.
// The returned error reports a model or storage failure; the client has already been told.
func (r *Run) Stream(ctx context.Context, w StreamWriter) error {
	relay := r.relay
	start := time.Now()
	relay.metrics.StreamStarted()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relay.cfg.Timeout)
	defer cancel()

	sink := &frameSink{w: w, log: r.log, metrics: relay.metrics}
	codec := newTranscoder(r.MessageID, r.Chat.ID)
	sink.write(codec.start())
	r.transition(StateModelStreaming)

	var (
		builder   llm.MessageBuilder
		final     []model.Message
		streamErr error
		terminal  bool
		usage     llm.Usage
	)
	events := relay.provider.Stream(callCtx, llm.Request{
		System:   relay.cfg.System,
		Messages: r.history,
		Tools:    relay.tools,
		MaxSteps: relay.cfg.MaxSteps,
	})
	for e := range events {
		if terminal {
			continue
		}
		switch e.Type {
		case llm.EventTextDelta:
			builder.AddText(e.Delta)
		case llm.EventReasoningDelta:
			builder.AddReasoning(e.Delta)
		case llm.EventToolCall:
			if e.ToolCall != nil {
				builder.AddToolCall(*e.ToolCall)
			}
		case llm.EventToolResult:
			if e.ToolResult != nil {
				builder.AddToolResult(*e.ToolResult)
			}
		case llm.EventStepFinish:
			builder.Close()
		case llm.EventFinish:
			terminal, final, usage = true, e.Messages, e.Usage
		case llm.EventError:
			terminal, streamErr, usage = true, e.Err, e.Usage
			if streamErr == nil {
				streamErr = errors.New("model stream failed")
			}
		}
		sink.write(codec.frames(e, relay.errorText)...)
	}
	if !terminal {
		streamErr = callCtx.Err()
		if streamErr == nil {
			streamErr = errors.New("model stream ended without a result")
		}
		sink.write(append(codec.closeBlock(), codec.errorFrame(streamErr, relay.errorText))...)
	}

	outcome := "completed"
	if streamErr != nil {
		outcome = "errored"
		r.transition(StateErrored)
		r.log.Warnf("model stream failed, %s", streamErr)
	} else {
		r.transition(StateCompleted)
	}
	r.log.WithFields(logrus.Fields{
		"promptTokens":     usage.PromptTokens,
		"completionTokens": usage.CompletionTokens,
		"clientGone":       sink.failed != nil,
	}).Info("model stream ended")

	messages := final
	if len(messages) == 0 && !builder.Empty() {
		messages = []model.Message{builder.Message()}
	}
	persistErr := r.persist(ctx, messages)
	if persistErr != nil {
		outcome = "persist-failed"
	}

	sink.done()
	r.transition(StateClosed)
	relay.metrics.StreamFinished(outcome, time.Since(start))
	return errors.Join(streamErr, persistErr)
}

// persist stores the assistant messages in one write. It runs even when the client is gone.
func (r *Run) persist(ctx context.Context, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if _, err := r.relay.chats.SaveMessages(ctx, r.Chat.ID, r.Chat.UserID, messages); err != nil {
		r.relay.metrics.PersistFailed("assistant")
		r.log.Errorf("failed to save assistant messages, %s", err)
		return fmt.Errorf("failed to save assistant messages: %w", err)
	}
	r.transition(StateAssistantPersisted)
	return nil
}

func (r *Relay) errorText(err error) string {
	if r.cfg.ExposeErrors && err != nil {
		return err.Error()
	}
	return GenericErrorText
}

// frameSink writes frames until the first write error and drops everything after it.
type frameSink struct {
	w       StreamWriter
	failed  error
	log     *logrus.Entry
	metrics *platform.Metrics
}

func (s *frameSink) write(frames ...Frame) {
	for _, f := range frames {
		if s.failed != nil {
			return
		}
		if err := s.w.WriteFrame(f); err != nil {
			s.failed = err
			s.log.Warnf("client stream closed, continuing without it, %s", err)
			return
		}
		s.metrics.Frame(f.Type)
	}
}

func (s *frameSink) done() {
	if s.failed != nil {
		return
	}
	if err := s.w.WriteDone(); err != nil {
		s.failed = err
	}
}
