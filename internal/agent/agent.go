// Package agent drives a single chat turn: it builds the model input from the
// conversation, runs the tool-calling loop over the knowledge-base tools,
// and packages the final answer with its tool-call and citation metadata.
// The loop is explicit rather than delegated to an agent runtime so the
// round cap, tool error policy and content filter override stay under
// this package's control.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbai-go/internal/budget"
	"github.com/54b3r/kbai-go/internal/knowledge"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/tools"
)

// DefaultMaxToolRounds bounds how many model responses in one turn may
// request tools before the model is forced to answer.
const DefaultMaxToolRounds = 6

var (
	// ErrEmptyConversation is returned when a turn is requested with no messages.
	ErrEmptyConversation = errors.New("agent: messages must not be empty")

	// ErrToolLoopExceeded is returned when the model still produces no answer
	// after the tool round cap and the final tools-free call.
	ErrToolLoopExceeded = errors.New("agent: tool round limit reached without an answer")
)

// Config holds the dependencies required to construct an Orchestrator.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Tools are bound to the model for every turn.
	Tools []tool.InvokableTool

	// MaxToolRounds defaults to DefaultMaxToolRounds if zero.
	MaxToolRounds int

	// MaxContextTokens is the estimated token budget for the system prompt,
	// history and new prompt. History is trimmed oldest-first to fit.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// ModelName is reported in Result.Model.
	ModelName string

	// SystemPrompt overrides the default prompt built from
	// knowledge.TableSchemas.
	SystemPrompt string
}

// Sink receives answer text as the model streams it.
type Sink interface {
	Token(text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(text string) error

// Token calls f(text).
func (f SinkFunc) Token(text string) error { return f(text) }

// Orchestrator runs chat turns against a tool-calling chat model.
type Orchestrator struct {
	// chat is the model without tools, used for titles and the final
	// capped-round answer.
	chat model.ToolCallingChatModel

	// bound is chat with every tool attached.
	bound model.ToolCallingChatModel

	// tools indexes the tool implementations by name.
	tools map[string]tool.InvokableTool

	// toolNames lists the tool names in registration order.
	toolNames []string

	maxToolRounds    int
	maxContextTokens int
	modelName        string
	systemPrompt     string
}

// New constructs an Orchestrator from the provided Config.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil || cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if len(cfg.Tools) == 0 {
		return nil, fmt.Errorf("agent: at least one tool is required")
	}

	o := &Orchestrator{
		chat:             cfg.ChatModel,
		tools:            make(map[string]tool.InvokableTool, len(cfg.Tools)),
		maxToolRounds:    cfg.MaxToolRounds,
		maxContextTokens: cfg.MaxContextTokens,
		modelName:        cfg.ModelName,
		systemPrompt:     cfg.SystemPrompt,
	}
	if o.maxToolRounds <= 0 {
		o.maxToolRounds = DefaultMaxToolRounds
	}
	if o.maxContextTokens <= 0 {
		o.maxContextTokens = budget.DefaultMaxContextTokens
	}
	if o.systemPrompt == "" {
		o.systemPrompt = BuildSystemPrompt(knowledge.TableSchemas)
	}

	infos := make([]*schema.ToolInfo, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		info, err := t.Info(context.Background())
		if err != nil {
			return nil, fmt.Errorf("agent: failed to read tool info: %w", err)
		}
		if _, dup := o.tools[info.Name]; dup {
			return nil, fmt.Errorf("agent: duplicate tool %q", info.Name)
		}
		o.tools[info.Name] = t
		o.toolNames = append(o.toolNames, info.Name)
		infos = append(infos, info)
	}

	bound, err := cfg.ChatModel.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to bind tools: %w", err)
	}
	o.bound = bound
	return o, nil
}

// Execute runs one turn and returns the complete result.
func (o *Orchestrator) Execute(ctx context.Context, msgs []Message) (*Result, error) {
	return o.run(ctx, msgs, nil)
}

// ExecuteStream runs one turn, forwarding answer text to sink as the model
// produces it. The returned Result carries the same metadata as Execute.
// When the content filter fires, the refusal is sent to sink as one token.
func (o *Orchestrator) ExecuteStream(ctx context.Context, msgs []Message, sink Sink) (*Result, error) {
	if sink == nil {
		return nil, fmt.Errorf("agent: sink must not be nil")
	}
	return o.run(ctx, msgs, sink)
}

// run is the turn state machine shared by Execute and ExecuteStream. A nil
// sink selects non-streaming model calls.
func (o *Orchestrator) run(ctx context.Context, msgs []Message, sink Sink) (*Result, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	state := StateValidating
	if len(msgs) == 0 {
		log.Debug("agent: turn rejected", slog.String("state", string(StateRejected)))
		return nil, ErrEmptyConversation
	}

	input := o.buildMessages(ctx, msgs)
	tr := newTranscript()
	// streamed holds every delta sent to sink across rounds, so the stored
	// answer matches what the client rendered.
	var streamed strings.Builder

	state = StateAwaitingModel
	for round := 0; ; round++ {
		capped := round >= o.maxToolRounds
		cm := o.bound
		if capped {
			cm = o.chat
			input = append(input, schema.SystemMessage(finalAnswerNudge))
			log.Warn("agent: tool round limit reached, requesting final answer",
				slog.Int("rounds", round),
			)
		}

		msg, err := o.call(ctx, cm, input, sink)
		if err != nil {
			if isJailbreakFiltered(err) {
				log.Warn("agent: content filter blocked request",
					slog.String("state", string(StateContentFiltered)),
				)
				if sink != nil {
					if sErr := sink.Token(ContentFilterRefusal); sErr != nil {
						return nil, fmt.Errorf("agent: sink: %w", sErr)
					}
				}
				return &Result{
					Answer:    ContentFilterRefusal,
					ToolCalls: []ToolCall{},
					Sources:   []tools.Source{},
					Model:     o.modelName,
					LatencyMS: time.Since(start).Milliseconds(),
				}, nil
			}
			return nil, fmt.Errorf("agent: model call failed in state %s: %w", state, err)
		}
		if sink != nil {
			streamed.WriteString(msg.Content)
		}

		if len(msg.ToolCalls) == 0 {
			if capped && strings.TrimSpace(msg.Content) == "" {
				return nil, ErrToolLoopExceeded
			}
			text := msg.Content
			if sink != nil {
				text = streamed.String()
			}
			res := &Result{
				Answer:    text,
				ToolCalls: tr.calls,
				Sources:   tr.sources,
				Model:     o.modelName,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			log.Info("agent: turn completed",
				slog.String("state", string(StateCompleted)),
				slog.Int64("latency_ms", res.LatencyMS),
				slog.Int("tools", len(res.ToolCalls)),
				slog.Int("sources", len(res.Sources)),
			)
			return res, nil
		}
		if capped {
			// The unbound model should not be able to request tools.
			return nil, ErrToolLoopExceeded
		}

		state = StateToolLoop
		input = append(input, msg)
		for _, call := range msg.ToolCalls {
			out, err := o.invoke(ctx, call)
			if err != nil {
				return nil, err
			}
			tr.record(call, out)
			input = append(input, schema.ToolMessage(out, call.ID, schema.WithToolName(call.Function.Name)))
		}
	}
}

// call performs one model request. With a sink it streams, forwarding
// content deltas and concatenating the chunks into a single message.
func (o *Orchestrator) call(ctx context.Context, cm model.BaseChatModel, input []*schema.Message, sink Sink) (*schema.Message, error) {
	if sink == nil {
		msg, err := cm.Generate(ctx, input)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, fmt.Errorf("agent: model returned no message")
		}
		return msg, nil
	}

	sr, err := cm.Stream(ctx, input)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := sink.Token(chunk.Content); err != nil {
				return nil, fmt.Errorf("agent: sink: %w", err)
			}
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("agent: model stream was empty")
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to assemble streamed message: %w", err)
	}
	return msg, nil
}

// invoke runs one tool call. Unknown tools and bad arguments are reported
// back to the model as text; any other tool error ends the turn.
func (o *Orchestrator) invoke(ctx context.Context, call schema.ToolCall) (string, error) {
	log := logging.FromContext(ctx)
	name := call.Function.Name

	t, ok := o.tools[name]
	if !ok {
		log.Warn("agent: model requested unknown tool", slog.String("tool", name))
		return fmt.Sprintf("Error: unknown tool %q. Available tools: %s", name, strings.Join(o.toolNames, ", ")), nil
	}

	started := time.Now()
	out, err := t.InvokableRun(ctx, call.Function.Arguments)
	if errors.Is(err, tools.ErrInvalidArguments) {
		log.Warn("agent: tool rejected arguments", slog.String("tool", name), slog.Any("error", err))
		return "Error: " + err.Error(), nil
	}
	if err != nil {
		return "", fmt.Errorf("agent: tool %s failed: %w", name, err)
	}
	log.Debug("agent: tool call",
		slog.String("tool", name),
		slog.Duration("duration", time.Since(started)),
		slog.Int("output_chars", len(out)),
	)
	return out, nil
}

// buildMessages converts the conversation into model input: system prompt,
// prior turns trimmed to the token budget, then the last message as the new
// user prompt.
func (o *Orchestrator) buildMessages(ctx context.Context, msgs []Message) []*schema.Message {
	system := schema.SystemMessage(o.systemPrompt)
	prompt := schema.UserMessage(msgs[len(msgs)-1].Content)

	history := make([]*schema.Message, 0, len(msgs)-1)
	for _, m := range msgs[:len(msgs)-1] {
		if m.Role == RoleUser {
			history = append(history, schema.UserMessage(m.Content))
		} else {
			history = append(history, schema.AssistantMessage(m.Content, nil))
		}
	}

	before := len(history)
	history = budget.TrimHistory([]*schema.Message{system, prompt}, history, o.maxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", o.maxContextTokens),
		)
	}

	out := make([]*schema.Message, 0, len(history)+2)
	out = append(out, system)
	out = append(out, history...)
	return append(out, prompt)
}
