package anthropic

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/pkg/llms"
	"github.com/effective-security/gohitl/pkg/schema"
	"github.com/effective-security/x/values"
)

var (
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
)

const (
	DefaultMaxTokens = 4096
)

type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// If no token is provided via options, it will attempt to read the API key
// from the ANTHROPIC_API_KEY environment variable.
//
// Example usage:
//
//	llm, err := anthropic.New(
//	    anthropic.WithToken("your-api-key"),
//	    anthropic.WithModel("claude-sonnet-4-5"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream, err := llm.StreamContent(ctx, messages, llms.WithTools(tools))
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		Token:          os.Getenv(TokenEnvVarName),
		BaseURL:        DefaultBaseURL,
		HttpClient:     http.DefaultClient,
		MaxRetries:     DefaultMaxRetries,
		RequestTimeout: DefaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	return &LLM{
		Client:  newClient(options),
		Options: options,
	}, nil
}

func newClient(options *Options) *anthropic.Client {
	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(options.MaxRetries),
	}
	if options.RequestTimeout > 0 {
		sdkOpts = append(sdkOpts, option.WithRequestTimeout(options.RequestTimeout))
	}
	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}
	if options.AnthropicBetaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", options.AnthropicBetaHeader))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &client
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// StreamContent implements the Model interface.
//
// The conversation is converted to the Messages API format, the request
// is sent with streaming enabled, and SDK events are translated to
// llms events as they are read.
func (o *LLM) StreamContent(ctx context.Context, messages []*chatmodel.Message, options ...llms.CallOption) (llms.ContentStream, error) {
	opts := llms.NewCallOptions(llms.WithModel(o.Options.Model))
	for _, opt := range options {
		opt(opts)
	}

	params, err := NewMessageParams(messages, opts)
	if err != nil {
		return nil, err
	}

	return newStream(o.Client.Messages.NewStreaming(ctx, params)), nil
}

// NewMessageParams builds the request parameters for the conversation.
func NewMessageParams(messages []*chatmodel.Message, opts *llms.CallOptions) (anthropic.MessageNewParams, error) {
	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, errors.WithMessage(err, "anthropic: failed to process messages")
	}
	if len(sdkMessages) == 0 {
		return anthropic.MessageNewParams{}, errors.New("anthropic: no messages to send")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}

	system := strings.TrimSpace(opts.System + "\n" + systemPrompt)
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: system,
			},
		}
	}

	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	if tools := ToTools(opts.Tools); len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = ToToolChoice(opts.ToolChoice)
	}
	return params, nil
}

// ToToolChoice maps the tool choice to the SDK union.
func ToToolChoice(choice llms.ToolChoice) anthropic.ToolChoiceUnionParam {
	switch choice {
	case llms.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case llms.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// ToTools converts LLM tool definitions to Anthropic SDK tool parameters.
//
// Returns nil if no tools are provided, which is handled gracefully by the API.
func ToTools(tools []llms.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Function == nil {
			continue
		}
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: schema.PropertiesMap(tool.Function.Parameters),
		}
		if p := tool.Function.Parameters; p != nil && len(p.Required) > 0 {
			inputSchema.Required = p.Required
		}

		sdkTools = append(sdkTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Function.Name,
				Description: anthropic.String(tool.Function.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return sdkTools
}

// ProcessMessages converts the conversation to Anthropic SDK message parameters.
//
// System messages are joined into the returned system prompt.
// Invocations with a result are sent as tool_use blocks of the assistant
// followed by a user message with the matching tool_result blocks.
// Invocations without a result are not sent.
func ProcessMessages(messages []*chatmodel.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var system []string
	for _, msg := range messages {
		if msg == nil || len(msg.Parts) == 0 {
			continue
		}
		switch msg.Role {
		case chatmodel.RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, text)
			}
		case chatmodel.RoleUser:
			if m, ok := HandleUserMessage(msg); ok {
				chatMessages = append(chatMessages, m)
			}
		case chatmodel.RoleAssistant:
			chatMessages = append(chatMessages, HandleAssistantMessage(msg)...)
		case chatmodel.RoleTool:
			chatMessages = append(chatMessages, HandleToolMessage(msg)...)
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %v", msg.Role)
		}
	}
	return chatMessages, strings.Join(system, "\n"), nil
}

// HandleUserMessage converts the text parts of a user message.
func HandleUserMessage(msg *chatmodel.Message) (anthropic.MessageParam, bool) {
	var contents []anthropic.ContentBlockParamUnion
	for _, p := range msg.Parts {
		if p.Type == chatmodel.PartText && p.Text != "" {
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		}
	}
	if len(contents) == 0 {
		return anthropic.MessageParam{}, false
	}
	return anthropic.NewUserMessage(contents...), true
}

// HandleToolMessage converts the resolved invocations of a tool message,
// each one is sent as a tool_use answered by its tool_result.
// Text parts of a tool message are not sent.
func HandleToolMessage(msg *chatmodel.Message) []anthropic.MessageParam {
	invs := &chatmodel.Message{ID: msg.ID, Role: chatmodel.RoleAssistant}
	for _, p := range msg.Parts {
		if p.Type == chatmodel.PartToolInvocation {
			invs.Parts = append(invs.Parts, p)
		}
	}
	return HandleAssistantMessage(invs)
}

// HandleAssistantMessage converts an assistant message.
//
// A text part that follows tool invocations starts a new turn,
// so that every tool_use block is answered before the next text.
func HandleAssistantMessage(msg *chatmodel.Message) []anthropic.MessageParam {
	var list []anthropic.MessageParam
	var contents []anthropic.ContentBlockParamUnion
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(contents) > 0 {
			list = append(list, anthropic.NewAssistantMessage(contents...))
		}
		if len(results) > 0 {
			list = append(list, anthropic.NewUserMessage(results...))
		}
		contents, results = nil, nil
	}

	for _, p := range msg.Parts {
		switch p.Type {
		case chatmodel.PartText:
			if p.Text == "" {
				continue
			}
			if len(results) > 0 {
				flush()
			}
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		case chatmodel.PartToolInvocation:
			inv := p.ToolInvocation
			if inv == nil || inv.State != chatmodel.StateResult {
				continue
			}
			args := inv.Args
			if args == nil {
				args = map[string]any{}
			}
			contents = append(contents, anthropic.NewToolUseBlock(inv.ToolCallID, args, inv.ToolName))

			content := inv.Error
			if !inv.IsError() {
				content = chatmodel.Stringify(inv.Result)
			}
			results = append(results, anthropic.NewToolResultBlock(inv.ToolCallID, content, inv.IsError()))
		}
	}
	flush()
	return list
}
