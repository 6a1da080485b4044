package orchestrator_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/mocks/mockllms"
	"github.com/effective-security/gohitl/orchestrator"
	"github.com/effective-security/gohitl/pkg/llms"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestMain(m *testing.M) {
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stdout))
	xlog.SetGlobalLogLevel(xlog.DEBUG)
	os.Exit(m.Run())
}

type recorder struct {
	chunks []*orchestrator.Chunk
}

func (r *recorder) Send(_ context.Context, c *orchestrator.Chunk) error {
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *recorder) types() []orchestrator.ChunkType {
	var list []orchestrator.ChunkType
	for _, c := range r.chunks {
		list = append(list, c.Type)
	}
	return list
}

type handler struct {
	name  string
	calls int
	order *[]string
	ret   any
	err   error
}

func (h *handler) exec(_ context.Context, _ map[string]any) (any, error) {
	h.calls++
	if h.order != nil {
		*h.order = append(*h.order, h.name)
	}
	return h.ret, h.err
}

func usage(in, out int64) llms.Usage {
	return llms.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

func textResponse(text string) llms.ContentStream {
	return llms.NewStaticStream(nil,
		llms.TextDelta(text),
		llms.FinishEvent(llms.FinishReasonStop, usage(10, 5)),
	)
}

func newModel(t *testing.T, streams ...llms.ContentStream) *mockllms.MockModel {
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("claude-test").AnyTimes()
	m.EXPECT().GetProviderType().Return(llms.ProviderFake).AnyTimes()
	calls := make([]any, 0, len(streams))
	for _, s := range streams {
		calls = append(calls, m.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(s, nil))
	}
	if len(calls) > 1 {
		gomock.InOrder(calls...)
	}
	return m
}

func TestRun_Done(t *testing.T) {
	t.Parallel()

	model := newModel(t, llms.NewStaticStream(nil,
		llms.TextDelta("Hello"),
		llms.TextDelta(", world"),
		llms.FinishEvent(llms.FinishReasonStop, usage(10, 5)),
	))

	input := []*chatmodel.Message{chatmodel.NewUserMessage("hi")}
	sink := &recorder{}
	res, err := orchestrator.New(model).Run(context.Background(), &orchestrator.Request{Messages: input}, sink)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateDone, res.State)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "Hello, world", res.Steps[0].Text)
	assert.Equal(t, llms.FinishReasonStop, res.Steps[0].FinishReason)
	assert.Equal(t, usage(10, 5), res.Usage)

	require.Len(t, res.Messages, 2)
	assert.Same(t, input[0], res.Messages[0])
	assert.Equal(t, chatmodel.RoleAssistant, res.Messages[1].Role)
	assert.Equal(t, "Hello, world", res.Messages[1].Text())
	assert.Len(t, input, 1)

	assert.Equal(t, []orchestrator.ChunkType{
		orchestrator.ChunkTextDelta,
		orchestrator.ChunkTextDelta,
		orchestrator.ChunkStep,
		orchestrator.ChunkFinish,
	}, sink.types())
	last := sink.chunks[len(sink.chunks)-1]
	assert.Equal(t, orchestrator.StateDone, last.State)
}

func TestRun_StepLimit(t *testing.T) {
	t.Parallel()

	loop := func(id string) llms.ContentStream {
		return llms.NewStaticStream(nil,
			llms.ToolCallEvent(id, "getLocalTime", map[string]any{"location": "UTC"}),
			llms.FinishEvent(llms.FinishReasonToolCalls, usage(1, 1)),
		)
	}
	model := newModel(t, loop("c1"), loop("c2"), loop("c3"))

	h := &handler{ret: "10:00am"}
	catalog := tools.NewCatalog(&tools.Definition{Name: "getLocalTime", Execute: h.exec})

	sink := &recorder{}
	res, err := orchestrator.New(model, orchestrator.WithMaxSteps(3)).Run(context.Background(), &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("what time is it?")},
		Catalog:  catalog,
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateStepLimitReached, res.State)
	require.Len(t, res.Steps, 3)
	for i, rec := range res.Steps {
		assert.Equal(t, i, rec.Index)
		require.Len(t, rec.ToolResults, 1)
		assert.Equal(t, "10:00am", rec.ToolResults[0].Result)
	}
	assert.Equal(t, 3, h.calls)
	assert.Len(t, res.Messages, 4)
	assert.Equal(t, usage(3, 3), res.Usage)

	var steps int
	for _, c := range sink.chunks {
		if c.Type == orchestrator.ChunkStep {
			steps++
		}
	}
	assert.Equal(t, 3, steps)
}

func TestRun_ToolResultsOrder(t *testing.T) {
	t.Parallel()

	var seen [][]*chatmodel.Message
	ctrl := gomock.NewController(t)
	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("claude-test").AnyTimes()
	model.EXPECT().GetProviderType().Return(llms.ProviderFake).AnyTimes()
	first := model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs []*chatmodel.Message, _ ...llms.CallOption) (llms.ContentStream, error) {
			seen = append(seen, msgs)
			return llms.NewStaticStream(nil,
				llms.TextDelta("checking"),
				llms.ToolCallEvent("a1", "A", map[string]any{"n": 1}),
				llms.ToolCallEvent("b1", "B", nil),
				llms.FinishEvent(llms.FinishReasonToolCalls, usage(5, 5)),
			), nil
		})
	second := model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs []*chatmodel.Message, opts ...llms.CallOption) (llms.ContentStream, error) {
			seen = append(seen, msgs)
			o := llms.NewCallOptions(opts...)
			assert.Equal(t, "be brief", o.System)
			require.Len(t, o.Tools, 2)
			assert.Equal(t, "A", o.Tools[0].Function.Name)
			return textResponse("done"), nil
		})
	gomock.InOrder(first, second)

	var order []string
	a := &handler{name: "A", order: &order, ret: "result A"}
	b := &handler{name: "B", order: &order, err: errors.New("boom")}
	catalog := tools.NewCatalog(
		&tools.Definition{Name: "B", Execute: b.exec},
		&tools.Definition{Name: "A", Execute: a.exec},
	)

	sink := &recorder{}
	res, err := orchestrator.New(model, orchestrator.WithSystem("be brief")).Run(context.Background(), &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("go")},
		Catalog:  catalog,
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateDone, res.State)
	assert.Equal(t, []string{"A", "B"}, order)

	require.Len(t, res.Steps, 2)
	rec := res.Steps[0]
	require.Len(t, rec.ToolResults, 2)
	assert.Equal(t, "a1", rec.ToolResults[0].ToolCallID)
	assert.Equal(t, "result A", rec.ToolResults[0].Result)
	assert.Equal(t, "b1", rec.ToolResults[1].ToolCallID)
	assert.True(t, rec.ToolResults[1].IsError())
	assert.Contains(t, rec.ToolResults[1].Error, "boom")
	// calls stay as issued
	assert.True(t, rec.ToolCalls[0].IsCall())
	assert.Equal(t, map[string]any{}, rec.ToolCalls[1].Args)

	// results are fed back in the assistant message of the step
	require.Len(t, seen, 2)
	require.Len(t, seen[1], 2)
	invs := seen[1][1].ToolInvocations()
	require.Len(t, invs, 2)
	assert.Equal(t, chatmodel.StateResult, invs[0].State)
	assert.Equal(t, chatmodel.StateResult, invs[1].State)

	assert.Equal(t, []orchestrator.ChunkType{
		orchestrator.ChunkTextDelta,
		orchestrator.ChunkToolResult,
		orchestrator.ChunkToolResult,
		orchestrator.ChunkStep,
		orchestrator.ChunkTextDelta,
		orchestrator.ChunkStep,
		orchestrator.ChunkFinish,
	}, sink.types())
}

func TestRun_ConfirmationHalt(t *testing.T) {
	t.Parallel()

	model := newModel(t, llms.NewStaticStream(nil,
		llms.ToolCallEvent("w1", "getWeatherInformation", map[string]any{"city": "Seoul"}),
		llms.ToolCallEvent("t1", "getLocalTime", map[string]any{"location": "Asia/Seoul"}),
		llms.FinishEvent(llms.FinishReasonToolCalls, usage(3, 3)),
	))

	localTime := &handler{ret: "10:00am"}
	catalog := tools.NewCatalog(
		&tools.Definition{Name: "getWeatherInformation"},
		&tools.Definition{Name: "getLocalTime", Execute: localTime.exec},
	)

	sink := &recorder{}
	res, err := orchestrator.New(model).Run(context.Background(), &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("weather in Seoul?")},
		Catalog:  catalog,
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateAwaitingConfirmation, res.State)
	assert.Equal(t, 1, localTime.calls)
	require.Len(t, res.Steps, 1)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "w1", res.Pending[0].Invocation.ToolCallID)
	assert.Equal(t, 1, res.Pending[0].MessageIndex)

	invs := res.Messages[1].ToolInvocations()
	require.Len(t, invs, 2)
	assert.True(t, invs[0].IsCall())
	assert.Equal(t, "10:00am", invs[1].Result)

	assert.Equal(t, orchestrator.ChunkStep, sink.chunks[len(sink.chunks)-2].Type)
	assert.Equal(t, orchestrator.StateAwaitingConfirmation, sink.chunks[len(sink.chunks)-1].State)
}

func TestRun_PendingInput(t *testing.T) {
	t.Parallel()

	// no model call is expected
	model := newModel(t)

	pending := chatmodel.NewMessage(chatmodel.RoleAssistant, chatmodel.ToolInvocationPart(&chatmodel.ToolInvocation{
		ToolCallID: "w1",
		ToolName:   "getWeatherInformation",
		Args:       map[string]any{"city": "Seoul"},
		State:      chatmodel.StateCall,
	}))
	res, err := orchestrator.New(model).Run(context.Background(), &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("weather?"), pending},
		Catalog:  tools.NewCatalog(&tools.Definition{Name: "getWeatherInformation"}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateAwaitingConfirmation, res.State)
	assert.Empty(t, res.Steps)
	assert.Len(t, res.Pending, 1)
	assert.Len(t, res.Messages, 2)
}

func TestRun_ProviderErrors(t *testing.T) {
	t.Parallel()

	tcases := []struct {
		name   string
		stream llms.ContentStream
		err    error
		exp    string
	}{
		{
			name: "stream_error",
			stream: llms.NewStaticStream(errors.New("connection reset"),
				llms.TextDelta("partial"),
				llms.ToolCallEvent("t1", "getLocalTime", nil),
			),
			exp: "connection reset",
		},
		{
			name: "incomplete",
			stream: llms.NewStaticStream(nil,
				llms.ToolCallEvent("t1", "getLocalTime", nil),
			),
			exp: "incomplete model response",
		},
		{
			name: "call_failed",
			err:  errors.New("401 unauthorized"),
			exp:  "401 unauthorized",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			model := mockllms.NewMockModel(ctrl)
			model.EXPECT().GetName().Return("claude-test").AnyTimes()
			model.EXPECT().GetProviderType().Return(llms.ProviderFake).AnyTimes()
			model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.stream, tc.err)

			h := &handler{ret: "10:00am"}
			input := []*chatmodel.Message{chatmodel.NewUserMessage("time?")}
			sink := &recorder{}
			res, err := orchestrator.New(model).Run(context.Background(), &orchestrator.Request{
				Messages: input,
				Catalog:  tools.NewCatalog(&tools.Definition{Name: "getLocalTime", Execute: h.exec}),
			}, sink)
			require.Error(t, err)
			assert.True(t, errors.Is(err, orchestrator.ErrProvider))
			assert.Contains(t, err.Error(), tc.exp)

			var perr *orchestrator.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, 0, perr.Step)

			require.NotNil(t, res)
			assert.Equal(t, orchestrator.StateError, res.State)
			assert.Equal(t, input, res.Messages)
			assert.Empty(t, res.Steps)
			assert.Equal(t, 0, h.calls)

			types := sink.types()
			require.GreaterOrEqual(t, len(types), 2)
			assert.Equal(t, orchestrator.ChunkError, types[len(types)-2])
			assert.Equal(t, orchestrator.ChunkFinish, types[len(types)-1])
		})
	}
}

func TestRun_CancelledBetweenSteps(t *testing.T) {
	t.Parallel()

	model := newModel(t, llms.NewStaticStream(nil,
		llms.ToolCallEvent("t1", "getLocalTime", nil),
		llms.FinishEvent(llms.FinishReasonToolCalls, usage(1, 1)),
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var toolCtxErr error
	exec := func(tctx context.Context, _ map[string]any) (any, error) {
		cancel()
		toolCtxErr = tctx.Err()
		return "10:00am", nil
	}

	res, err := orchestrator.New(model, orchestrator.WithToolTimeout(time.Second)).Run(ctx, &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("time?")},
		Catalog:  tools.NewCatalog(&tools.Definition{Name: "getLocalTime", Execute: exec}),
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NoError(t, toolCtxErr)

	assert.Equal(t, orchestrator.StateError, res.State)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "10:00am", res.Steps[0].ToolResults[0].Result)
	assert.Len(t, res.Messages, 2)
}

func TestRun_ToolNotFound(t *testing.T) {
	t.Parallel()

	model := newModel(t,
		llms.NewStaticStream(nil,
			llms.ToolCallEvent("", "nope", nil),
			llms.FinishEvent(llms.FinishReasonToolCalls, usage(1, 1)),
		),
		textResponse("sorry"),
	)

	h := &handler{ret: "10:00am"}
	res, err := orchestrator.New(model).Run(context.Background(), &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("go")},
		Catalog:  tools.NewCatalog(&tools.Definition{Name: "getLocalTime", Execute: h.exec}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateDone, res.State)
	require.Len(t, res.Steps, 2)

	inv := res.Steps[0].ToolResults[0]
	assert.NotEmpty(t, inv.ToolCallID)
	assert.True(t, inv.IsError())
	assert.Contains(t, inv.Error, "tool `nope` not found, available tools: getLocalTime")
	assert.Equal(t, 0, h.calls)
}

func TestState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "done", orchestrator.StateDone.String())
}

func TestConfig(t *testing.T) {
	t.Parallel()

	cfg := orchestrator.NewConfig()
	assert.Equal(t, orchestrator.DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, orchestrator.DefaultToolTimeout, cfg.ToolTimeout)
	assert.Equal(t, llms.ToolChoiceAuto, cfg.ToolChoice)

	cfg = orchestrator.NewConfig(
		orchestrator.WithMaxSteps(0),
		orchestrator.WithToolChoice(""),
		orchestrator.WithModel("claude-sonnet"),
		orchestrator.WithMaxTokens(1024),
		orchestrator.WithTemperature(0.2),
	)
	assert.Equal(t, orchestrator.DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, llms.ToolChoiceAuto, cfg.ToolChoice)
	assert.Equal(t, "claude-sonnet", cfg.Model)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.Equal(t, 0.2, cfg.Temperature)
}

func TestProviderError(t *testing.T) {
	t.Parallel()

	err := &orchestrator.ProviderError{Step: 2, Err: errors.New("overloaded")}
	assert.Equal(t, "step 2: model provider failed: overloaded", err.Error())
	assert.True(t, errors.Is(err, orchestrator.ErrProvider))
	assert.False(t, errors.Is(err, orchestrator.ErrUnresolvedPendingCall))
}

func TestRun_CarriedAutoCalls(t *testing.T) {
	t.Parallel()

	var sent []*chatmodel.Message
	model := newModel(t)
	model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs []*chatmodel.Message, _ ...llms.CallOption) (llms.ContentStream, error) {
			sent = msgs
			return textResponse("It is 10:00am in Seoul."), nil
		})

	carried := &chatmodel.ToolInvocation{
		ToolCallID: "t1",
		ToolName:   "getLocalTime",
		Args:       map[string]any{"location": "Asia/Seoul"},
		State:      chatmodel.StateCall,
	}
	input := []*chatmodel.Message{
		chatmodel.NewUserMessage("time in Seoul?"),
		chatmodel.NewMessage(chatmodel.RoleAssistant, chatmodel.ToolInvocationPart(carried)),
	}

	h := &handler{ret: "10:00am"}
	sink := &recorder{}
	res, err := orchestrator.New(model).Run(context.Background(), &orchestrator.Request{
		Messages: input,
		Catalog:  tools.NewCatalog(&tools.Definition{Name: "getLocalTime", Execute: h.exec}),
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateDone, res.State)
	assert.Equal(t, 1, h.calls)

	// the model sees the result, not the call
	require.Len(t, sent, 2)
	invs := sent[1].ToolInvocations()
	require.Len(t, invs, 1)
	assert.Equal(t, chatmodel.StateResult, invs[0].State)
	assert.Equal(t, "10:00am", invs[0].Result)

	// copy on write
	assert.Same(t, carried, input[1].Parts[0].ToolInvocation)
	assert.True(t, carried.IsCall())
	assert.NotSame(t, input[1], res.Messages[1])
	assert.Same(t, input[0], res.Messages[0])

	assert.Equal(t, []orchestrator.ChunkType{
		orchestrator.ChunkToolResult,
		orchestrator.ChunkTextDelta,
		orchestrator.ChunkStep,
		orchestrator.ChunkFinish,
	}, sink.types())
}

func TestRun_CarriedAutoCallsWithPending(t *testing.T) {
	t.Parallel()

	// halts before the model
	model := newModel(t)

	last := chatmodel.NewMessage(chatmodel.RoleAssistant,
		chatmodel.ToolInvocationPart(&chatmodel.ToolInvocation{ToolCallID: "w1", ToolName: "getWeatherInformation", State: chatmodel.StateCall}),
		chatmodel.ToolInvocationPart(&chatmodel.ToolInvocation{ToolCallID: "t1", ToolName: "getLocalTime", State: chatmodel.StateCall}),
	)
	h := &handler{ret: "10:00am"}
	catalog := tools.NewCatalog(
		&tools.Definition{Name: "getWeatherInformation"},
		&tools.Definition{Name: "getLocalTime", Execute: h.exec},
	)
	res, err := orchestrator.New(model).Run(context.Background(), &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("weather?"), last},
		Catalog:  catalog,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateAwaitingConfirmation, res.State)
	assert.Equal(t, 1, h.calls)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "w1", res.Pending[0].Invocation.ToolCallID)
	invs := res.Messages[1].ToolInvocations()
	assert.True(t, invs[0].IsCall())
	assert.Equal(t, "10:00am", invs[1].Result)
	assert.True(t, last.Parts[1].ToolInvocation.IsCall())
}

func TestRun_ProviderCapabilities(t *testing.T) {
	t.Parallel()

	var got *llms.CallOptions
	model := mockllms.NewMockModel(gomock.NewController(t))
	model.EXPECT().GetName().Return("local").AnyTimes()
	model.EXPECT().GetProviderType().Return(llms.ProviderType("text-only")).AnyTimes()
	model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []*chatmodel.Message, opts ...llms.CallOption) (llms.ContentStream, error) {
			got = llms.NewCallOptions(opts...)
			return textResponse("hi"), nil
		})

	res, err := orchestrator.New(model, orchestrator.WithSystem("be brief")).Run(context.Background(), &orchestrator.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("hi")},
		Catalog:  tools.NewCatalog(&tools.Definition{Name: "getLocalTime", Execute: (&handler{}).exec}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateDone, res.State)

	require.NotNil(t, got)
	assert.Empty(t, got.Tools)
	assert.Empty(t, got.System)
}
