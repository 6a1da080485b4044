package chat_test

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/callbacks"
	"github.com/effective-security/gohitl/chat"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/confirm"
	"github.com/effective-security/gohitl/mcp"
	"github.com/effective-security/gohitl/mocks/mockllms"
	"github.com/effective-security/gohitl/orchestrator"
	"github.com/effective-security/gohitl/pkg/llms"
	"github.com/effective-security/gohitl/store"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/gohitl/tools/weather"
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

func (r *recorder) byType(typ orchestrator.ChunkType) []*orchestrator.Chunk {
	var list []*orchestrator.Chunk
	for _, c := range r.chunks {
		if c.Type == typ {
			list = append(list, c)
		}
	}
	return list
}

type fakeServer struct {
	name    string
	catalog tools.Catalog
	listErr error
	closed  int
}

func (f *fakeServer) Name() string {
	return f.name
}

func (f *fakeServer) ListTools(_ context.Context) (tools.Catalog, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.catalog.Clone(), nil
}

func (f *fakeServer) Close() error {
	f.closed++
	return nil
}

// connector returns the servers by name, a missing server fails to connect
func connector(servers ...*fakeServer) chat.Connector {
	return func(_ context.Context, cfg *mcp.Config) (tools.Provider, error) {
		for _, s := range servers {
			if s.name == cfg.Name {
				return s, nil
			}
		}
		return nil, errors.Newf("connection refused")
	}
}

func stdioServer(name string) *mcp.Config {
	return &mcp.Config{Name: name, Command: "node", Args: []string{name + ".mjs"}}
}

func result(text string) *tools.Definition {
	return &tools.Definition{
		Name: "getLocalTime",
		Execute: func(context.Context, map[string]any) (any, error) {
			return text, nil
		},
	}
}

func newModel(t *testing.T) *mockllms.MockModel {
	m := mockllms.NewMockModel(gomock.NewController(t))
	m.EXPECT().GetName().Return("claude-test").AnyTimes()
	m.EXPECT().GetProviderType().Return(llms.ProviderFake).AnyTimes()
	return m
}

func usage(in, out int64) llms.Usage {
	return llms.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

func weatherCall() llms.ContentStream {
	return llms.NewStaticStream(nil,
		llms.TextDelta("Let me check. "),
		llms.ToolCallEvent("call_w1", weather.WeatherToolName, map[string]any{"city": "Seoul"}),
		llms.FinishEvent(llms.FinishReasonToolCalls, usage(20, 10)),
	)
}

func textResponse(text string) llms.ContentStream {
	return llms.NewStaticStream(nil,
		llms.TextDelta(text),
		llms.FinishEvent(llms.FinishReasonStop, usage(30, 5)),
	)
}

// answer returns the conversation with the client decision marker
// written as the result of the pending invocation
func answer(t *testing.T, messages []*chatmodel.Message, marker string) []*chatmodel.Message {
	t.Helper()
	last := chatmodel.LastMessage(messages).Clone()
	for i, p := range last.Parts {
		if p.ToolInvocation != nil && p.ToolInvocation.IsCall() {
			last.Parts[i].ToolInvocation = p.ToolInvocation.WithResult(marker)
		}
	}
	out := slices.Clone(messages)
	out[len(out)-1] = last
	return out
}

func TestHandle_Confirmation(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		marker   string
		executed bool
	}{
		{marker: confirm.ApprovalYes, executed: true},
		{marker: confirm.ApprovalNo, executed: false},
	} {
		t.Run(tc.marker, func(t *testing.T) {
			model := newModel(t)

			var second []*chatmodel.Message
			gomock.InOrder(
				model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(weatherCall(), nil),
				model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, messages []*chatmodel.Message, _ ...llms.CallOption) (llms.ContentStream, error) {
						second = messages
						return textResponse("Here is the weather."), nil
					}),
			)

			executed := 0
			approvals := tools.Executors{
				weather.WeatherToolName: func(ctx context.Context, args map[string]any) (any, error) {
					executed++
					assert.Equal(t, map[string]any{"city": "Seoul"}, args)
					return "sunny", nil
				},
			}

			remote := &fakeServer{name: "pokemon", catalog: tools.NewCatalog(result("remote"))}
			st := store.NewMemoryStore()
			h, err := chat.NewHandler(model, &chat.Config{
				ToolServers: []*mcp.Config{stdioServer("pokemon")},
			},
				chat.WithConnector(connector(remote)),
				chat.WithProviders(weather.NewProvider()),
				chat.WithApprovals(approvals),
				chat.WithStore(st),
				chat.WithCallback(callbacks.NewNoop()),
			)
			require.NoError(t, err)

			// first request halts on the confirmation
			ctx := context.Background()
			sink := &recorder{}
			res, err := h.Handle(ctx, &chat.Request{
				ChatID:   "chat-1",
				Messages: []*chatmodel.Message{chatmodel.NewUserMessage("What is the weather in Seoul?")},
			}, sink)
			require.NoError(t, err)
			assert.Equal(t, orchestrator.StateAwaitingConfirmation, res.State)
			assert.Equal(t, 1, remote.closed)
			require.Len(t, res.Messages, 2)
			invs := res.Messages[1].ToolInvocations()
			require.Len(t, invs, 1)
			assert.True(t, invs[0].IsCall())
			assert.Equal(t, 0, executed)

			cctx := chatmodel.WithChatContext(ctx, chatmodel.NewChatContext("chat-1"))
			info, err := st.GetChatInfo(cctx, "")
			require.NoError(t, err)
			assert.Equal(t, "awaiting-confirmation", info.State)

			// second request carries the user decision
			sink = &recorder{}
			res, err = h.Handle(ctx, &chat.Request{
				ChatID:   "chat-1",
				Messages: answer(t, res.Messages, tc.marker),
			}, sink)
			require.NoError(t, err)
			assert.Equal(t, orchestrator.StateDone, res.State)
			assert.Equal(t, 2, remote.closed)

			results := sink.byType(orchestrator.ChunkToolResult)
			require.Len(t, results, 1)
			require.Len(t, second, 2)
			resolved := second[1].ToolInvocations()
			require.Len(t, resolved, 1)
			assert.Equal(t, chatmodel.StateResult, resolved[0].State)
			assert.Equal(t, resolved[0], results[0].Invocation)

			if tc.executed {
				assert.Equal(t, 1, executed)
				assert.Equal(t, "sunny", resolved[0].Result)
			} else {
				assert.Equal(t, 0, executed)
				assert.Equal(t, confirm.DeniedResult, resolved[0].Result)
			}

			require.Len(t, res.Messages, 3)
			assert.Equal(t, "Here is the weather.", res.Messages[2].Text())

			stored, err := st.Messages(cctx)
			require.NoError(t, err)
			assert.Len(t, stored, 3)
		})
	}
}

func TestHandle_LocalOverridesRemote(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	gomock.InOrder(
		model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(llms.NewStaticStream(nil,
			llms.ToolCallEvent("call_t1", "getLocalTime", map[string]any{"location": "Seoul"}),
			llms.FinishEvent(llms.FinishReasonToolCalls, usage(5, 5)),
		), nil),
		model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(textResponse("done"), nil),
	)

	remote := &fakeServer{name: "clock", catalog: tools.NewCatalog(result("remote"))}
	h, err := chat.NewHandler(model, &chat.Config{
		MaxSteps:    3,
		ToolServers: []*mcp.Config{stdioServer("clock")},
	},
		chat.WithConnector(connector(remote)),
		chat.WithProviders(tools.NewLocalProvider("local", result("local"))),
	)
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), &chat.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("what time is it in Seoul?")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateDone, res.State)
	require.Len(t, res.Steps, 2)
	require.Len(t, res.Steps[0].ToolResults, 1)
	assert.Equal(t, "local", res.Steps[0].ToolResults[0].Result)
}

func TestHandle_ToolServerErrors(t *testing.T) {
	t.Parallel()

	cfg := &chat.Config{
		ToolServers: []*mcp.Config{stdioServer("first"), stdioServer("second")},
	}

	t.Run("connect", func(t *testing.T) {
		// no model call is expected
		model := newModel(t)
		first := &fakeServer{name: "first"}
		h, err := chat.NewHandler(model, cfg, chat.WithConnector(connector(first)))
		require.NoError(t, err)

		sink := &recorder{}
		msgs := []*chatmodel.Message{chatmodel.NewUserMessage("hi")}
		res, err := h.Handle(context.Background(), &chat.Request{Messages: msgs}, sink)
		require.Error(t, err)
		assert.True(t, errors.Is(err, orchestrator.ErrProvider))
		assert.Equal(t, "tool server second: connection refused", err.Error())
		assert.Equal(t, orchestrator.StateError, res.State)
		assert.Equal(t, msgs, res.Messages)
		assert.Equal(t, 1, first.closed)

		require.Len(t, sink.chunks, 2)
		assert.Equal(t, orchestrator.ChunkError, sink.chunks[0].Type)
		assert.Equal(t, orchestrator.ChunkFinish, sink.chunks[1].Type)
		assert.Equal(t, orchestrator.StateError, sink.chunks[1].State)
	})

	t.Run("list", func(t *testing.T) {
		model := newModel(t)
		first := &fakeServer{name: "first"}
		second := &fakeServer{name: "second", listErr: errors.New("broken pipe")}
		h, err := chat.NewHandler(model, cfg, chat.WithConnector(connector(first, second)))
		require.NoError(t, err)

		_, err = h.Handle(context.Background(), &chat.Request{
			Messages: []*chatmodel.Message{chatmodel.NewUserMessage("hi")},
		}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, orchestrator.ErrProvider))
		assert.Equal(t, 1, first.closed)
		assert.Equal(t, 1, second.closed)
	})
}

func TestHandle_ProviderError(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("overloaded"))

	st := store.NewMemoryStore()
	h, err := chat.NewHandler(model, nil, chat.WithStore(st))
	require.NoError(t, err)

	ctx := chatmodel.WithChatContext(context.Background(), chatmodel.NewChatContext("chat-err"))
	res, err := h.Handle(ctx, &chat.Request{
		Messages: []*chatmodel.Message{chatmodel.NewUserMessage("hi")},
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, orchestrator.ErrProvider))
	assert.Equal(t, orchestrator.StateError, res.State)

	// the partial conversation is stored
	stored, err := st.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestNewHandler(t *testing.T) {
	_, err := chat.NewHandler(nil, nil)
	assert.EqualError(t, err, "model is required")

	model := newModel(t)
	_, err = chat.NewHandler(model, &chat.Config{ToolChoice: "any"})
	assert.EqualError(t, err, "invalid tool_choice: any")

	_, err = chat.NewHandler(model, &chat.Config{Store: &chat.StoreConfig{RedisURL: "nope://"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis_url")
}

func TestHandle_MarkerOfUnknownTool(t *testing.T) {
	t.Parallel()

	var sent []*chatmodel.Message
	model := newModel(t)
	model.EXPECT().StreamContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []*chatmodel.Message, _ ...llms.CallOption) (llms.ContentStream, error) {
			sent = messages
			return textResponse("ok"), nil
		})

	// no weather provider in this handler, the marker is an ordinary result
	h, err := chat.NewHandler(model, nil, chat.WithStore(store.NewMemoryStore()))
	require.NoError(t, err)

	inv := &chatmodel.ToolInvocation{
		ToolCallID: "call_1",
		ToolName:   weather.WeatherToolName,
		Args:       map[string]any{"city": "Seoul"},
		State:      chatmodel.StateResult,
		Result:     confirm.ApprovalYes,
	}
	input := []*chatmodel.Message{
		chatmodel.NewUserMessage("What is the weather in Seoul?"),
		chatmodel.NewMessage(chatmodel.RoleAssistant, chatmodel.ToolInvocationPart(inv)),
	}

	sink := &recorder{}
	res, err := h.Handle(context.Background(), &chat.Request{Messages: input}, sink)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateDone, res.State)
	assert.Empty(t, sink.byType(orchestrator.ChunkToolResult))

	require.Len(t, sent, 2)
	assert.Same(t, input[1], sent[1])
	got := res.Messages[1].ToolInvocations()
	require.Len(t, got, 1)
	assert.Equal(t, chatmodel.StateResult, got[0].State)
	assert.Equal(t, confirm.ApprovalYes, got[0].Result)
}
