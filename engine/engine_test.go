package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/tool"
)

func fnCall(name string) core.Part {
	return core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: name, Args: map[string]any{"query": "fox"}}}
}

func newEngine(m model.Model, exec tool.Executor, optFns ...func(o *Options)) *Engine {
	return New(append([]func(o *Options){func(o *Options) {
		o.Model = m
		o.Tools = exec
		o.Declarations = []model.ToolDefinition{model.NewFunctionDefinition("search_images", "Find references", nil)}
	}}, optFns...)...)
}

func selectionMode(o *Options) { o.Config.Mode = ModeSelection }

func imageTool() tool.Executor {
	return tool.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return map[string]any{"content": []any{
			map[string]any{"type": "image", "data": "aGk=", "mimeType": "image/png"},
		}}, nil
	})
}

func TestRun_RejectsEmptyMessage(t *testing.T) {
	m := model.NewScriptedModel()
	_, err := newEngine(m, nil).Run(context.Background(), RunRequest{Message: "   "})
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Equal(t, 0, m.Calls())
}

func TestRun_RejectsUndecodableImage(t *testing.T) {
	m := model.NewScriptedModel()
	_, err := newEngine(m, nil).Run(context.Background(), RunRequest{
		Message:        "fox",
		SelectedImages: []core.Image{{MimeType: "image/png", Data: "%%%"}},
	})
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Equal(t, 0, m.Calls())
}

func TestRun_MissingModel(t *testing.T) {
	_, err := New().Run(context.Background(), RunRequest{Message: "fox"})
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
}

func TestRun_Iterative(t *testing.T) {
	prior := core.History{core.NewTextContent(core.RoleUser, "hi"), core.NewTextContent(core.RoleModel, "hello")}
	m := model.NewScriptedModel(
		model.Reply(fnCall("search_images")),
		model.Reply(core.TextPart{Text: "done"}, core.InlineDataPart{MimeType: "image/png", Data: "b3V0"}),
	)

	res, err := newEngine(m, imageTool()).Run(context.Background(), RunRequest{Message: "a fox", History: prior})
	require.NoError(t, err)
	require.NotNil(t, res.Final)
	assert.Nil(t, res.Pending)
	assert.Equal(t, "done", res.Final.Text)
	assert.Len(t, res.Final.Images, 1)
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, res.History, 6)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)

	reqs := m.Requests()
	assert.Equal(t, DefaultToolInstruction, reqs[0].SystemInstruction)
	assert.NotEmpty(t, reqs[0].Tools)
}

func TestRun_IterativeWithoutToolServer(t *testing.T) {
	m := model.NewScriptedModel(
		model.Reply(fnCall("search_images"), fnCall("search_images")),
		model.Reply(core.TextPart{Text: "drawn from memory"}),
	)

	res, err := newEngine(m, nil).Run(context.Background(), RunRequest{Message: "a fox"})
	require.NoError(t, err)
	assert.Equal(t, "drawn from memory", res.Final.Text)
	assert.Equal(t, 1, res.Rounds)

	responses := m.Requests()[1].Contents[2].FunctionResponses()
	require.Len(t, responses, 2)
	for _, r := range responses {
		assert.Contains(t, r.Error, "not configured")
	}
}

func TestRun_IterativeRoundCap(t *testing.T) {
	m := model.NewScriptedModel().WithFallback(func(model.Request) (*model.Response, error) {
		return &model.Response{Content: core.Content{Role: core.RoleModel, Parts: []core.Part{fnCall("search_images")}}}, nil
	})

	res, err := newEngine(m, imageTool()).Run(context.Background(), RunRequest{Message: "a fox"})
	require.NoError(t, err)
	assert.True(t, res.CapReached)
	assert.Equal(t, core.MaxToolRounds, res.Rounds)
	assert.Equal(t, "", res.Final.Text)
	assert.NotNil(t, res.Final.Images)
}

func TestRun_SelectionPausesAndResumes(t *testing.T) {
	prior := core.History{core.NewTextContent(core.RoleUser, "hi"), core.NewTextContent(core.RoleModel, "hello")}
	m := model.NewScriptedModel(
		model.Reply(fnCall("search_images"), fnCall("search_images")),
		model.Reply(core.TextPart{Text: "thumbnail"}),
	)
	var pendingSeen int
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackOnPending, func(_ context.Context, cc *CallbackContext) error {
		pendingSeen = len(cc.Pending.Candidates)
		return nil
	}))
	eng := newEngine(m, imageTool(), selectionMode, func(o *Options) { o.Callbacks = cbs })

	res, err := eng.Run(context.Background(), RunRequest{Message: "a fox", History: prior})
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Nil(t, res.Final)
	assert.Len(t, res.Pending.Candidates, 2)
	assert.Equal(t, 2, pendingSeen)
	assert.Equal(t, prior, res.History)
	assert.Equal(t, prior, res.Pending.History)

	final, err := eng.Resume(context.Background(), ResumeRequest{
		Message: res.Pending.Message,
		History: res.Pending.History,
		Images:  res.Pending.Candidates[:1],
	})
	require.NoError(t, err)
	assert.Equal(t, "thumbnail", final.Final.Text)
	assert.Len(t, final.History, 4)

	gen := m.Requests()[1]
	assert.Empty(t, gen.Tools)
	assert.Equal(t, DefaultGenerationInstruction, gen.SystemInstruction)
	assert.Len(t, gen.Contents[2].Parts, 2)
}

func TestRun_TrimsMessage(t *testing.T) {
	m := model.NewScriptedModel(
		model.Reply(core.TextPart{Text: "ok"}),
		model.Reply(fnCall("search_images")),
		model.Reply(core.TextPart{Text: "done"}),
	)

	_, err := newEngine(m, nil).Run(context.Background(), RunRequest{Message: "  a fox \n"})
	require.NoError(t, err)
	assert.Equal(t, core.TextPart{Text: "a fox"}, m.Requests()[0].Contents[0].Parts[0])

	eng := newEngine(m, imageTool(), selectionMode)
	res, err := eng.Run(context.Background(), RunRequest{Message: "\ta fox  "})
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, "a fox", res.Pending.Message)

	_, err = eng.Resume(context.Background(), ResumeRequest{Message: " a fox ", Images: []core.Image{}})
	require.NoError(t, err)
	assert.Equal(t, core.TextPart{Text: "a fox"}, m.Requests()[2].Contents[0].Parts[0])
}

func TestRun_SelectionCancel(t *testing.T) {
	prior := core.History{core.NewTextContent(core.RoleUser, "hi"), core.NewTextContent(core.RoleModel, "hello")}
	m := model.NewScriptedModel(model.Reply(fnCall("search_images")))
	eng := newEngine(m, imageTool(), selectionMode)

	res, err := eng.Run(context.Background(), RunRequest{Message: "a fox", History: prior})
	require.NoError(t, err)
	assert.Equal(t, prior, eng.Cancel(*res.Pending))
}

func TestRun_SelectionWithPreselectedImages(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(core.TextPart{Text: "text only"}))

	res, err := newEngine(m, imageTool(), selectionMode).Run(context.Background(), RunRequest{
		Message:        "a fox",
		SelectedImages: []core.Image{},
	})
	require.NoError(t, err)
	assert.Equal(t, "text only", res.Final.Text)
	require.Equal(t, 1, m.Calls())
	assert.Equal(t, []string{model.ModalityText, model.ModalityImage}, m.Requests()[0].ResponseModalities)
}

func TestRun_SelectionWithoutLookupFallsThrough(t *testing.T) {
	m := model.NewScriptedModel(
		model.Reply(core.TextPart{Text: "no lookup needed"}),
		model.Reply(core.TextPart{Text: "generated"}),
	)

	res, err := newEngine(m, imageTool(), selectionMode).Run(context.Background(), RunRequest{Message: "a square"})
	require.NoError(t, err)
	require.NotNil(t, res.Final)
	assert.Equal(t, "generated", res.Final.Text)
	assert.Equal(t, 2, m.Calls())
}

func TestResume_EmptySelection(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(core.TextPart{Text: "from text"}))

	res, err := newEngine(m, nil).Resume(context.Background(), ResumeRequest{Message: "a fox"})
	require.NoError(t, err)
	assert.Equal(t, "from text", res.Final.Text)
}

func TestRun_ModelErrorIsClassified(t *testing.T) {
	m := model.NewScriptedModel(model.Fail(&model.APIError{Provider: "gemini", StatusCode: 429, Status: "RESOURCE_EXHAUSTED"}))
	var reported core.Kind
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
		reported = cc.Err.Kind
		return nil
	}))

	_, err := newEngine(m, nil, func(o *Options) { o.Callbacks = cbs }).Run(context.Background(), RunRequest{Message: "fox"})
	var classified *core.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, core.KindRateLimited, classified.Kind)
	assert.Contains(t, classified.Detail, "429")
	assert.Equal(t, core.KindRateLimited, reported)
}

func TestRun_MessageValidationCallback(t *testing.T) {
	m := model.NewScriptedModel()
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewMessageValidationCallback(func(msg string) error {
		if len(msg) > 5 {
			return errors.New("message is too long")
		}
		return nil
	}))

	_, err := newEngine(m, nil, func(o *Options) { o.Callbacks = cbs }).Run(context.Background(), RunRequest{Message: "a very long prompt"})
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Equal(t, 0, m.Calls())
}

func TestRun_MaxConcurrentRuns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := model.NewScriptedModel().WithFallback(func(model.Request) (*model.Response, error) {
		entered <- struct{}{}
		<-release
		return &model.Response{Content: core.NewTextContent(core.RoleModel, "ok")}, nil
	})
	eng := newEngine(m, nil, func(o *Options) { o.Config.MaxConcurrentRuns = 1 })

	done := make(chan error, 1)
	go func() {
		_, err := eng.Run(context.Background(), RunRequest{Message: "first"})
		done <- err
	}()
	<-entered
	assert.Equal(t, 1, eng.ActiveRuns())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := eng.Run(ctx, RunRequest{Message: "second"})
	assert.Equal(t, core.KindTimeout, core.KindOf(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, eng.ActiveRuns())
}
