package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/news-clipping/internal/automation"
	"github.com/cuongbtq/news-clipping/internal/interpreter"
	"github.com/cuongbtq/news-clipping/internal/notifier"
	"github.com/cuongbtq/news-clipping/internal/publisher"
	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu          sync.Mutex
	transitions []string
	metadata    map[string]any
	errorMsg    string
	saved       []domain.Artifact
	savedURL    string
	createErr   error
	saveErr     error
}

func (s *memoryStore) CreateJob(ctx context.Context, jobID, instruction string, params map[string]any) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.transitions = append(s.transitions, domain.JobStatusPending)
	s.metadata = map[string]any{}
	return &domain.Job{JobID: jobID, Instruction: instruction, Parameters: params, Status: domain.JobStatusPending}, nil
}

func (s *memoryStore) UpdateJob(ctx context.Context, jobID, status string, result map[string]any, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.transitions); n == 0 || s.transitions[n-1] != status {
		s.transitions = append(s.transitions, status)
	}
	for k, v := range result {
		s.metadata[k] = v
	}
	s.errorMsg = errorMsg
	return nil
}

func (s *memoryStore) SaveResult(ctx context.Context, jobID, title, url, content string, artifacts []domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = artifacts
	s.savedURL = url
	return nil
}

type automatorFunc func(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error)

func (f automatorFunc) Run(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error) {
	return f(ctx, spec)
}

type recordingNotifier struct {
	sent []*notifier.Notification
}

func (n *recordingNotifier) Dispatch(ctx context.Context, msg *notifier.Notification) notifier.Result {
	n.sent = append(n.sent, msg)
	return notifier.Result{Status: notifier.StatusPartial, Channels: []notifier.ChannelResult{
		{Channel: "webhook", Delivered: true},
		{Channel: "email", Error: "smtp misconfigured"},
	}}
}

type failingPublisher struct{ called bool }

func (p *failingPublisher) Publish(ctx context.Context, doc *publisher.Document) ([]domain.Artifact, error) {
	p.called = true
	return nil, errors.New("unexpected publish")
}

const twoItems = `{"metadata":{"cliente":"LEAR"},"itens":[
	{"titulo":"Lear amplia fábrica","url":"https://example.com/a"},
	{"titulo":"Autopeças crescem","url":"https://example.com/b"}],
	"email_body_ptbr":"Duas notícias."}`

type fixture struct {
	store     *memoryStore
	notifier  *recordingNotifier
	specs     []automation.TaskSpec
	workspace string
}

func newOrchestrator(t *testing.T, run automatorFunc, pub Publisher) (*Orchestrator, *fixture) {
	t.Helper()
	f := &fixture{store: &memoryStore{}, notifier: &recordingNotifier{}, workspace: t.TempDir()}

	if pub == nil {
		local, err := publisher.NewLocalStore(f.workspace)
		require.NoError(t, err)
		pub = publisher.New(nil, local, []string{domain.FormatJSON, domain.FormatMarkdown}, logger.Discard())
	}

	o := New(&Config{
		Store:       f.store,
		Interpreter: interpreter.New(nil, interpreter.Config{}, logger.Discard()),
		Automator: automatorFunc(func(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error) {
			f.specs = append(f.specs, spec)
			return run(ctx, spec)
		}),
		Publisher: pub,
		Notifier:  f.notifier,
		Defaults: Defaults{
			Client:   "LEAR",
			Period:   "últimos 30 dias",
			MaxItems: 15,
			MinItems: 3,
			Timeout:  time.Hour,
		},
		Logger: logger.Discard(),
	})
	return o, f
}

func succeed(payload string) automatorFunc {
	return func(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error) {
		return &automation.Result{
			Outcome:  automation.OutcomeSuccess,
			Payload:  payload,
			Steps:    []automation.Step{{Number: 1, Action: "done"}},
			Attempts: []automation.Attempt{{Number: 1, Outcome: automation.OutcomeSuccess}},
			Usage:    domain.Usage{Component: "browser_agent", TotalTokens: 1200, CostUSD: 0.01},
		}, nil
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	o, f := newOrchestrator(t, succeed(twoItems), nil)

	err := o.Process(context.Background(), domain.TaskMessage{
		JobID:       "job_0123456789ab",
		Instruction: "Colete notícias sobre Lear em https://example.com/",
	})
	require.NoError(t, err)

	require.Len(t, f.specs, 1)
	spec := f.specs[0]
	assert.Equal(t, "https://example.com/", spec.URL)
	assert.Equal(t, interpreter.DefaultTaskType, spec.Type)
	assert.Equal(t, "LEAR", spec.Client)
	assert.Equal(t, 15, spec.MaxItems)

	assert.Equal(t, []string{domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted}, f.store.transitions)
	assert.Equal(t, "https://example.com/", f.store.savedURL)

	require.Len(t, f.store.saved, 2)
	assert.Equal(t, domain.FormatJSON, f.store.saved[0].Format)
	assert.Equal(t, domain.FormatMarkdown, f.store.saved[1].Format)
	for _, a := range f.store.saved {
		assert.Equal(t, domain.BackendLocal, a.Backend)
	}

	md := f.store.metadata
	assert.Equal(t, 2, md["items"])
	assert.Equal(t, "success", md["outcome"])
	assert.Equal(t, domain.NotificationPartialError, md["notification_status"], "notification problems only annotate the job")
	stages := md["stages"].(map[string]string)
	for _, s := range []string{StageInterpret, StageAutomate, StageStructure, StagePublish, StageNotify} {
		assert.Equal(t, stageOK, stages[s], s)
	}

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, domain.JobStatusCompleted, n.Status)
	assert.Equal(t, 2, n.Items)
	assert.Equal(t, "Duas notícias.", n.Summary)
}

func TestProcess_MissingURLFailsWithoutAutomation(t *testing.T) {
	o, f := newOrchestrator(t, func(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error) {
		t.Fatal("automation must not run without a url")
		return nil, nil
	}, nil)

	err := o.Process(context.Background(), domain.TaskMessage{JobID: "job_nourl", Instruction: "Colete notícias sobre Lear"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingURL)
	assert.True(t, domain.IsPermanent(err))

	assert.Equal(t, []string{domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusFailed}, f.store.transitions)
	assert.Contains(t, f.store.errorMsg, "missing target url")
	assert.Empty(t, f.specs)

	stages := f.store.metadata["stages"].(map[string]string)
	assert.Equal(t, stageSkipped, stages[StageAutomate])
	assert.Equal(t, stageOK, stages[StageNotify])
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, domain.JobStatusFailed, f.notifier.sent[0].Status)
}

func TestProcess_AutomationFailureSkipsPublishButNotifies(t *testing.T) {
	exhausted := &automation.ExhaustedError{Messages: []string{"attempt 1: health check: down", "attempt 2: health check: down"}}
	pub := &failingPublisher{}
	o, f := newOrchestrator(t, func(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error) {
		return &automation.Result{Outcome: automation.OutcomeExhausted}, exhausted
	}, pub)

	err := o.Process(context.Background(), domain.TaskMessage{JobID: "job_down", Instruction: "veja https://example.com/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrAutomationExhausted)
	assert.False(t, domain.IsPermanent(err), "transient failures may be redelivered")

	assert.False(t, pub.called)
	assert.Equal(t, domain.JobStatusFailed, f.store.transitions[len(f.store.transitions)-1])
	assert.Contains(t, f.store.errorMsg, "attempt 2: health check: down")

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, domain.JobStatusFailed, f.notifier.sent[0].Status)
	assert.Equal(t, "exhausted", f.notifier.sent[0].Outcome)

	stages := f.store.metadata["stages"].(map[string]string)
	assert.Equal(t, stageSkipped, stages[StagePublish])
	assert.Equal(t, stageSkipped, stages[StageStructure])
}

func TestProcess_MessageParametersOverrideInterpretation(t *testing.T) {
	o, f := newOrchestrator(t, succeed(twoItems), nil)

	err := o.Process(context.Background(), domain.TaskMessage{
		JobID:       "job_override",
		Instruction: "Colete notícias em https://example.com/",
		Parameters: map[string]any{
			"url":            "https://www.automotivebusiness.com.br/",
			"cliente":        "BOSCH",
			"max_itens":      float64(5),
			"palavras_chave": []any{"Bosch", "freios"},
			"format":         "json",
		},
	})
	require.NoError(t, err)

	require.Len(t, f.specs, 1)
	spec := f.specs[0]
	assert.Equal(t, "https://www.automotivebusiness.com.br/", spec.URL)
	assert.Equal(t, "BOSCH", spec.Client)
	assert.Equal(t, 5, spec.MaxItems)
	assert.Equal(t, 3, spec.MinItems)
	assert.Equal(t, []string{"Bosch", "freios"}, spec.Keywords)

	params := f.store.metadata["parameters"].(map[string]any)
	assert.Equal(t, "json", params["format"], "message value replaces the interpreted one")
	assert.Equal(t, true, params["extract_links"], "interpreted values without override are kept")
}

func TestProcess_PartialOutcomeCompletes(t *testing.T) {
	o, f := newOrchestrator(t, func(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error) {
		return &automation.Result{
			Outcome: automation.OutcomeTimeout,
			Payload: "Passo 1: abriu o site | navigate -> ok",
			Steps:   []automation.Step{{Number: 1}},
		}, nil
	}, nil)

	require.NoError(t, o.Process(context.Background(), domain.TaskMessage{JobID: "job_partial", Instruction: "https://example.com/"}))

	assert.Equal(t, domain.JobStatusCompleted, f.store.transitions[len(f.store.transitions)-1])
	assert.Equal(t, "timeout", f.store.metadata["outcome"])
	assert.Equal(t, true, f.store.metadata["extraction_failed"])
	assert.Len(t, f.store.saved, 2)
}

func TestProcess_AlreadyCompleted(t *testing.T) {
	o, f := newOrchestrator(t, succeed(twoItems), nil)
	f.store.createErr = domain.ErrJobAlreadyCompleted

	err := o.Process(context.Background(), domain.TaskMessage{JobID: "job_done", Instruction: "https://example.com/"})
	assert.ErrorIs(t, err, domain.ErrJobAlreadyCompleted)
	assert.Empty(t, f.specs)
}

type notifierFunc func(ctx context.Context, n *notifier.Notification) notifier.Result

func (f notifierFunc) Dispatch(ctx context.Context, n *notifier.Notification) notifier.Result {
	return f(ctx, n)
}

func TestProcess_NotifiesAfterPersisting(t *testing.T) {
	o, f := newOrchestrator(t, succeed(twoItems), nil)

	var seen []string
	o.notifier = notifierFunc(func(ctx context.Context, n *notifier.Notification) notifier.Result {
		f.store.mu.Lock()
		seen = append([]string(nil), f.store.transitions...)
		f.store.mu.Unlock()
		return notifier.Result{Status: notifier.StatusSent}
	})

	require.NoError(t, o.Process(context.Background(), domain.TaskMessage{JobID: "job_order", Instruction: "https://example.com/"}))
	require.NotEmpty(t, seen)
	assert.Equal(t, domain.JobStatusCompleted, seen[len(seen)-1], "the job is stored as completed before anyone is told")
}

func TestProcess_SaveFailureIsNotAnnouncedAsCompleted(t *testing.T) {
	o, f := newOrchestrator(t, succeed(twoItems), nil)
	f.store.saveErr = errors.New("pq: connection reset")

	err := o.Process(context.Background(), domain.TaskMessage{JobID: "job_unsaved", Instruction: "https://example.com/"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to save result")
	assert.False(t, domain.IsPermanent(err))

	assert.Equal(t, domain.JobStatusFailed, f.store.transitions[len(f.store.transitions)-1])
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, domain.JobStatusFailed, f.notifier.sent[0].Status)
	assert.Contains(t, f.notifier.sent[0].Error, "failed to save result")
}

func TestProcess_CanceledJobIsRecordedButNotAnnounced(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o, f := newOrchestrator(t, func(ctx context.Context, spec automation.TaskSpec) (*automation.Result, error) {
		cancel()
		return nil, ctx.Err()
	}, nil)

	err := o.Process(ctx, domain.TaskMessage{JobID: "job_interrupted", Instruction: "https://example.com/"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.JobStatusFailed, f.store.transitions[len(f.store.transitions)-1], "the store write outlives the canceled job context")
	assert.Empty(t, f.notifier.sent)
}
