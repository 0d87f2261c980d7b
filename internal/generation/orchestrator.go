package generation

import (
	"bitwise74/playground-api/pkg/util"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 120
)

type State int

const (
	StateIdle State = iota
	StateSubmitting
	StatePolling
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	successStatuses = []string{"succeeded", "completed", "success", "done"}
	failureStatuses = []string{"failed", "error", "canceled"}
)

func isOneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Credentials hands out the bearer token for job requests.
type Credentials interface {
	Credential(ctx context.Context) (string, error)
}

type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	Clock        clockwork.Clock
}

// Hooks are optional callbacks invoked during a run.
type Hooks struct {
	// OnSubmit runs once the credential was acquired, right before the job
	// is submitted.
	OnSubmit func(s Settings)
	// OnStatus receives progress messages. Tone is "running" or empty.
	OnStatus func(message, tone string)
}

type Result struct {
	TaskID         string        `json:"taskId"`
	OutputURL      string        `json:"outputUrl"`
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsedSeconds"`
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State   State  `json:"state"`
	TaskID  string `json:"taskId,omitempty"`
	Message string `json:"message,omitempty"`
	Tone    string `json:"tone,omitempty"`
}

// Orchestrator runs at most one generation at a time.
type Orchestrator struct {
	api   API
	creds Credentials
	cfg   Config

	mu     sync.Mutex
	status Status
}

func NewOrchestrator(api API, creds Credentials, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Orchestrator{
		api:   api,
		creds: creds,
		cfg:   cfg,
	}
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// InFlight reports whether a run is submitting or polling.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlightLocked()
}

func (o *Orchestrator) inFlightLocked() bool {
	return o.status.State == StateSubmitting || o.status.State == StatePolling
}

func (o *Orchestrator) transition(state State, taskID string) {
	o.mu.Lock()
	o.status.State = state
	if taskID != "" {
		o.status.TaskID = taskID
	}
	o.mu.Unlock()
}

func (o *Orchestrator) report(h Hooks, message, tone string) {
	o.mu.Lock()
	o.status.Message = message
	o.status.Tone = tone
	o.mu.Unlock()

	if h.OnStatus != nil {
		h.OnStatus(message, tone)
	}
}

// Run submits s and polls until the job reaches a terminal status or the
// attempt budget runs out. Failures are returned as *Error.
func (o *Orchestrator) Run(ctx context.Context, s Settings, h Hooks) (res *Result, err error) {
	o.mu.Lock()
	if o.inFlightLocked() {
		o.mu.Unlock()
		return nil, ErrInFlight
	}
	o.status = Status{State: StateSubmitting}
	o.mu.Unlock()

	defer func() {
		if err != nil {
			o.transition(StateFailed, "")
			o.report(Hooks{}, Message(err), "error")
			return
		}

		o.transition(StateSucceeded, "")
	}()

	if strings.TrimSpace(s.Prompt) == "" {
		return nil, &Error{Kind: KindValidation, Message: "Prompt is required."}
	}

	token, err := o.creds.Credential(ctx)
	if err != nil || token == "" {
		return nil, &Error{Kind: KindAuth, Message: "Authentication required.", Err: err}
	}

	if h.OnSubmit != nil {
		h.OnSubmit(s)
	}
	o.report(h, "Submitting generation request...", "running")

	start := o.cfg.Clock.Now()

	taskID, err := o.api.Create(ctx, token, s)
	if err != nil {
		return nil, err
	}

	o.transition(StatePolling, taskID)
	o.report(h, "Generating video...", "running")

	outputURL, err := o.poll(ctx, token, taskID)
	if err != nil {
		return nil, err
	}

	elapsed := o.cfg.Clock.Since(start)

	zap.L().Debug("Generation finished",
		zap.String("taskID", taskID),
		zap.Duration("elapsed", elapsed),
	)

	return &Result{
		TaskID:         taskID,
		OutputURL:      outputURL,
		Elapsed:        elapsed,
		ElapsedSeconds: util.RoundMillis(elapsed),
	}, nil
}

// poll queries the job every poll interval. The latest non-empty output URL
// is kept even if a later response drops it.
func (o *Orchestrator) poll(ctx context.Context, token, taskID string) (string, error) {
	var (
		outputURL string
		succeeded bool
	)

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		select {
		case <-o.cfg.Clock.After(o.cfg.PollInterval):
		case <-ctx.Done():
			return "", &Error{Kind: KindTransport, Message: "Failed to fetch status", Err: ctx.Err()}
		}

		st, err := o.api.Query(ctx, token, taskID)
		if err != nil {
			return "", err
		}

		status := strings.ToLower(st.Status)
		if st.OutputURL != "" {
			outputURL = st.OutputURL
		}

		if isOneOf(status, successStatuses) {
			succeeded = true
			break
		}

		if isOneOf(status, failureStatuses) {
			return "", &Error{Kind: KindTerminalFailure, Message: "Generation failed"}
		}

		zap.L().Debug("Generation still running",
			zap.String("taskID", taskID),
			zap.String("status", status),
			zap.Int("attempt", attempt+1),
		)
	}

	if outputURL == "" {
		kind := KindBudgetExhausted
		if succeeded {
			kind = KindProtocol
		}

		return "", &Error{Kind: kind, Message: "No video URL returned"}
	}

	return outputURL, nil
}
