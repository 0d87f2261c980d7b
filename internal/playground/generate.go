package playground

import (
	"bitwise74/playground-api/internal/generation"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// ErrRegistrationRequired is returned when an anonymous identity tries to
// generate.
var ErrRegistrationRequired = errors.New("registration required")

var ErrSessionClosed = errors.New("session is closed")

// begin checks that the session may generate and claims the run slot.
func (s *Session) begin(ctx context.Context) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}

	u := s.gate.WaitReady(ctx)
	s.ledger.Log("run_click", nil)

	if u == nil || u.Anonymous {
		s.ledger.Log("redirect_register", nil)
		return "", ErrRegistrationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSessionClosed
	}
	if s.running || s.orch.InFlight() {
		return "", generation.ErrInFlight
	}
	s.running = true
	s.runs.Add(1)

	return u.ID, nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.runs.Done()
}

// Generate runs a generation and waits for it to finish.
func (s *Session) Generate(ctx context.Context, settings generation.Settings) (*generation.Result, error) {
	uid, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.end()

	return s.run(ctx, uid, settings)
}

// StartGenerate starts a generation in the background. Local validation
// failures are returned right away.
func (s *Session) StartGenerate(ctx context.Context, settings generation.Settings) error {
	uid, err := s.begin(ctx)
	if err != nil {
		return err
	}

	if strings.TrimSpace(settings.Prompt) == "" {
		defer s.end()
		_, err := s.run(ctx, uid, settings)
		return err
	}

	go func() {
		defer s.end()
		s.run(s.ctx, uid, settings)
	}()

	return nil
}

func (s *Session) run(ctx context.Context, uid string, settings generation.Settings) (*generation.Result, error) {
	hooks := generation.Hooks{
		OnSubmit: func(st generation.Settings) {
			s.ledger.Log("run_authenticated", map[string]any{
				"duration":         st.Duration,
				"orientation":      st.Orientation,
				"remove_watermark": st.RemoveWatermark,
			})
		},
		OnStatus: s.setStatus,
	}

	res, err := s.orch.Run(ctx, settings, hooks)
	if errors.Is(err, generation.ErrInFlight) {
		return nil, err
	}

	if err != nil {
		msg := generation.Message(err)
		s.setStatus(msg, "error")
		s.ledger.Log("generation_error", map[string]any{"message": msg})

		zap.L().Warn("Generation failed", zap.String("session", s.ID), zap.Error(err))
		return nil, err
	}

	s.setStatus(fmt.Sprintf("Generated in %.3f seconds", res.ElapsedSeconds), "")
	s.ledger.Log("generation_complete", map[string]any{
		"elapsed_seconds": res.ElapsedSeconds,
	})

	item := HistoryItem{
		TaskID:         res.TaskID,
		OutputURL:      res.OutputURL,
		Prompt:         settings.Prompt,
		ElapsedSeconds: res.ElapsedSeconds,
		CreatedAt:      s.clock.Now(),
	}

	s.ledger.LogVideo(map[string]any{
		"run_id":           ksuid.New().String(),
		"task_id":          res.TaskID,
		"output_url":       res.OutputURL,
		"prompt":           settings.Prompt,
		"duration":         settings.Duration,
		"orientation":      settings.Orientation,
		"remove_watermark": settings.RemoveWatermark,
		"elapsed_seconds":  res.ElapsedSeconds,
	})

	s.mu.Lock()
	s.history = append([]HistoryItem{item}, s.history...)
	s.mu.Unlock()

	if s.archiver != nil {
		// The run slot is still held here, so the counter can't be at zero.
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.archive(uid, res.TaskID, res.OutputURL)
		}()
	}

	return res, nil
}

// archive copies the output to the bucket and records its key once done.
func (s *Session) archive(uid, taskID, src string) {
	key, err := s.archiver.Archive(s.ctx, uid, taskID, src)
	if err != nil {
		zap.L().Warn("Failed to archive video", zap.String("taskID", taskID), zap.Error(err))
		return
	}

	s.mu.Lock()
	for i := range s.history {
		if s.history[i].TaskID == taskID {
			s.history[i].ArchiveKey = key
		}
	}
	s.mu.Unlock()

	s.ledger.Log("video_archived", map[string]any{
		"task_id":     taskID,
		"archive_key": key,
	})
}
