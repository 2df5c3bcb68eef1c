// Package probe checks that the external services the pipeline depends on answer.
package probe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nickigann03/ai-secretary/internal/llm"
	"github.com/nickigann03/ai-secretary/internal/speech"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Pinger is implemented by the speech and language model clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is the outcome for one service.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Report holds one check per external service.
type Report struct {
	Speech Check `json:"speech"`
	LLM    Check `json:"llm"`
}

// OK reports whether every service answered.
func (r Report) OK() bool {
	return r.Speech.Status == StatusOK && r.LLM.Status == StatusOK
}

type Service struct {
	speech  Pinger
	llm     Pinger
	timeout time.Duration
}

func NewService(speechClient, llmClient Pinger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{speech: speechClient, llm: llmClient, timeout: timeout}
}

// Run pings both services concurrently. It never writes any state.
func (s *Service) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		report Report
		wg     sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Speech = speechCheck(ctx, s.speech)
	}()
	go func() {
		defer wg.Done()
		report.LLM = llmCheck(ctx, s.llm)
	}()
	wg.Wait()
	return report
}

func speechCheck(ctx context.Context, p Pinger) Check {
	if p == nil {
		return Check{Status: StatusError, Message: "speech client not configured"}
	}
	err := p.Ping(ctx)
	var httpErr *speech.HTTPError
	switch {
	case err == nil:
		return Check{Status: StatusOK, Message: "Connected"}
	case errors.Is(err, speech.ErrMissingCredentials):
		return Check{Status: StatusError, Message: "Missing GLADIA_API_KEY"}
	case errors.As(err, &httpErr) && httpErr.Unauthorized():
		return Check{Status: StatusError, Message: "Invalid API Key"}
	default:
		return Check{Status: StatusError, Message: err.Error()}
	}
}

func llmCheck(ctx context.Context, p Pinger) Check {
	if p == nil {
		return Check{Status: StatusError, Message: "language model not configured"}
	}
	err := p.Ping(ctx)
	switch {
	case err == nil:
		return Check{Status: StatusOK, Message: "Connected"}
	case errors.Is(err, llm.ErrMissingCredentials):
		return Check{Status: StatusError, Message: "Missing language model API key"}
	default:
		return Check{Status: StatusError, Message: err.Error()}
	}
}
