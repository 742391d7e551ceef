package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appErr "arenaoj/pkg/errors"
)

const defaultRunnerTimeout = 30 * time.Second

// HTTPRunnerConfig holds settings for a remote runner endpoint.
type HTTPRunnerConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HTTPRunner executes cases against a remote sandbox runner over HTTP.
type HTTPRunner struct {
	endpoint string
	client   *http.Client
}

func NewHTTPRunner(cfg HTTPRunnerConfig) (*HTTPRunner, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("runner endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRunnerTimeout
	}
	return &HTTPRunner{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type runnerRequest struct {
	SubmissionID  string `json:"submission_id"`
	LanguageID    string `json:"language_id"`
	SourceCode    string `json:"source_code"`
	TestID        int32  `json:"test_id"`
	InputB64      string `json:"input_b64"`
	AnswerB64     string `json:"answer_b64"`
	TimeLimitMs   int32  `json:"time_limit_ms"`
	MemoryLimitKB int32  `json:"memory_limit_kb"`
}

type runnerResponse struct {
	Outcome  string `json:"outcome"`
	TimeMs   int32  `json:"time_ms"`
	MemoryKB int32  `json:"memory_kb"`
	Detail   string `json:"detail"`
}

func (r *HTTPRunner) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	payload, err := json.Marshal(runnerRequest{
		SubmissionID:  req.SubmissionID,
		LanguageID:    req.LanguageID,
		SourceCode:    req.SourceCode,
		TestID:        req.Case.TestID,
		InputB64:      base64.StdEncoding.EncodeToString(req.Case.Input),
		AnswerB64:     base64.StdEncoding.EncodeToString(req.Case.Answer),
		TimeLimitMs:   req.Case.TimeLimitMs,
		MemoryLimitKB: req.Case.MemoryLimitKB,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("marshal runner request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ExecResult{}, fmt.Errorf("build runner request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return ExecResult{}, appErr.Wrapf(err, appErr.SandboxError, "runner call failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ExecResult{}, appErr.Wrapf(err, appErr.SandboxError, "read runner response failed")
	}
	if resp.StatusCode != http.StatusOK {
		return ExecResult{}, appErr.Newf(appErr.SandboxError, "runner returned status %d", resp.StatusCode)
	}

	var out runnerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ExecResult{}, appErr.Wrapf(err, appErr.SandboxError, "decode runner response failed")
	}
	outcome, ok := parseOutcome(out.Outcome)
	if !ok {
		return ExecResult{}, appErr.Newf(appErr.SandboxError, "runner returned unknown outcome %q", out.Outcome)
	}
	return ExecResult{
		Outcome:  outcome,
		TimeMs:   out.TimeMs,
		MemoryKB: out.MemoryKB,
		Detail:   out.Detail,
	}, nil
}

func parseOutcome(raw string) (Outcome, bool) {
	switch Outcome(raw) {
	case OutcomeAccepted, OutcomeWrongAnswer, OutcomeTimeLimit,
		OutcomeMemoryLimit, OutcomeRuntimeError, OutcomeCompileError:
		return Outcome(raw), true
	}
	return "", false
}
