// Package agentinvoker spawns AI coding-agent subprocesses, extracts and
// validates their structured JSON output, and manages retries, fallback
// chains, and a per-run auth-failure circuit breaker, per spec.md §4.4.
// Grounded on nandosb-ai-native-sdlc/internal/claude/runner.go's subprocess
// spawn + stdout streaming + exit-code inspection pattern.
package agentinvoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/egv/super-ralph-lite/internal/schema"
)

// Outcome tags how an invocation ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeAgentFailed Outcome = "agent_failed"
	OutcomeAuthFailed  Outcome = "auth_failed"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSchemaFail  Outcome = "schema_mismatch"
	OutcomeTruncated   Outcome = "output_truncated"
)

// Result is what one Invoke call returns.
type Result struct {
	Outcome   Outcome
	Payload   map[string]interface{}
	AgentUsed string
	Err       error
	ResumeAt  time.Time // set when Outcome == OutcomeRateLimited
}

const (
	defaultMaxStdout   = 200 * 1024
	defaultDeadline    = 60 * time.Minute
	killGrace          = 5 * time.Second
	maxCorrectiveTries = 2
)

// Runner is the subprocess seam, matching the fake-runner shape from
// dpolishuk-yolo-runner/command_runner.go so tests never spawn real
// processes.
type Runner interface {
	// Run executes binary with args, piping prompt to stdin, and returns
	// captured stdout/stderr or an error (including *exec.ExitError).
	Run(ctx context.Context, binary string, args []string, prompt string) (stdout, stderr string, err error)
}

// ErrOutputTruncated marks a Runner error as "the agent's stdout hit the
// configured ceiling," distinct from a plain nonzero exit, per spec.md
// §4.4 step 2's "truncation at the configured ceiling is a structured
// error."
var ErrOutputTruncated = errors.New("agentinvoker: agent output truncated at configured ceiling")

// ExecRunner runs the real subprocess via os/exec, killing the whole
// process group (SIGTERM, then SIGKILL after killGrace) on cancellation so
// an agent's own child processes don't leak past the invocation.
type ExecRunner struct {
	// MaxStdout overrides defaultMaxStdout when nonzero, for tests.
	MaxStdout int
}

func (r ExecRunner) Run(ctx context.Context, binary string, args []string, prompt string) (string, string, error) {
	limit := r.MaxStdout
	if limit <= 0 {
		limit = defaultMaxStdout
	}

	cmd := exec.Command(binary, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	lw := &limitedWriter{buf: &stdout, limit: limit}
	cmd.Stdout = lw
	cmd.Stderr = &stderr
	// New process group so a SIGTERM/SIGKILL sent to -pgid reaches every
	// child the agent binary itself spawns, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return "", "", err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil && lw.truncated {
			err = fmt.Errorf("%w: output exceeded %d bytes", ErrOutputTruncated, limit)
		}
		return stdout.String(), stderr.String(), err
	case <-ctx.Done():
		pgid := cmd.Process.Pid
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			<-done
		}
		return stdout.String(), stderr.String(), ctx.Err()
	}
}

type limitedWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

// authFailurePattern and rateLimitPattern recognize the signatures spec.md
// §4.4/§7 describe. Real agent CLIs vary; these are the conservative
// substrings the invoker treats as authoritative.
var (
	authFailurePattern = regexp.MustCompile(`(?i)(authentication failed|invalid api key|unauthorized)`)
	rateLimitPattern   = regexp.MustCompile(`(?i)rate limit`)
)

// Invoker drives the spawn/extract/validate/retry pipeline.
type Invoker struct {
	Runner    Runner
	Validator *schema.Validator

	mu             sync.Mutex
	disabledAgents map[string]bool // per-run circuit breaker
}

// New returns an Invoker using the real OS process runner.
func New(validator *schema.Validator) *Invoker {
	return &Invoker{Runner: ExecRunner{}, Validator: validator, disabledAgents: map[string]bool{}}
}

// Invoke runs one task's agent chain: attempts 1..retries+1, selecting the
// agent for attempt i via saturating-index arithmetic over agents (primary
// first, fallback thereafter), per spec.md §4.4's retry rule. An agent
// disabled earlier in the run is passed over for the next one in the list.
func (inv *Invoker) Invoke(ctx context.Context, agents []AgentBinary, prompt, schemaKey string, retries int) Result {
	if len(agents) == 0 {
		return Result{Outcome: OutcomeAgentFailed, Err: fmt.Errorf("agentinvoker: no agents configured")}
	}
	var last Result
	for attempt := 0; attempt <= retries; attempt++ {
		idx := attempt
		if idx >= len(agents) {
			idx = len(agents) - 1
		}
		for idx < len(agents)-1 && inv.isDisabled(agents[idx].Name) {
			idx++
		}
		agent := agents[idx]
		if inv.isDisabled(agent.Name) {
			continue
		}
		last = inv.attempt(ctx, agent, prompt, schemaKey)
		if last.Outcome == OutcomeSuccess || last.Outcome == OutcomeCancelled {
			return last
		}
		if last.Outcome == OutcomeAuthFailed {
			inv.disable(agent.Name)
		}
	}
	return last
}

// AgentBinary names one entry of a task's agent (or fallback) list.
type AgentBinary struct {
	Name string
	Bin  string
	Args []string
}

func (inv *Invoker) isDisabled(name string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.disabledAgents[name]
}

func (inv *Invoker) disable(name string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.disabledAgents[name] = true
}

// attempt runs one agent invocation, and on schema-validation or
// extraction failure re-invokes the same agent up to maxCorrectiveTries
// more times with the mismatch appended to the prompt, per spec.md §4.4
// step 4's corrective-reprompt rule. Only after those are exhausted does it
// give up with OutcomeSchemaFail.
func (inv *Invoker) attempt(ctx context.Context, agent AgentBinary, prompt, schemaKey string) Result {
	deadlineCtx, cancel := context.WithTimeout(ctx, defaultDeadline)
	defer cancel()

	currentPrompt := prompt
	var last Result
	for try := 0; try <= maxCorrectiveTries; try++ {
		stdout, stderr, err := inv.Runner.Run(deadlineCtx, agent.Bin, agent.Args, currentPrompt)
		if deadlineCtx.Err() == context.Canceled {
			return Result{Outcome: OutcomeCancelled, AgentUsed: agent.Name}
		}
		if authFailurePattern.MatchString(stderr) {
			return Result{Outcome: OutcomeAuthFailed, AgentUsed: agent.Name, Err: fmt.Errorf("agentinvoker: auth failure: %s", stderr)}
		}
		if rateLimitPattern.MatchString(stderr) {
			return Result{Outcome: OutcomeRateLimited, AgentUsed: agent.Name, ResumeAt: time.Now().Add(time.Minute)}
		}
		if err != nil {
			if errors.Is(err, ErrOutputTruncated) {
				return Result{Outcome: OutcomeTruncated, AgentUsed: agent.Name, Err: err}
			}
			return Result{Outcome: OutcomeAgentFailed, AgentUsed: agent.Name, Err: fmt.Errorf("agentinvoker: %s exited: %w: %s", agent.Name, err, stderr)}
		}

		payload, extractErr := extractJSON(stdout)
		if extractErr != nil {
			last = Result{Outcome: OutcomeSchemaFail, AgentUsed: agent.Name, Err: extractErr}
			currentPrompt = correctivePrompt(prompt, extractErr)
			continue
		}

		decoded, valErr := inv.Validator.Validate(schemaKey, payload)
		if valErr != nil {
			last = Result{Outcome: OutcomeSchemaFail, AgentUsed: agent.Name, Err: valErr}
			currentPrompt = correctivePrompt(prompt, valErr)
			continue
		}
		return Result{Outcome: OutcomeSuccess, Payload: decoded, AgentUsed: agent.Name}
	}
	return last
}

// correctivePrompt implements spec.md §4.4 step 4's follow-up strategy: the
// original prompt plus the validation mismatch, asking for a corrected
// strict-JSON response.
func correctivePrompt(original string, mismatch error) string {
	return fmt.Sprintf("%s\n\nYour previous response did not match the required schema: %v\nRespond again with only the corrected JSON object.", original, mismatch)
}

// extractJSON implements spec.md §4.4's ordered strategies (a)-(c). The
// follow-up "strict form" reprompt strategy (d) is attempt's
// correctivePrompt loop, which re-invokes the agent rather than
// re-parsing this call's output.
func extractJSON(stdout string) ([]byte, error) {
	trimmed := strings.TrimSpace(stdout)
	if looksLikeJSONObject(trimmed) {
		return []byte(trimmed), nil
	}
	if fenced := lastFencedJSONBlock(stdout); fenced != "" {
		return []byte(fenced), nil
	}
	if balanced := lastBalancedBraceSpan(stdout); balanced != "" {
		return []byte(balanced), nil
	}
	return nil, fmt.Errorf("agentinvoker: no JSON value found in agent output")
}

func looksLikeJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

func lastFencedJSONBlock(s string) string {
	matches := fencedBlockPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

func lastBalancedBraceSpan(s string) string {
	var spans []string
	depth := 0
	start := -1
	for i, r := range s {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, s[start:i+1])
				}
			}
		}
	}
	if len(spans) == 0 {
		return ""
	}
	return spans[len(spans)-1]
}
