package improve

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/cadre/internal/exec"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// Verifier runs the external check after a candidate is committed.
type Verifier interface {
	Verify(ctx context.Context) (models.VerificationReport, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context) (models.VerificationReport, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context) (models.VerificationReport, error) {
	return f(ctx)
}

// NopVerifier always passes.
type NopVerifier struct{}

// Verify reports success without running anything.
func (NopVerifier) Verify(context.Context) (models.VerificationReport, error) {
	return models.VerificationReport{Passed: true, Output: "verification skipped"}, nil
}

// DefaultVerifyTimeout bounds a verification command.
const DefaultVerifyTimeout = 5 * time.Minute

// CommandVerifier runs a shell command (for example "go test ./...") in
// Dir; a zero exit status passes.
type CommandVerifier struct {
	Runner  exec.CommandRunner
	Dir     string
	Command string
	Timeout time.Duration
}

// NewCommandVerifier creates a CommandVerifier using the shell runner.
func NewCommandVerifier(dir, command string, timeout time.Duration) *CommandVerifier {
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	return &CommandVerifier{
		Runner:  exec.NewRunner(),
		Dir:     dir,
		Command: command,
		Timeout: timeout,
	}
}

// Verify runs the command under the timeout.
func (v *CommandVerifier) Verify(ctx context.Context) (models.VerificationReport, error) {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := v.Runner.RunShell(ctx, v.Dir, v.Command)
	report := models.VerificationReport{
		Passed:   err == nil && res.Passed(),
		Output:   res.Output,
		Duration: res.Duration,
	}
	if err != nil {
		return report, fmt.Errorf("verify: %w", err)
	}
	if !res.Passed() {
		report.Output = fmt.Sprintf("%s\nexit status %d", res.Output, res.ExitCode)
	}
	return report, nil
}

var (
	_ Verifier = NopVerifier{}
	_ Verifier = (*CommandVerifier)(nil)
	_ Verifier = VerifierFunc(nil)
)
