package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestShellRunner(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		wantCode int
		wantOut  string
	}{
		{"success", "echo hello", 0, "hello"},
		{"failure", "echo broken >&2; exit 3", 3, "broken"},
	}

	r := NewRunner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.RunShell(context.Background(), t.TempDir(), tt.command)
			if err != nil {
				t.Fatalf("RunShell failed: %v", err)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if res.Passed() != (tt.wantCode == 0) {
				t.Errorf("Passed() = %v", res.Passed())
			}
			if !strings.Contains(res.Output, tt.wantOut) {
				t.Errorf("Output = %q, want it to contain %q", res.Output, tt.wantOut)
			}
		})
	}
}

func TestShellRunner_Env(t *testing.T) {
	r := NewRunner("CADRE_TEST_VALUE=42")
	res, err := r.RunShell(context.Background(), "", "echo $CADRE_TEST_VALUE")
	if err != nil {
		t.Fatalf("RunShell failed: %v", err)
	}
	if strings.TrimSpace(res.Output) != "42" {
		t.Errorf("Output = %q, want 42", res.Output)
	}
}

func TestShellRunner_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := NewRunner().RunShell(ctx, "", "sleep 5"); err == nil {
		t.Error("expected error when context expires")
	}
}
