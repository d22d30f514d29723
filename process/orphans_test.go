package process

import (
	"context"
	"testing"

	"github.com/zhubert/shepherd/exec"
)

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		name    string
		cmdLine string
		want    string
	}{
		{
			name:    "session id flag",
			cmdLine: "claude --session-id abc-123",
			want:    "abc-123",
		},
		{
			name:    "equals form",
			cmdLine: "claude --session-id=abc-123",
			want:    "abc-123",
		},
		{
			name:    "resume flag",
			cmdLine: "claude --resume def-456 --verbose",
			want:    "def-456",
		},
		{
			name:    "no session flag",
			cmdLine: "claude --help",
			want:    "",
		},
		{
			name:    "flag with no value",
			cmdLine: "claude --session-id",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractSessionID(tt.cmdLine); got != tt.want {
				t.Errorf("extractSessionID(%q) = %q, want %q", tt.cmdLine, got, tt.want)
			}
		})
	}
}

func TestFindOrphans(t *testing.T) {
	mock := exec.NewMockExecutor()
	mock.AddExactMatch("pgrep", []string{"-f", "claude.*--session-id"}, exec.MockResponse{
		Stdout: []byte("100\n200\n"),
	})
	mock.AddExactMatch("ps", []string{"-p", "100", "-o", "args="}, exec.MockResponse{
		Stdout: []byte("claude --session-id known-session\n"),
	})
	mock.AddExactMatch("ps", []string{"-p", "200", "-o", "args="}, exec.MockResponse{
		Stdout: []byte("claude --session-id ghost-session\n"),
	})

	known := map[string]bool{"known-session": true}
	orphans, err := FindOrphans(context.Background(), mock, "claude", known)
	if err != nil {
		t.Fatalf("FindOrphans failed: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("got %d orphans, want 1", len(orphans))
	}
	if orphans[0].PID != 200 {
		t.Errorf("orphan PID = %d, want 200", orphans[0].PID)
	}
}

func TestCleanupOrphans(t *testing.T) {
	mock := exec.NewMockExecutor()
	mock.AddExactMatch("pgrep", []string{"-f", "claude.*--session-id"}, exec.MockResponse{
		Stdout: []byte("300\n"),
	})
	mock.AddExactMatch("ps", []string{"-p", "300", "-o", "args="}, exec.MockResponse{
		Stdout: []byte("claude --session-id stale\n"),
	})

	killed, err := CleanupOrphans(context.Background(), mock, "claude", map[string]bool{})
	if err != nil {
		t.Fatalf("CleanupOrphans failed: %v", err)
	}
	if killed != 1 {
		t.Errorf("killed = %d, want 1", killed)
	}

	var sawKill bool
	for _, call := range mock.GetCalls() {
		if call.Name == "kill" && len(call.Args) == 2 && call.Args[1] == "300" {
			sawKill = true
		}
	}
	if !sawKill {
		t.Error("expected a kill -9 300 invocation")
	}
}

func TestFindSessionProcessesNoneRunning(t *testing.T) {
	// MockExecutor returns empty success for unmatched commands, which is
	// how pgrep with no matches looks after the exit-code-1 special case.
	mock := exec.NewMockExecutor()
	procs, err := FindSessionProcesses(context.Background(), mock, "claude")
	if err != nil {
		t.Fatalf("FindSessionProcesses failed: %v", err)
	}
	if len(procs) != 0 {
		t.Errorf("got %d processes, want 0", len(procs))
	}
}
