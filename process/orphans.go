package process

import (
	"context"
	"errors"
	osexec "os/exec"
	"strconv"
	"strings"

	"github.com/zhubert/shepherd/exec"
	"github.com/zhubert/shepherd/logger"
)

// SessionProcess is a running assistant process found on the system.
type SessionProcess struct {
	PID     int    // Process ID
	Command string // Full command line
}

// FindSessionProcesses finds all assistant processes started with a session
// id flag. Useful for detecting orphans left behind after a crash.
func FindSessionProcesses(ctx context.Context, ex exec.CommandExecutor, command string) ([]SessionProcess, error) {
	var processes []SessionProcess
	log := logger.WithComponent("process")

	pattern := command + ".*--session-id"
	output, err := ex.Output(ctx, "", "pgrep", "-f", pattern)
	if err != nil {
		// pgrep exits 1 when nothing matches
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return processes, nil
		}
		return nil, err
	}

	for _, pidStr := range strings.Fields(string(output)) {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}

		psOutput, err := ex.Output(ctx, "", "ps", "-p", pidStr, "-o", "args=")
		if err != nil {
			continue
		}
		processes = append(processes, SessionProcess{
			PID:     pid,
			Command: strings.TrimSpace(string(psOutput)),
		})
	}

	log.Debug("found session processes", "count", len(processes))
	return processes, nil
}

// FindOrphans returns session processes whose session id is not in
// knownSessionIDs.
func FindOrphans(ctx context.Context, ex exec.CommandExecutor, command string, knownSessionIDs map[string]bool) ([]SessionProcess, error) {
	all, err := FindSessionProcesses(ctx, ex, command)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []SessionProcess
	for _, proc := range all {
		sessionID := extractSessionID(proc.Command)
		if sessionID != "" && !knownSessionIDs[sessionID] {
			orphans = append(orphans, proc)
			log.Info("found orphaned process", "pid", proc.PID, "session_id", sessionID)
		}
	}
	return orphans, nil
}

// CleanupOrphans kills every orphaned session process and returns how many
// were killed.
func CleanupOrphans(ctx context.Context, ex exec.CommandExecutor, command string, knownSessionIDs map[string]bool) (int, error) {
	orphans, err := FindOrphans(ctx, ex, command, knownSessionIDs)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned process", "pid", proc.PID)
		if _, _, err := ex.Run(ctx, "", "kill", "-9", strconv.Itoa(proc.PID)); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

// extractSessionID pulls the session id out of a command line containing
// --session-id or --resume.
func extractSessionID(cmdLine string) string {
	for _, flag := range []string{"--session-id", "--resume"} {
		_, after, ok := strings.Cut(cmdLine, flag)
		if !ok {
			continue
		}
		rest := strings.TrimLeft(after, " =")
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
