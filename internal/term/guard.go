// Package term implements the Terminal Executor (§4.7): spawning child
// processes, streaming stdout/stderr, honouring abort, and the
// dangerous-command / self-destructive-command guards shared with the tool
// sensitivity classifier (§4.2).
package term

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// dangerousPatterns is the deterministic predicate shared between pre-flight
// rejection here and the tool sensitivity classifier in internal/tool. Per
// §9's open question, the exact membership is policy, not a hard contract;
// this is the snow-specific choice.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-\w*r\w*f|-\w*f\w*r)\s+/(\s|$)`),
	regexp.MustCompile(`rm\s+(-\w*r\w*f|-\w*f\w*r)\s+~(\s|$|/)`),
	regexp.MustCompile(`rm\s+(-\w*r\w*f|-\w*f\w*r)\s+\*(\s|$)`),
	regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`), // fork bomb
	regexp.MustCompile(`mkfs\.\w+`),
	regexp.MustCompile(`dd\s+.*of=/dev/(sd|nvme|hd)`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`chmod\s+-R\s+000\s+/`),
	regexp.MustCompile(`chmod\s+-R\s+777\s+/(\s|$)`),
	regexp.MustCompile(`curl[^|]*\|\s*(sudo\s+)?(sh|bash)\b`),
	regexp.MustCompile(`wget[^|]*\|\s*(sudo\s+)?(sh|bash)\b`),
	regexp.MustCompile(`\bshutdown\b`),
	regexp.MustCompile(`\breboot\b`),
	regexp.MustCompile(`\bsudo\s+rm\b`),
	regexp.MustCompile(`\buserdel\b`),
	regexp.MustCompile(`>\s*/etc/passwd`),
}

// selfDestructivePatterns hold a literal %d where a pid would go and are not
// used by anything in this package; IsSelfDestructive matches kill commands
// against this process's pid and process group by substring instead.
var selfDestructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bkill\s+(-9\s+)?-?%d\b`),
	regexp.MustCompile(`\bkill\s+-9?\s*-%d\b`),
}

// IsDangerous reports whether command matches the shared destructive-shell
// denylist. It is evaluated before spawning and, separately, used by the
// tool dispatcher's sensitivity classifier (§4.2) so the same predicate
// governs both pre-flight rejection and confirmation gating.
func IsDangerous(command string) bool {
	for _, p := range dangerousPatterns {
		if p.MatchString(command) {
			return true
		}
	}
	return false
}

// IsSelfDestructive reports whether command would signal this process's own
// pid or process group.
func IsSelfDestructive(command string) bool {
	pid := os.Getpid()
	pgid := pid // best-effort: on platforms without Getpgrp this still catches direct self-pid kills
	if pg, err := getpgrp(); err == nil {
		pgid = pg
	}
	candidates := []string{strconv.Itoa(pid), strconv.Itoa(pgid), "-" + strconv.Itoa(pgid)}
	for _, c := range candidates {
		if strings.Contains(command, fmt.Sprintf("kill -9 %s", c)) ||
			strings.Contains(command, fmt.Sprintf("kill %s", c)) ||
			strings.Contains(command, fmt.Sprintf("kill -KILL %s", c)) ||
			strings.Contains(command, fmt.Sprintf("kill -TERM %s", c)) {
			return true
		}
	}
	return false
}

// Reject returns a synthetic non-zero ExecResult for a command that never
// reaches the shell, per §7 ("Self-protection: dangerous-command and
// self-destructive-command rejections never reach the shell; they return a
// synthetic non-zero result").
func Reject(command, reason string) ExecResult {
	return ExecResult{
		Command:  command,
		ExitCode: 126,
		Stderr:   fmt.Sprintf("rejected: %s", reason),
		Finished: true,
		Error:    reason,
	}
}
