package tool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// autoApprovedPatterns never require confirmation, in any mode: internal
// bookkeeping tools that never touch the user's filesystem or shell.
var autoApprovedPatterns = []string{
	"todo-*",
	"useful-info-*",
	"subagent-*",
	"askuser-ask_question",
}

// SensitivityClassifier marks calls that always require confirmation, even
// under YOLO. It receives the tool name and its raw arguments so a
// generic "terminal-execute" tool can be judged by the command it's about
// to run, not just its name.
type SensitivityClassifier func(toolName string, args json.RawMessage) (sensitive bool, reason string)

func matchesAnyPattern(patterns []string, name string) bool {
	name = strings.ToLower(name)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == name {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(name, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating a tool call against confirmation
// policy, before any user interaction.
type Decision int

const (
	// DecisionAllow means the call may run without asking the user.
	DecisionAllow Decision = iota
	// DecisionConfirm means the user must be asked this round.
	DecisionConfirm
)

// ConfirmResponse is how the user answered a batch confirmation prompt for
// one tool call.
type ConfirmResponse string

const (
	// ResponseApprove allows this one call to proceed.
	ResponseApprove ConfirmResponse = "approve"
	// ResponseApproveAlways allows this call and adds the tool name to the
	// always-approved set (both the in-memory overlay and, when a project
	// file is configured, the persisted per-project file) so it needs no
	// further confirmation.
	ResponseApproveAlways ConfirmResponse = "approve_always"
	// ResponseReject denies the call with a "user rejected this tool call"
	// error result. It does not end the turn: the orchestrator hands that
	// result back to the model like any other failed tool call.
	ResponseReject ConfirmResponse = "reject"
	// ResponseRejectWithReply denies the call but lets the orchestrator
	// continue the loop, feeding the user's reply back as the tool result.
	ResponseRejectWithReply ConfirmResponse = "reject_with_reply"
)

// Policy evaluates tool calls for confirmation and tracks approvals. It
// combines a fixed auto-approved list, a pluggable sensitivity classifier
// shared with the Terminal Executor's denylist, a YOLO (skip-all) switch,
// and a per-project persisted "always approved" set overlaid by an
// in-memory, session-scoped set so approve_always takes effect immediately
// without waiting on a disk round-trip.
type Policy struct {
	YOLO       bool
	classifier SensitivityClassifier

	mu             sync.RWMutex
	alwaysApproved map[string]bool // persisted, loaded from projectFile
	sessionOverlay map[string]bool // in-memory only, cleared per process

	projectFile string
}

// NewPolicy loads the persisted always-approved set from projectFile (if it
// exists; a missing file is not an error, just an empty set).
func NewPolicy(projectFile string, classifier SensitivityClassifier) (*Policy, error) {
	p := &Policy{
		classifier:     classifier,
		alwaysApproved: map[string]bool{},
		sessionOverlay: map[string]bool{},
		projectFile:    projectFile,
	}
	if projectFile == "" {
		return p, nil
	}
	data, err := os.ReadFile(projectFile)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, err
	}
	for _, n := range names {
		p.alwaysApproved[n] = true
	}
	return p, nil
}

// Evaluate decides, before asking anyone, whether toolName/args may run
// unattended this round.
func (p *Policy) Evaluate(toolName string, args json.RawMessage) (Decision, string) {
	if matchesAnyPattern(autoApprovedPatterns, toolName) {
		return DecisionAllow, "always-auto-approved tool"
	}
	if p.classifier != nil {
		if sensitive, reason := p.classifier(toolName, args); sensitive {
			return DecisionConfirm, reason
		}
	}
	if p.YOLO {
		return DecisionAllow, "yolo mode"
	}
	p.mu.RLock()
	approved := p.alwaysApproved[toolName] || p.sessionOverlay[toolName]
	p.mu.RUnlock()
	if approved {
		return DecisionAllow, "previously approved for this project"
	}
	return DecisionConfirm, "requires confirmation"
}

// Reload re-reads the persisted always-approved set from projectFile,
// merging it into the in-memory map without dropping the session overlay
// (an external edit widening the file should never revoke an
// approve_always decision made this session). Called by the config
// watcher when the permissions file changes on disk.
func (p *Policy) Reload() error {
	if p.projectFile == "" {
		return nil
	}
	data, err := os.ReadFile(p.projectFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range names {
		p.alwaysApproved[n] = true
	}
	return nil
}

// Record applies the user's answer for one tool call, persisting
// approve_always to disk if a project file is configured.
func (p *Policy) Record(toolName string, resp ConfirmResponse) error {
	if resp != ResponseApproveAlways {
		return nil
	}
	p.mu.Lock()
	p.sessionOverlay[toolName] = true
	p.alwaysApproved[toolName] = true
	names := make([]string, 0, len(p.alwaysApproved))
	for n := range p.alwaysApproved {
		names = append(names, n)
	}
	p.mu.Unlock()

	if p.projectFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.projectFile), 0o755); err != nil {
		return err
	}
	tmp := p.projectFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.projectFile)
}

// PartitionForConfirmation splits a batch of tool calls into those that can
// run immediately and those that need exactly one confirmation prompt this
// round (§4.2: "one prompt per round covering the non-pre-approved
// subset").
func (p *Policy) PartitionForConfirmation(calls []Call) (autoRun, needsConfirm []Call) {
	for _, c := range calls {
		if d, _ := p.Evaluate(c.Name, c.Args); d == DecisionAllow {
			autoRun = append(autoRun, c)
		} else {
			needsConfirm = append(needsConfirm, c)
		}
	}
	return autoRun, needsConfirm
}

// Call is the minimal shape Policy needs from a models.ToolCall, kept
// independent of pkg/models so this package has no import-cycle risk with
// the orchestrator.
type Call struct {
	ID   string
	Name string
	Args json.RawMessage
}
