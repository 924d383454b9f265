// Package hook implements the three core-relevant hook points (§4.8):
// onSessionStart (on /clear), beforeCompress (§4.6), and onStop (end of
// each user turn). Hooks are discovered as HOOK.md files — YAML
// frontmatter plus a markdown prompt body, the same shape the teacher
// uses for its event-driven hook bundles — but are executed here as
// either a shell command (via internal/term) or an LLM prompt, classified
// by exit code / structured reply rather than dispatched through a
// generic pub/sub event bus.
package hook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snowcli/snow/internal/term"
	"github.com/snowcli/snow/pkg/models"
)

// Event names the three hook points this package understands.
type Event string

const (
	EventOnSessionStart Event = "onSessionStart"
	EventBeforeCompress Event = "beforeCompress"
	EventOnStop         Event = "onStop"
)

// Kind distinguishes a shell-command hook from an LLM-prompt hook.
type Kind string

const (
	KindCommand Kind = "command"
	KindPrompt  Kind = "prompt"
)

// Definition is one HOOK.md's parsed frontmatter plus its markdown body
// (used verbatim as the prompt for Kind=prompt hooks).
type Definition struct {
	Name    string `yaml:"name"`
	Event   Event  `yaml:"event"`
	Kind    Kind   `yaml:"kind"`
	Command string `yaml:"command"`
	Body    string `yaml:"-"`
}

const frontmatterDelimiter = "---"

// ParseFile reads one HOOK.md-style file: YAML frontmatter delimited by
// "---" lines, followed by a markdown body.
func ParseFile(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(raw)
	if !strings.HasPrefix(strings.TrimSpace(text), frontmatterDelimiter) {
		return nil, fmt.Errorf("hook: %s missing frontmatter delimiter", path)
	}
	parts := strings.SplitN(strings.TrimLeft(text, "﻿ \n"), frontmatterDelimiter, 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("hook: %s malformed frontmatter", path)
	}
	var def Definition
	if err := yaml.Unmarshal([]byte(parts[1]), &def); err != nil {
		return nil, fmt.Errorf("hook: %s frontmatter: %w", path, err)
	}
	def.Body = strings.TrimSpace(parts[2])
	return &def, nil
}

// Discover scans dir for <name>/HOOK.md entries, skipping anything that
// fails to parse (logged by the caller, not fatal to startup).
func Discover(dir string) ([]*Definition, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{err}
	}
	var defs []*Definition
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		hookFile := filepath.Join(dir, e.Name(), "HOOK.md")
		if _, err := os.Stat(hookFile); err != nil {
			continue
		}
		def, err := ParseFile(hookFile)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, errs
}

// Outcome carries the classified result of running one hook.
type Outcome struct {
	Blocked bool   // exit >= 2
	Warned  bool   // exit == 1
	Details string
}

// PromptRunner invokes a prompt-typed hook (kind=prompt) against the LLM
// and returns its raw reply; injected so this package never imports
// internal/provider directly.
type PromptRunner func(ctx context.Context, prompt string, sess *models.Session) (string, error)

// StopDecision is what an onStop hook decided (§4.8).
type StopDecision struct {
	Continue    bool
	InjectAs    models.Role // RoleUser ("ask:ai") or RoleAssistant ("ask:user")
	InjectText  string
}

// Registry holds discovered hooks per event and runs them.
type Registry struct {
	executor *term.Executor
	prompt   PromptRunner
	byEvent  map[Event][]*Definition
}

func NewRegistry(executor *term.Executor, prompt PromptRunner, defs []*Definition) *Registry {
	r := &Registry{executor: executor, prompt: prompt, byEvent: make(map[Event][]*Definition)}
	for _, d := range defs {
		r.byEvent[d.Event] = append(r.byEvent[d.Event], d)
	}
	return r
}

// RunOnSessionStart runs every onSessionStart hook (triggered by /clear).
// exit 1 = warn-then-continue; exit >= 2 = block.
func (r *Registry) RunOnSessionStart(ctx context.Context) (Outcome, error) {
	return r.runGate(ctx, EventOnSessionStart, nil)
}

// RunBeforeCompress runs every beforeCompress hook (§4.6 step 3).
func (r *Registry) RunBeforeCompress(ctx context.Context, sess *models.Session) (Outcome, error) {
	return r.runGate(ctx, EventBeforeCompress, sess)
}

func (r *Registry) runGate(ctx context.Context, event Event, sess *models.Session) (Outcome, error) {
	var result Outcome
	for _, def := range r.byEvent[event] {
		outcome, err := r.run(ctx, def, sess)
		if err != nil {
			return Outcome{}, err
		}
		if outcome.Blocked {
			return outcome, nil
		}
		if outcome.Warned {
			result = outcome
		}
	}
	return result, nil
}

func (r *Registry) run(ctx context.Context, def *Definition, sess *models.Session) (Outcome, error) {
	switch def.Kind {
	case KindCommand:
		if r.executor == nil {
			return Outcome{}, fmt.Errorf("hook %q: no terminal executor configured", def.Name)
		}
		res, err := r.executor.Run(ctx, def.Command, term.Options{})
		if err != nil {
			return Outcome{}, err
		}
		switch {
		case res.ExitCode >= 2:
			return Outcome{Blocked: true, Details: res.Stderr}, nil
		case res.ExitCode == 1:
			return Outcome{Warned: true, Details: res.Stdout}, nil
		default:
			return Outcome{}, nil
		}
	case KindPrompt:
		if r.prompt == nil {
			return Outcome{}, fmt.Errorf("hook %q: no prompt runner configured", def.Name)
		}
		reply, err := r.prompt(ctx, def.Body, sess)
		if err != nil {
			return Outcome{Blocked: true, Details: err.Error()}, nil
		}
		return Outcome{Details: reply}, nil
	default:
		return Outcome{}, fmt.Errorf("hook %q: unknown kind %q", def.Name, def.Kind)
	}
}

// RunOnStop runs every onStop hook in order and returns the first
// decision that asks to continue or inject a message; a hook whose reply
// does not parse as "ask:ai, continue:true" or "ask:user, continue:false"
// is treated as a no-op rather than a failure (onStop is best-effort).
func (r *Registry) RunOnStop(ctx context.Context, sess *models.Session) (*StopDecision, error) {
	for _, def := range r.byEvent[EventOnStop] {
		outcome, err := r.run(ctx, def, sess)
		if err != nil {
			return nil, err
		}
		if decision := parseStopReply(outcome.Details); decision != nil {
			return decision, nil
		}
	}
	return nil, nil
}

// parseStopReply recognizes the "ask:ai, continue:true" / "ask:user,
// continue:false" directive pairs a hook may emit; anything else yields
// nil (no decision).
func parseStopReply(reply string) *StopDecision {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}
	lower := strings.ToLower(reply)
	hasAI := strings.Contains(lower, "ask:ai")
	hasUser := strings.Contains(lower, "ask:user")
	continueTrue := strings.Contains(lower, "continue:true")
	continueFalse := strings.Contains(lower, "continue:false")

	switch {
	case hasAI && continueTrue:
		return &StopDecision{Continue: true, InjectAs: models.RoleUser, InjectText: stripDirective(reply)}
	case hasUser && continueFalse:
		return &StopDecision{Continue: false, InjectAs: models.RoleAssistant, InjectText: stripDirective(reply)}
	default:
		return nil
	}
}

func stripDirective(reply string) string {
	idx := strings.IndexAny(reply, "\n")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(reply[idx+1:])
}
