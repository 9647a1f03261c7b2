package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ConfigurationError reports an unresolvable provider at startup. It is fatal
// at factory construction, never surfaced per message.
type ConfigurationError struct {
	Role  Role
	Name  string
	Known []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider: no %s provider named %q (known: %v)", e.Role, e.Name, e.Known)
}

// Registry holds the concrete clients available for role resolution.
type Registry struct {
	Analyzers map[string]Analyzer
	Editors   map[string]Editor
}

// FactoryConfig selects the concrete provider per role and the retry/timeout
// budget every provider call runs under.
type FactoryConfig struct {
	Analysis    string
	Editing     string
	Retry       Policy
	CallTimeout time.Duration
}

// Factory resolves role-bound provider clients. Resolution happens once, at
// construction, so a misconfigured provider name fails the process at startup
// rather than on the first message.
type Factory struct {
	analyzer Analyzer
	editor   Editor
}

// NewFactory binds configured provider names to registered clients and wraps
// them with the retry policy and per-call timeout.
func NewFactory(cfg FactoryConfig, reg Registry) (*Factory, error) {
	analyzer, ok := reg.Analyzers[cfg.Analysis]
	if !ok {
		return nil, &ConfigurationError{Role: RoleAnalysis, Name: cfg.Analysis, Known: keys(reg.Analyzers)}
	}
	editor, ok := reg.Editors[cfg.Editing]
	if !ok {
		return nil, &ConfigurationError{Role: RoleEditing, Name: cfg.Editing, Known: keys(reg.Editors)}
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultPolicy()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Factory{
		analyzer: &retryingAnalyzer{client: analyzer, policy: retry, timeout: timeout},
		editor:   &retryingEditor{client: editor, policy: retry, timeout: timeout},
	}, nil
}

// Analysis returns the analysis-role client, retry-wrapped.
func (f *Factory) Analysis() Analyzer { return f.analyzer }

// Editing returns the editing-role client, retry-wrapped.
func (f *Factory) Editing() Editor { return f.editor }

type retryingAnalyzer struct {
	client  Analyzer
	policy  Policy
	timeout time.Duration
}

func (r *retryingAnalyzer) Name() string { return r.client.Name() }

func (r *retryingAnalyzer) Analyze(ctx context.Context, img Image, prompt string) (*AnalysisResult, error) {
	var out *AnalysisResult
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		res, err := r.client.Analyze(callCtx, img, prompt)
		if err != nil {
			return timeoutAsTransient(r.client.Name(), "analyze", err)
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type retryingEditor struct {
	client  Editor
	policy  Policy
	timeout time.Duration
}

func (r *retryingEditor) Name() string { return r.client.Name() }

func (r *retryingEditor) Edit(ctx context.Context, img Image, instructions string) (*EditResult, error) {
	var out *EditResult
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		res, err := r.client.Edit(callCtx, img, instructions)
		if err != nil {
			return timeoutAsTransient(r.client.Name(), "edit", err)
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// timeoutAsTransient normalizes a per-call deadline expiry into a transient
// provider error so the retry policy treats a hung provider like a slow one.
func timeoutAsTransient(provider, op string, err error) error {
	if IsPermanent(err) {
		return err
	}
	if !IsTransient(err) {
		return err
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return Transient(provider, op, err)
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
