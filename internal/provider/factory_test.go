package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeAnalyzer struct {
	name   string
	calls  int
	errs   []error
	result *AnalysisResult
}

func (f *fakeAnalyzer) Name() string { return f.name }

func (f *fakeAnalyzer) Analyze(context.Context, Image, string) (*AnalysisResult, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.result != nil {
		return f.result, nil
	}
	return &AnalysisResult{Provider: f.name}, nil
}

type fakeEditor struct {
	name  string
	calls int
	err   error
}

func (f *fakeEditor) Name() string { return f.name }

func (f *fakeEditor) Edit(context.Context, Image, string) (*EditResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &EditResult{Data: []byte("ok"), Provider: f.name}, nil
}

func testRegistry(analyzer Analyzer, editor Editor) Registry {
	return Registry{
		Analyzers: map[string]Analyzer{analyzer.Name(): analyzer},
		Editors:   map[string]Editor{editor.Name(): editor},
	}
}

func TestNewFactoryRejectsUnknownAnalyzer(t *testing.T) {
	reg := testRegistry(&fakeAnalyzer{name: "a"}, &fakeEditor{name: "e"})
	_, err := NewFactory(FactoryConfig{Analysis: "missing", Editing: "e"}, reg)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Role != RoleAnalysis || cfgErr.Name != "missing" {
		t.Fatalf("unexpected error fields: %+v", cfgErr)
	}
	if len(cfgErr.Known) != 1 || cfgErr.Known[0] != "a" {
		t.Fatalf("expected known providers [a], got %v", cfgErr.Known)
	}
}

func TestNewFactoryRejectsUnknownEditor(t *testing.T) {
	reg := testRegistry(&fakeAnalyzer{name: "a"}, &fakeEditor{name: "e"})
	_, err := NewFactory(FactoryConfig{Analysis: "a", Editing: "missing"}, reg)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Role != RoleEditing {
		t.Fatalf("expected editing role, got %s", cfgErr.Role)
	}
}

func TestFactoryRetriesTransientAnalysis(t *testing.T) {
	analyzer := &fakeAnalyzer{
		name: "a",
		errs: []error{
			Transient("a", "analyze", errors.New("flaky")),
			Transient("a", "analyze", errors.New("flaky")),
			nil,
		},
	}
	factory, err := NewFactory(FactoryConfig{
		Analysis: "a",
		Editing:  "e",
		Retry:    Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, testRegistry(analyzer, &fakeEditor{name: "e"}))
	if err != nil {
		t.Fatalf("unexpected factory error: %v", err)
	}

	res, err := factory.Analysis().Analyze(context.Background(), Image{}, "")
	if err != nil {
		t.Fatalf("unexpected analyze error: %v", err)
	}
	if res.Provider != "a" {
		t.Fatalf("unexpected result provider %q", res.Provider)
	}
	if analyzer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", analyzer.calls)
	}
}

func TestFactoryDoesNotRetryPermanentEdit(t *testing.T) {
	editor := &fakeEditor{name: "e", err: Permanent("e", "edit", errors.New("bad input"))}
	factory, err := NewFactory(FactoryConfig{
		Analysis: "a",
		Editing:  "e",
		Retry:    Policy{MaxAttempts: 5, BaseDelay: time.Millisecond},
	}, testRegistry(&fakeAnalyzer{name: "a"}, editor))
	if err != nil {
		t.Fatalf("unexpected factory error: %v", err)
	}

	_, err = factory.Editing().Edit(context.Background(), Image{}, "warm tones")
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if editor.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", editor.calls)
	}
}

func TestFactoryNormalizesDeadlineExpiry(t *testing.T) {
	analyzer := &fakeAnalyzer{
		name: "a",
		errs: []error{context.DeadlineExceeded, context.DeadlineExceeded},
	}
	factory, err := NewFactory(FactoryConfig{
		Analysis: "a",
		Editing:  "e",
		Retry:    Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}, testRegistry(analyzer, &fakeEditor{name: "e"}))
	if err != nil {
		t.Fatalf("unexpected factory error: %v", err)
	}

	_, err = factory.Analysis().Analyze(context.Background(), Image{}, "")
	if !IsTransient(err) {
		t.Fatalf("deadline expiry should surface as transient, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected a classified provider error, got %v", err)
	}
	if analyzer.calls != 2 {
		t.Fatalf("expected the timeout to be retried, got %d attempts", analyzer.calls)
	}
}

func TestFactoryNamePassesThrough(t *testing.T) {
	factory, err := NewFactory(FactoryConfig{Analysis: "a", Editing: "e"},
		testRegistry(&fakeAnalyzer{name: "a"}, &fakeEditor{name: "e"}))
	if err != nil {
		t.Fatalf("unexpected factory error: %v", err)
	}
	if factory.Analysis().Name() != "a" || factory.Editing().Name() != "e" {
		t.Fatal("retry wrappers must keep the client name")
	}
}
