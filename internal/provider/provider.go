package provider

import "context"

// Role selects which pipeline stage a client serves.
type Role string

const (
	RoleAnalysis Role = "analysis"
	RoleEditing  Role = "editing"
)

// Image is the payload handed to a provider call.
type Image struct {
	Key  string
	MIME string
	Data []byte
}

// AnalysisResult is the normalized output of an analysis call.
type AnalysisResult struct {
	Labels      []string
	Description string
	Provider    string
}

// EditResult is the normalized output of an editing call.
type EditResult struct {
	Data     []byte
	Format   string
	Provider string
}

// Analyzer is the contract implemented by analysis-role providers.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, img Image, prompt string) (*AnalysisResult, error)
}

// Editor is the contract implemented by editing-role providers.
type Editor interface {
	Name() string
	Edit(ctx context.Context, img Image, instructions string) (*EditResult, error)
}
