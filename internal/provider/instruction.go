package provider

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// defaultPrompt is applied when a job carries no user instruction.
const defaultPrompt = "Enhance lighting, color balance and sharpness while keeping the subject natural."

// BuildInstructions merges the analysis output with the user prompt into the
// instruction string handed to the editing provider. An empty prompt falls
// back to a neutral enhancement instruction.
func BuildInstructions(analysis *AnalysisResult, prompt string) string {
	parts := []string{}

	instruction := strings.TrimSpace(prompt)
	if instruction == "" {
		instruction = defaultPrompt
	}
	parts = append(parts, instruction)

	if analysis != nil {
		if desc := strings.TrimSpace(analysis.Description); desc != "" {
			parts = append(parts, "Scene: "+desc+".")
		}
		if subjects := titledLabels(analysis.Labels); subjects != "" {
			parts = append(parts, fmt.Sprintf("Key subjects: %s.", subjects))
		}
	}

	parts = append(parts, "Preserve the original composition and proportions, no artifacts, no blur.")
	return strings.Join(parts, " ")
}

func titledLabels(labels []string) string {
	titler := cases.Title(language.Und)
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		out = append(out, titler.String(label))
	}
	return strings.Join(out, ", ")
}
