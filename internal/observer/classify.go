package observer

import "strings"

// TaskCategory is a coarse label derived from a task description.
type TaskCategory string

const (
	CategoryAnalysis      TaskCategory = "ANALYSIS"
	CategoryExtraction    TaskCategory = "EXTRACTION"
	CategorySummarization TaskCategory = "SUMMARIZATION"
	CategoryValidation    TaskCategory = "VALIDATION"
	CategoryGeneral       TaskCategory = "GENERAL"
)

// categoryKeywords is checked in order; the first category with a keyword
// contained in the lower-cased task wins.
var categoryKeywords = []struct {
	category TaskCategory
	keywords []string
}{
	{CategoryAnalysis, []string{"analyze", "analyse", "review"}},
	{CategoryExtraction, []string{"extract", "parse"}},
	{CategorySummarization, []string{"summarize", "summarise", "summary"}},
	{CategoryValidation, []string{"validate", "check"}},
}

// ClassifyTask labels a task description by keyword.
func ClassifyTask(task string) TaskCategory {
	lower := strings.ToLower(task)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.category
			}
		}
	}
	return CategoryGeneral
}
