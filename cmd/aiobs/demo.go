package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmcmaster1/ai-observability-tool/internal/config"
	"github.com/cmcmaster1/ai-observability-tool/internal/observer"
	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

type demoStep struct {
	agent    string
	task     string
	input    string
	response string
	tokens   map[string]int
}

// demoSteps mimic an EHR review crew. The inputs deliberately carry
// identifiers so the stored records show the redaction at work.
var demoSteps = []demoStep{
	{
		agent:    "Medical_Data_Extractor",
		task:     "Extract patient demographics and medical history from EHR",
		input:    "Patient: John Smith, DOB 03/14/1961, SSN 123-45-6789, MRN: A99812. Presents with chest pain, history of hypertension.",
		response: "Extracted: demographics, medical history, current medications",
		tokens:   map[string]int{"input": 412, "output": 96},
	},
	{
		agent:    "Clinical_Analyzer",
		task:     "Analyze clinical data for patterns and insights",
		input:    "Lab results show elevated cardiac enzymes. Contact: (555) 123-4567.",
		response: "Analysis: high cardiovascular risk, recommend intervention",
		tokens:   map[string]int{"input": 288, "output": 141},
	},
	{
		agent:    "Report_Generator",
		task:     "Generate clinical summary report",
		input:    "Imaging reveals coronary artery narrowing. Send report to jsmith@example.com.",
		response: "Report: clinical summary generated with recommendations",
		tokens:   map[string]int{"input": 356, "output": 274},
	},
	{
		agent:    "Compliance_Checker",
		task:     "Validate HIPAA compliance and data accuracy",
		input:    "Medication list includes ACE inhibitors.",
		response: "Compliance: HIPAA requirements validated, data secure",
		tokens:   map[string]int{"input": 120, "output": 58},
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Record a simulated crew run so there is data to look at",
	RunE: func(cmd *cobra.Command, args []string) error {
		crew, _ := cmd.Flags().GetString("crew")
		failAt, _ := cmd.Flags().GetInt("fail-step")

		return withStore(func(cfg config.Config, store *storage.Store) error {
			obs, err := newObserver(cfg, store)
			if err != nil {
				return err
			}
			return runDemo(obs, crew, failAt)
		})
	},
}

func init() {
	demoCmd.Flags().String("crew", "Clinical_Analysis_Crew", "crew name to record")
	demoCmd.Flags().Int("fail-step", 0, "make step N (1-based) fail; 0 runs every step successfully")
}

// demoObserver is the part of the Observer the demo drives.
type demoObserver interface {
	StartCrewSession(crew string, agents, tasks []string, metadata map[string]any) (string, error)
	MonitorTask(crew, agent, task string, fn func(*observer.TaskScope) error) error
	EndCrewSession(crew string, success bool, summary string) error
}

func runDemo(obs demoObserver, crew string, failAt int) error {
	agents := make([]string, len(demoSteps))
	tasks := make([]string, len(demoSteps))
	for i, s := range demoSteps {
		agents[i], tasks[i] = s.agent, s.task
	}

	id, err := obs.StartCrewSession(crew, agents, tasks, map[string]any{
		"hospital":            "General Hospital",
		"department":          "Cardiology",
		"analysis_type":       "risk_assessment",
		"patient_cohort_size": 150,
	})
	if err != nil {
		return err
	}
	printStep("Started session %s for %s", shortID(id), crew)

	failed := 0
	for i, s := range demoSteps {
		err := obs.MonitorTask(crew, s.agent, s.task, func(scope *observer.TaskScope) error {
			if i+1 == failAt {
				return fmt.Errorf("simulated processing error in %s for patient SSN 987-65-4321", s.agent)
			}
			scope.Record(s.input, s.response, s.tokens)
			return nil
		})
		if err != nil {
			failed++
			printWarning("%s failed; recorded as an error event", s.agent)
			continue
		}
		printStep("%s completed", s.agent)
	}

	success := failed == 0
	summary := fmt.Sprintf("Analyzed EHR data for 150 patients: %d of %d steps succeeded", len(demoSteps)-failed, len(demoSteps))
	if err := obs.EndCrewSession(crew, success, summary); err != nil {
		return err
	}
	if !success {
		printWarning("Session %s recorded as failed", shortID(id))
		return nil
	}
	printSuccess("Session %s recorded; run `aiobs sessions show %s`", shortID(id), id)
	return nil
}
