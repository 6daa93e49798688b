package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// GenerateReport renders a completed BatchState as the four-section
// Markdown report an operator reads after a batch finishes: a header, a
// Summary table, Successful/Failed migration tables, and a Stage Timing
// Analysis computed over successful VMs only (a failed VM's partial
// timings would skew the average toward whatever stage it died on).
func GenerateReport(state *v1.BatchState) string {
	var b strings.Builder

	durationMin := 0.0
	if state.StartedAt != nil && state.CompletedAt != nil {
		durationMin = state.CompletedAt.Sub(*state.StartedAt).Minutes()
	}

	fmt.Fprintf(&b, "# Migration Report — Batch `%s`\n\n", state.BatchID)
	if state.StartedAt != nil {
		fmt.Fprintf(&b, "**Date:** %s\n", state.StartedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "**Duration:** %.0f min\n", durationMin)
	fmt.Fprintf(&b, "**Status:** %s\n\n", strings.ToUpper(string(state.Status)))

	succeeded := state.Succeeded()
	failed := state.Failed()

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|--------|-------|\n")
	fmt.Fprintf(&b, "| Total VMs | %d |\n", len(state.Jobs))
	fmt.Fprintf(&b, "| Succeeded | %d |\n", len(succeeded))
	fmt.Fprintf(&b, "| Failed | %d |\n", len(failed))
	fmt.Fprintf(&b, "| Duration | %.0f min |\n\n", durationMin)

	if len(succeeded) > 0 {
		b.WriteString("## Successful Migrations\n\n")
		b.WriteString("| VM | Target Type | OS | Duration | Image ID |\n")
		b.WriteString("|------|------|------|------|------|\n")
		for _, job := range succeeded {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | `%s` |\n",
				job.VMName, job.TargetType, job.OSFamily, durationString(job), imageID(job))
		}
		b.WriteString("\n")
	}

	if len(failed) > 0 {
		b.WriteString("## Failed Migrations\n\n")
		b.WriteString("| VM | Failed Stage | Error | Resume Command |\n")
		b.WriteString("|------|------|------|------|\n")
		for _, job := range failed {
			errShort := job.Error
			if errShort == "" {
				errShort = "unknown"
			}
			if len(errShort) > 80 {
				errShort = errShort[:80]
			}
			fmt.Fprintf(&b, "| %s | %s | %s | `vmware2scw batch resume --batch-id %s` |\n",
				job.VMName, job.ErrorStage, errShort, state.BatchID)
		}
		b.WriteString("\n")
	}

	if len(succeeded) > 0 {
		b.WriteString("## Stage Timing Analysis\n\n")
		b.WriteString("Average duration per stage (successful VMs):\n\n")
		b.WriteString("| Stage | Avg Duration | Min | Max |\n")
		b.WriteString("|-------|------|------|------|\n")

		stageSet := map[v1.Stage]bool{}
		for _, job := range succeeded {
			for stage := range job.StageTimings {
				stageSet[stage] = true
			}
		}
		stages := make([]v1.Stage, 0, len(stageSet))
		for stage := range stageSet {
			stages = append(stages, stage)
		}
		sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

		for _, stage := range stages {
			var timings []float64
			for _, job := range succeeded {
				if t, ok := job.StageTimings[stage]; ok {
					timings = append(timings, t)
				}
			}
			if len(timings) == 0 {
				continue
			}
			avg, min, max := stats(timings)
			fmt.Fprintf(&b, "| %s | %.0fs | %.0fs | %.0fs |\n", stage, avg, min, max)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// WriteReport renders state and saves it to path, creating parent
// directories as needed.
func WriteReport(state *v1.BatchState, path string) error {
	report := GenerateReport(state)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vmerrors.NewIntegrityError("creating report directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return vmerrors.NewIntegrityError("writing report file: %v", err)
	}
	return nil
}

func durationString(job *v1.VMJob) string {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return "—"
	}
	return job.CompletedAt.Sub(*job.StartedAt).Round(1e9).String()
}

func imageID(job *v1.VMJob) string {
	if job.Artifacts.TargetImageID == "" {
		return "—"
	}
	return job.Artifacts.TargetImageID
}

func stats(values []float64) (avg, min, max float64) {
	min, max = values[0], values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return sum / float64(len(values)), min, max
}
