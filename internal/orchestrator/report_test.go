package orchestrator_test

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/orchestrator"
)

var _ = Describe("GenerateReport", func() {
	It("renders the four sections for a mixed-result batch", func() {
		started := time.Now().Add(-30 * time.Minute)
		startedVM := started
		completedVM := started.Add(5 * time.Minute)
		completed := started.Add(30 * time.Minute)

		state := &v1.BatchState{
			BatchID:     "abc123",
			Status:      v1.BatchStatusPartial,
			StartedAt:   &started,
			CompletedAt: &completed,
			Jobs: []*v1.VMJob{
				{
					VMName: "web-01", TargetType: "POP2-2C-8G", OSFamily: v1.OSFamilyLinux,
					Status: v1.VMStatusComplete, StartedAt: &startedVM, CompletedAt: &completedVM,
					StageTimings: map[v1.Stage]float64{v1.StageExport: 60, v1.StageConvert: 120},
					Artifacts:    v1.Artifacts{TargetImageID: "image-1"},
				},
				{
					VMName: "win-01", OSFamily: v1.OSFamilyWindows,
					Status: v1.VMStatusFailed, ErrorStage: v1.StageConvert, Error: "qemu-img exploded",
				},
			},
		}

		report := orchestrator.GenerateReport(state)
		Expect(report).To(ContainSubstring("# Migration Report — Batch `abc123`"))
		Expect(report).To(ContainSubstring("## Summary"))
		Expect(report).To(ContainSubstring("## Successful Migrations"))
		Expect(report).To(ContainSubstring("web-01"))
		Expect(report).To(ContainSubstring("## Failed Migrations"))
		Expect(report).To(ContainSubstring("win-01"))
		Expect(report).To(ContainSubstring("batch resume --batch-id abc123"))
		Expect(report).To(ContainSubstring("## Stage Timing Analysis"))
		Expect(report).To(ContainSubstring("convert"))
	})

	It("omits the successful/failed/timing sections when there are none", func() {
		now := time.Now()
		state := &v1.BatchState{BatchID: "empty", StartedAt: &now, CompletedAt: &now}
		report := orchestrator.GenerateReport(state)
		Expect(report).NotTo(ContainSubstring("## Successful Migrations"))
		Expect(report).NotTo(ContainSubstring("## Failed Migrations"))
		Expect(report).NotTo(ContainSubstring("## Stage Timing Analysis"))
	})

	It("writes the report to disk", func() {
		now := time.Now()
		state := &v1.BatchState{BatchID: "abc123", StartedAt: &now, CompletedAt: &now}
		path := filepath.Join(GinkgoT().TempDir(), "nested", "report.md")
		Expect(orchestrator.WriteReport(state, path)).To(Succeed())
	})
})
