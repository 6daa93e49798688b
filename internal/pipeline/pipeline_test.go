package pipeline_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/pipeline"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

func noop(ctx context.Context, job *v1.VMJob) error { return nil }

var _ = Describe("VMPipeline", func() {
	It("runs every nominal stage for a linux job in order", func() {
		var ran []v1.Stage
		handlers := pipeline.StageHandlers{}
		for _, s := range v1.LinuxStages() {
			s := s
			handlers[s] = func(ctx context.Context, job *v1.VMJob) error {
				ran = append(ran, s)
				return nil
			}
		}
		p := pipeline.NewVMPipeline(handlers, nil)
		job := &v1.VMJob{VMName: "web-01", OSFamily: v1.OSFamilyLinux}

		Expect(p.Run(context.Background(), job)).To(Succeed())
		Expect(ran).To(Equal(v1.LinuxStages()))
		Expect(job.Status).To(Equal(v1.VMStatusComplete))
		Expect(job.CompletedAt).NotTo(BeNil())
	})

	It("resumes from the first incomplete stage", func() {
		handlers := pipeline.StageHandlers{}
		var ran []v1.Stage
		for _, s := range v1.LinuxStages() {
			s := s
			handlers[s] = func(ctx context.Context, job *v1.VMJob) error {
				ran = append(ran, s)
				return nil
			}
		}
		p := pipeline.NewVMPipeline(handlers, nil)
		job := &v1.VMJob{VMName: "web-01", OSFamily: v1.OSFamilyLinux}
		job.MarkStageComplete(v1.StageValidate)
		job.MarkStageComplete(v1.StageSnapshot)

		Expect(p.Run(context.Background(), job)).To(Succeed())
		Expect(ran[0]).To(Equal(v1.StageExport))
	})

	It("stops at the first failing stage and records where", func() {
		handlers := pipeline.StageHandlers{}
		for _, s := range v1.LinuxStages() {
			handlers[s] = noop
		}
		handlers[v1.StageConvert] = func(ctx context.Context, job *v1.VMJob) error {
			return errors.New("qemu-img exploded")
		}

		var lastProgress *v1.VMJob
		p := pipeline.NewVMPipeline(handlers, func(job *v1.VMJob) { lastProgress = job })
		job := &v1.VMJob{VMName: "web-01", OSFamily: v1.OSFamilyLinux}

		err := p.Run(context.Background(), job)
		Expect(err).To(HaveOccurred())
		Expect(job.ErrorStage).To(Equal(v1.StageConvert))
		Expect(job.IsStageComplete(v1.StageConvert)).To(BeFalse())
		Expect(lastProgress).NotTo(BeNil())
	})
})
