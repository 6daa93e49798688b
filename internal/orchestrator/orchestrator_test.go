package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/orchestrator"
	"github.com/scaleway/vmware2scw/internal/pipeline"
	"github.com/scaleway/vmware2scw/internal/statestore"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator Suite")
}

func okHandlers() pipeline.StageHandlers {
	handlers := pipeline.StageHandlers{}
	for _, s := range v1.WindowsStages() {
		handlers[s] = func(ctx context.Context, job *v1.VMJob) error { return nil }
	}
	return handlers
}

var _ = Describe("BuildWaves", func() {
	jobs := []*v1.VMJob{
		{VMName: "web-01"},
		{VMName: "web-02"},
		{VMName: "db-01"},
	}

	It("runs everything in one wave when the plan declares none", func() {
		waves, pauses := orchestrator.BuildWaves(jobs, nil)
		Expect(waves).To(HaveLen(1))
		Expect(waves[0]).To(HaveLen(3))
		Expect(pauses).To(Equal([]v1.PauseAfter{v1.PauseContinue}))
	})

	It("groups named VMs into declared waves and appends the rest", func() {
		planWaves := []v1.Wave{
			{Name: "wave-1", VMs: []string{"web-01"}, PauseAfter: v1.PausePause},
		}
		waves, pauses := orchestrator.BuildWaves(jobs, planWaves)
		Expect(waves).To(HaveLen(2))
		Expect(waves[0]).To(HaveLen(1))
		Expect(waves[0][0].VMName).To(Equal("web-01"))
		Expect(waves[1]).To(HaveLen(2))
		Expect(pauses).To(Equal([]v1.PauseAfter{v1.PausePause, v1.PauseContinue}))
	})

	It("derives one wave per distinct priority, ascending, when none are declared", func() {
		priorityJobs := []*v1.VMJob{
			{VMName: "a", Priority: 5},
			{VMName: "b", Priority: 1},
			{VMName: "c", Priority: 5},
		}
		waves, pauses := orchestrator.BuildWaves(priorityJobs, nil)
		Expect(waves).To(HaveLen(2))
		Expect(waves[0]).To(HaveLen(1))
		Expect(waves[0][0].VMName).To(Equal("b"))
		Expect(waves[1]).To(HaveLen(2))
		Expect(pauses).To(Equal([]v1.PauseAfter{v1.PauseContinue, v1.PauseContinue}))
	})
})

var _ = Describe("JobsFromPlan", func() {
	It("expands migrations into jobs, leaving OS family unknown for validate to fill", func() {
		plan := &v1.BatchPlan{
			Defaults: v1.PlanDefaults{Zone: "fr-par-1"},
			Migrations: []v1.MigrationEntry{
				{VMName: "web-01", TargetType: "POP2-2C-8G"},
			},
		}
		vms := map[string]v1.VMRecord{
			"web-01": {Name: "web-01", GuestOSID: "ubuntu64Guest", Host: "esxi-a"},
		}
		jobs := orchestrator.JobsFromPlan(plan, vms)
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].OSFamily).To(Equal(v1.OSFamilyUnknown))
		Expect(jobs[0].Zone).To(Equal("fr-par-1"))
		Expect(jobs[0].SourceHost).To(Equal("esxi-a"))
	})

	It("skips migrations with no matching VM record", func() {
		plan := &v1.BatchPlan{Migrations: []v1.MigrationEntry{{VMName: "ghost"}}}
		Expect(orchestrator.JobsFromPlan(plan, map[string]v1.VMRecord{})).To(BeEmpty())
	})

	It("resolves vm_pattern entries and subtracts exclude patterns last", func() {
		plan := &v1.BatchPlan{
			Migrations: []v1.MigrationEntry{
				{VMPattern: "web-*"},
				{VMPattern: "db-*"},
			},
			Exclude: []v1.ExcludeEntry{
				{VMPattern: "template-*"},
			},
		}
		vms := map[string]v1.VMRecord{
			"web-01":          {Name: "web-01", GuestOSID: "ubuntu64Guest"},
			"web-02":          {Name: "web-02", GuestOSID: "ubuntu64Guest"},
			"db-01":           {Name: "db-01", GuestOSID: "ubuntu64Guest"},
			"template-ubuntu": {Name: "template-ubuntu", GuestOSID: "ubuntu64Guest"},
		}
		jobs := orchestrator.JobsFromPlan(plan, vms)
		var names []string
		for _, j := range jobs {
			names = append(names, j.VMName)
		}
		Expect(names).To(ConsistOf("web-01", "web-02", "db-01"))
	})

	It("doesn't double-claim a VM matched by more than one migration entry", func() {
		plan := &v1.BatchPlan{
			Migrations: []v1.MigrationEntry{
				{VMPattern: "web-*"},
				{VMName: "web-01"},
			},
		}
		vms := map[string]v1.VMRecord{
			"web-01": {Name: "web-01", GuestOSID: "ubuntu64Guest"},
		}
		jobs := orchestrator.JobsFromPlan(plan, vms)
		Expect(jobs).To(HaveLen(1))
	})

	It("treats a pattern matching zero VMs as a no-op rather than an error", func() {
		plan := &v1.BatchPlan{Migrations: []v1.MigrationEntry{{VMPattern: "ghost-*"}}}
		Expect(orchestrator.JobsFromPlan(plan, map[string]v1.VMRecord{"web-01": {Name: "web-01"}})).To(BeEmpty())
	})
})

var _ = Describe("Orchestrator.Run", func() {
	var store *statestore.Store

	BeforeEach(func() {
		var err error
		store, err = statestore.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	It("runs every job in every wave and marks the batch complete", func() {
		o := orchestrator.New(v1.DefaultConcurrency(), okHandlers(), store)
		waves := [][]*v1.VMJob{
			{{VMName: "web-01", OSFamily: v1.OSFamilyLinux}},
			{{VMName: "win-01", OSFamily: v1.OSFamilyWindows}},
		}
		state, err := o.Run(context.Background(), waves, []v1.PauseAfter{v1.PauseContinue})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(v1.BatchStatusComplete))
		Expect(state.Succeeded()).To(HaveLen(2))
	})

	It("records a failed stage without crashing the batch", func() {
		handlers := okHandlers()
		handlers[v1.StageConvert] = func(ctx context.Context, job *v1.VMJob) error {
			return errors.New("qemu-img exploded")
		}
		o := orchestrator.New(v1.DefaultConcurrency(), handlers, store)
		waves := [][]*v1.VMJob{{{VMName: "web-01", OSFamily: v1.OSFamilyWindows}}}
		state, err := o.Run(context.Background(), waves, []v1.PauseAfter{v1.PauseContinue})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Failed()).To(HaveLen(1))
		Expect(state.Failed()[0].ErrorStage).To(Equal(v1.StageConvert))
		Expect(state.Status).To(Equal(v1.BatchStatusFailed))
	})

	It("pauses after a wave flagged pause and resumes once Unpause is called", func() {
		o := orchestrator.New(v1.DefaultConcurrency(), okHandlers(), store)
		waves := [][]*v1.VMJob{
			{{VMName: "web-01", OSFamily: v1.OSFamilyLinux}},
			{{VMName: "web-02", OSFamily: v1.OSFamilyLinux}},
		}

		var paused bool
		o.SetProgress(orchestrator.ProgressCallback{
			OnWavePause: func(waveIndex int, reason string) {
				paused = true
				go func() {
					time.Sleep(10 * time.Millisecond)
					o.Unpause()
				}()
			},
		})

		state, err := o.Run(context.Background(), waves, []v1.PauseAfter{v1.PausePause, v1.PauseContinue})
		Expect(err).NotTo(HaveOccurred())
		Expect(paused).To(BeTrue())
		Expect(state.Status).To(Equal(v1.BatchStatusComplete))
	})

	It("does not pause on pause_on_failure when the wave had no failures", func() {
		o := orchestrator.New(v1.DefaultConcurrency(), okHandlers(), store)
		waves := [][]*v1.VMJob{
			{{VMName: "web-01", OSFamily: v1.OSFamilyLinux}},
			{{VMName: "web-02", OSFamily: v1.OSFamilyLinux}},
		}
		var paused bool
		o.SetProgress(orchestrator.ProgressCallback{OnWavePause: func(int, string) { paused = true }})

		_, err := o.Run(context.Background(), waves, []v1.PauseAfter{v1.PausePauseOnFailure, v1.PauseContinue})
		Expect(err).NotTo(HaveOccurred())
		Expect(paused).To(BeFalse())
	})
})

var _ = Describe("Orchestrator budget enforcement", func() {
	It("never runs more concurrent conversions than max_concurrent_conversions", func() {
		store, err := statestore.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		const maxConversions = 2
		var (
			mu      sync.Mutex
			current int
			peak    int
		)
		handlers := okHandlers()
		handlers[v1.StageConvert] = func(ctx context.Context, job *v1.VMJob) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}

		concurrency := v1.DefaultConcurrency()
		concurrency.MaxConcurrentConversions = maxConversions
		o := orchestrator.New(concurrency, handlers, store)

		var jobs []*v1.VMJob
		for i := 0; i < 10; i++ {
			jobs = append(jobs, &v1.VMJob{VMName: fmt.Sprintf("vm-%02d", i), OSFamily: v1.OSFamilyWindows})
		}

		state, err := o.Run(context.Background(), [][]*v1.VMJob{jobs}, []v1.PauseAfter{v1.PauseContinue})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(v1.BatchStatusComplete))

		mu.Lock()
		defer mu.Unlock()
		Expect(peak).To(Equal(maxConversions))
	})
})

var _ = Describe("Orchestrator.Resume", func() {
	var store *statestore.Store

	BeforeEach(func() {
		var err error
		store, err = statestore.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	It("re-runs only the failed job, leaving completed jobs untouched", func() {
		handlers := okHandlers()
		handlers[v1.StageConvert] = func(ctx context.Context, job *v1.VMJob) error {
			if job.VMName == "web-02" && job.RetryCount == 0 {
				return errors.New("qemu-img exploded")
			}
			return nil
		}
		o := orchestrator.New(v1.DefaultConcurrency(), handlers, store)
		waves := [][]*v1.VMJob{{
			{VMName: "web-01", OSFamily: v1.OSFamilyWindows},
			{VMName: "web-02", OSFamily: v1.OSFamilyWindows},
		}}
		first, err := o.Run(context.Background(), waves, []v1.PauseAfter{v1.PauseContinue})
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Status).To(Equal(v1.BatchStatusPartial))

		resumed, err := o.Resume(context.Background(), first.BatchID)
		Expect(err).NotTo(HaveOccurred())
		Expect(resumed.Status).To(Equal(v1.BatchStatusComplete))
		Expect(resumed.Succeeded()).To(HaveLen(2))
		for _, job := range resumed.Jobs {
			if job.VMName == "web-02" {
				Expect(job.RetryCount).To(Equal(1))
			}
		}
	})

	It("is a no-op when there are no pending or failed jobs", func() {
		o := orchestrator.New(v1.DefaultConcurrency(), okHandlers(), store)
		waves := [][]*v1.VMJob{{{VMName: "web-01", OSFamily: v1.OSFamilyLinux}}}
		first, err := o.Run(context.Background(), waves, []v1.PauseAfter{v1.PauseContinue})
		Expect(err).NotTo(HaveOccurred())

		resumed, err := o.Resume(context.Background(), first.BatchID)
		Expect(err).NotTo(HaveOccurred())
		Expect(resumed.Status).To(Equal(v1.BatchStatusComplete))
	})
})
