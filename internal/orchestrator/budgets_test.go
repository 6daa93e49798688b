package orchestrator_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/orchestrator"
)

var _ = Describe("BudgetManager", func() {
	It("bounds concurrent acquisitions to the configured ceiling", func() {
		m := orchestrator.NewBudgetManager(v1.Concurrency{MaxConcurrentConversions: 1})
		budget := m.Conversions()

		Expect(budget.Acquire(context.Background())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := budget.Acquire(ctx)
		Expect(err).To(HaveOccurred())

		budget.Release()
		Expect(budget.Acquire(context.Background())).To(Succeed())
		budget.Release()
	})

	It("lazily creates a distinct per-host budget for each host", func() {
		m := orchestrator.NewBudgetManager(v1.Concurrency{MaxExportsPerHost: 2})
		a := m.PerHost("esxi-a")
		b := m.PerHost("esxi-b")
		Expect(a.Name()).To(Equal("per_host:esxi-a"))
		Expect(b.Name()).To(Equal("per_host:esxi-b"))
		Expect(m.PerHost("esxi-a")).To(BeIdenticalTo(a))
	})

	It("falls back to a default host budget for an empty host", func() {
		m := orchestrator.NewBudgetManager(v1.Concurrency{MaxExportsPerHost: 2})
		Expect(m.PerHost("").Name()).To(Equal("per_host:default"))
	})
})
