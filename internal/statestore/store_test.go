package statestore_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/statestore"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

func TestStatestore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Statestore Suite")
}

var _ = Describe("Store", func() {
	var store *statestore.Store

	BeforeEach(func() {
		var err error
		store, err = statestore.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips a saved batch state", func() {
		now := time.Now()
		state := &v1.BatchState{
			BatchID:   "batch-1",
			Status:    v1.BatchStatusRunning,
			StartedAt: &now,
			Jobs: []*v1.VMJob{
				{VMName: "web-01", Status: v1.VMStatusExporting},
			},
		}

		Expect(store.Save(state)).To(Succeed())

		loaded, err := store.Load("batch-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.BatchID).To(Equal("batch-1"))
		Expect(loaded.Jobs).To(HaveLen(1))
		Expect(loaded.Jobs[0].VMName).To(Equal("web-01"))
	})

	It("returns a NotFound error for a missing batch", func() {
		_, err := store.Load("no-such-batch")
		Expect(err).To(HaveOccurred())
		Expect(vmerrors.IsNotFoundError(err)).To(BeTrue())
	})

	It("lists saved batch ids", func() {
		Expect(store.Save(&v1.BatchState{BatchID: "a"})).To(Succeed())
		Expect(store.Save(&v1.BatchState{BatchID: "b"})).To(Succeed())

		ids, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf("a", "b"))
	})

	It("deletes a saved batch idempotently", func() {
		Expect(store.Save(&v1.BatchState{BatchID: "a"})).To(Succeed())
		Expect(store.Delete("a")).To(Succeed())
		Expect(store.Delete("a")).To(Succeed())

		_, err := store.Load("a")
		Expect(err).To(HaveOccurred())
	})
})
