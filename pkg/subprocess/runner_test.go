package subprocess_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"github.com/scaleway/vmware2scw/pkg/subprocess"
)

func TestSubprocess(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Subprocess Suite")
}

var _ = Describe("Runner", func() {
	var r *subprocess.Runner

	BeforeEach(func() {
		r = subprocess.NewRunner()
	})

	It("captures stdout on success", func() {
		res, err := r.Run(context.Background(), []string{"echo", "hello"}, subprocess.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Stdout).To(ContainSubstring("hello"))
	})

	It("returns an ExternalTool error on non-zero exit by default", func() {
		_, err := r.Run(context.Background(), []string{"sh", "-c", "echo boom >&2; exit 3"}, subprocess.Options{})
		Expect(err).To(HaveOccurred())
		Expect(vmerrors.IsExternalToolError(err)).To(BeTrue())
	})

	It("treats a non-zero exit as a warning under BestEffort", func() {
		_, err := r.Run(context.Background(), []string{"sh", "-c", "exit 1"}, subprocess.Options{BestEffort: true})
		Expect(err).NotTo(HaveOccurred())
	})

	It("reports a missing tool as an ExternalTool error", func() {
		_, err := r.Run(context.Background(), []string{"definitely-not-a-real-tool-xyz"}, subprocess.Options{})
		Expect(err).To(HaveOccurred())
		Expect(vmerrors.IsExternalToolError(err)).To(BeTrue())
	})

	It("times out long-running commands", func() {
		_, err := r.Run(context.Background(), []string{"sleep", "5"}, subprocess.Options{Timeout: 50 * time.Millisecond})
		Expect(err).To(HaveOccurred())
		Expect(vmerrors.IsTimeoutError(err)).To(BeTrue())
	})

	It("streams progress callbacks parsed from stderr", func() {
		var pcts []float64
		script := `echo "(10.0/100%)" >&2; echo "(55.5/100%)" >&2; echo "(100.0/100%)" >&2`
		_, err := r.Run(context.Background(), []string{"sh", "-c", script}, subprocess.Options{
			ProgressPattern: `\(([0-9.]+)/100%\)`,
			Progress:        func(pct float64) { pcts = append(pcts, pct) },
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(pcts).To(Equal([]float64{10.0, 55.5, 100.0}))
	})
})
