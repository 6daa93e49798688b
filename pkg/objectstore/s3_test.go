package objectstore_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scaleway/vmware2scw/pkg/objectstore"
)

func TestObjectstore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Objectstore Suite")
}

var _ = Describe("Store", func() {
	It("rejects a config with no bucket", func() {
		_, err := objectstore.NewStore(context.Background(), objectstore.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("skips upload when the object already exists and uploads otherwise", func() {
		var headCount, putCount int
		existingKey := "vm/already-there.qcow2"

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodHead:
				headCount++
				if r.URL.Path == "/migrations/"+existingKey {
					w.WriteHeader(http.StatusOK)
					return
				}
				w.WriteHeader(http.StatusNotFound)
			case http.MethodPut:
				putCount++
				w.WriteHeader(http.StatusOK)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		store, err := objectstore.NewStore(context.Background(), objectstore.Config{
			Region: "fr-par", Endpoint: srv.URL, Bucket: "migrations",
			AccessKeyID: "AK", SecretAccessKey: "SK",
		})
		Expect(err).NotTo(HaveOccurred())

		dir := GinkgoT().TempDir()
		localPath := filepath.Join(dir, "disk.qcow2")
		Expect(os.WriteFile(localPath, []byte("fake disk data"), 0o600)).To(Succeed())

		Expect(store.UploadFile(context.Background(), localPath, existingKey)).To(Succeed())
		Expect(putCount).To(Equal(0))

		Expect(store.UploadFile(context.Background(), localPath, "vm/new-upload.qcow2")).To(Succeed())
		Expect(putCount).To(Equal(1))
	})
})
