package scaleway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scaleway/vmware2scw/pkg/scaleway"
)

func TestScaleway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scaleway Client Suite")
}

var _ = Describe("Client", func() {
	It("rejects a config missing required fields", func() {
		_, err := scaleway.NewClient(scaleway.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("imports a snapshot and polls until available", func() {
		state := "importing"
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/zones/fr-par-1/snapshots":
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"snapshot": map[string]string{"id": "snap-1", "name": "web-01", "state": "importing"},
				})
			case r.Method == http.MethodGet && r.URL.Path == "/zones/fr-par-1/snapshots/snap-1":
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"snapshot": map[string]string{"id": "snap-1", "name": "web-01", "state": state},
				})
				state = "available"
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		c, err := scaleway.NewClient(scaleway.Config{
			APIURL: srv.URL, SecretKey: "secret", ProjectID: "proj-1", Zone: "fr-par-1",
		})
		Expect(err).NotTo(HaveOccurred())

		snap, err := c.ImportSnapshot(context.Background(), "web-01", "bucket", "key")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ID).To(Equal("snap-1"))

		final, err := c.WaitSnapshotAvailable(context.Background(), snap.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(final.State).To(Equal(scaleway.SnapshotStateAvailable))
	})
})
