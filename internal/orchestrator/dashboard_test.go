package orchestrator_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/config"
	"github.com/scaleway/vmware2scw/internal/orchestrator"
)

var _ = Describe("Dashboard", func() {
	It("does nothing when disabled", func() {
		d := orchestrator.NewDashboard(config.Dashboard{Enabled: false})
		cb := d.Callback()
		Expect(func() { cb.OnBatchStart(&v1.BatchState{BatchID: "b1"}) }).NotTo(Panic())
	})

	It("posts a signed webhook event when enabled", func() {
		var mu sync.Mutex
		var gotAuth string
		var gotBody map[string]any

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		secret := "super-secret"
		d := orchestrator.NewDashboard(config.Dashboard{Enabled: true, WebhookURL: srv.URL, JWTSecret: secret})
		cb := d.Callback()
		cb.OnBatchComplete(&v1.BatchState{BatchID: "b1", Status: v1.BatchStatusComplete})

		Eventually(func() string {
			mu.Lock()
			defer mu.Unlock()
			return gotAuth
		}).ShouldNot(BeEmpty())

		mu.Lock()
		auth := gotAuth
		body := gotBody
		mu.Unlock()

		Expect(auth).To(HavePrefix("Bearer "))
		token := auth[len("Bearer "):]
		parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return []byte(secret), nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Valid).To(BeTrue())

		Expect(body["event"]).To(Equal("batch_complete"))
	})
})
