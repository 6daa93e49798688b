package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/server"
	"github.com/scaleway/vmware2scw/internal/statestore"
)

func TestServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Server Suite")
}

func newTestRouter(store *statestore.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	group := engine.Group("/api/v1")
	server.NewStatusHandlers(store).Register(group)
	return engine
}

var _ = Describe("StatusHandlers", func() {
	var store *statestore.Store

	BeforeEach(func() {
		var err error
		store, err = statestore.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns 404 for an unknown batch", func() {
		router := newTestRouter(store)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/ghost", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("returns a saved batch's state", func() {
		Expect(store.Save(&v1.BatchState{BatchID: "b1", Status: v1.BatchStatusRunning})).To(Succeed())

		router := newTestRouter(store)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/b1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var got v1.BatchState
		Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
		Expect(got.BatchID).To(Equal("b1"))
	})

	It("lists saved batch ids", func() {
		Expect(store.Save(&v1.BatchState{BatchID: "b1"})).To(Succeed())
		Expect(store.Save(&v1.BatchState{BatchID: "b2"})).To(Succeed())

		router := newTestRouter(store)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var body struct {
			BatchIDs []string `json:"batch_ids"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.BatchIDs).To(ConsistOf("b1", "b2"))
	})
})
