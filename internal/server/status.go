package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scaleway/vmware2scw/internal/statestore"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// StatusHandlers serves the Dashboard contract's pull side: batch status
// reads backed directly by the statestore, the same documents the
// orchestrator checkpoints after every wave and VM.
type StatusHandlers struct {
	store *statestore.Store
	log   *zap.SugaredLogger
}

func NewStatusHandlers(store *statestore.Store) *StatusHandlers {
	return &StatusHandlers{store: store, log: zap.S().Named("status_handler")}
}

// Register wires GET /batches and GET /batches/:id onto router.
func (h *StatusHandlers) Register(router *gin.RouterGroup) {
	router.GET("/batches", h.listBatches)
	router.GET("/batches/:id", h.getBatch)
}

func (h *StatusHandlers) listBatches(c *gin.Context) {
	ids, err := h.store.List()
	if err != nil {
		h.log.Errorw("failed to list batches", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list batches"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_ids": ids})
}

func (h *StatusHandlers) getBatch(c *gin.Context) {
	id := c.Param("id")
	state, err := h.store.Load(id)
	if err != nil {
		if vmerrors.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		h.log.Errorw("failed to load batch", "batch", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch"})
		return
	}
	c.JSON(http.StatusOK, state)
}
