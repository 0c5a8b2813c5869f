package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Sponsor string `json:"sponsor,omitempty"`
	Chain   string `json:"chain,omitempty"`
}

type HealthHandler struct {
	sponsor string
	chain   string
}

func NewHealthHandler(sponsor, chain string) *HealthHandler {
	return &HealthHandler{sponsor: sponsor, chain: chain}
}

// Health reports liveness. It never touches the chain or the signer.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Sponsor: h.sponsor,
		Chain:   h.chain,
	})
}
