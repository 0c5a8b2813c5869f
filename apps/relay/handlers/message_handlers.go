package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/middleware"
	"github.com/cyphera/sponsor-relay/libs/go/relay"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// SignMessageRequest is the body of POST /messages/sign.
type SignMessageRequest struct {
	Message string `json:"message"`
}

// SignMessageResponse carries a personal-sign signature.
type SignMessageResponse struct {
	OK            bool   `json:"ok"`
	Signature     string `json:"signature"`
	SignerAddress string `json:"signer_address"`
}

// MessageHandler serves personal-sign requests.
type MessageHandler struct {
	signer MessageSigner
}

func NewMessageHandler(signer MessageSigner) *MessageHandler {
	return &MessageHandler{signer: signer}
}

// SignMessage returns the sponsor's EIP-191 signature over the message.
func (h *MessageHandler) SignMessage(c *gin.Context) {
	log := middleware.LogWithCorrelationID(c.Request.Context(), logger.ComponentAPI)

	var body SignMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn(errors.Wrap(err, "failed to decode sign message request").Error())
		fail(c, "", relayerr.Validation("invalid_json", "request body must be {\"message\": string}"))
		return
	}
	if len(body.Message) > relay.MaxMessageBytes {
		fail(c, "", relayerr.Validation("message_too_long", "message must be at most %d bytes", relay.MaxMessageBytes))
		return
	}

	sig, signer, err := h.signer.SignMessage(c.Request.Context(), []byte(body.Message))
	if err != nil {
		log.Error("Message signing failed", errors.Wrap(err, "sign message"))
		fail(c, "", err)
		return
	}

	c.JSON(http.StatusOK, SignMessageResponse{
		OK:            true,
		Signature:     sig,
		SignerAddress: signer.Hex(),
	})
}
