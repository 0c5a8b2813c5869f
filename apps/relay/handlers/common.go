package handlers

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/relay"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/tasks"
)

// Invoker runs relay invocations. *relay.Cluster satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, inv relay.Invocation) relay.Response
}

// MessageSigner personal-signs messages as the sponsor. *relay.Cluster satisfies it.
type MessageSigner interface {
	SignMessage(ctx context.Context, message []byte) (string, common.Address, error)
}

// NameRegistrar starts background name registrations. *relay.Names satisfies it.
type NameRegistrar interface {
	Submit(ctx context.Context, req authz.Request) (tasks.Task, error)
	Task(id string) (tasks.Task, bool)
}

// StatusFor maps a relay response to its HTTP status. The body is always
// the structured response; the status only helps generic HTTP clients.
func StatusFor(resp relay.Response) int {
	if resp.OK {
		return http.StatusOK
	}
	switch resp.Category {
	case relayerr.CategoryValidation:
		return http.StatusBadRequest
	case relayerr.CategoryAuthorization:
		return http.StatusUnauthorized
	case relayerr.CategoryNetwork, relayerr.CategorySigning:
		return http.StatusServiceUnavailable
	case relayerr.CategoryBroadcastTransient:
		return http.StatusBadGateway
	case relayerr.CategoryBroadcastRejected:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, resp relay.Response) {
	c.JSON(StatusFor(resp), resp)
}

func fail(c *gin.Context, invocationID string, err error) {
	respond(c, relay.Failure(invocationID, err))
}
