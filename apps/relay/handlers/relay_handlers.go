package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/middleware"
	"github.com/cyphera/sponsor-relay/libs/go/relay"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// AuthorizationFields are the signed fields every relay request carries.
// Clients may send deadline instead of expires_at; issued_at then defaults
// to the start of the authorization window.
type AuthorizationFields struct {
	ActorAddress string `json:"actor_address"`
	Nonce        string `json:"nonce"`
	IssuedAt     int64  `json:"issued_at,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	Deadline     int64  `json:"deadline,omitempty"`
	Signature    string `json:"signature"`
	Message      string `json:"message,omitempty"`
}

// Request builds the authorization request for action.
func (f AuthorizationFields) Request(action string, params map[string]string, window time.Duration) (authz.Request, error) {
	expires := f.ExpiresAt
	if f.Deadline != 0 {
		if expires != 0 && expires != f.Deadline {
			return authz.Request{}, relayerr.Validation("conflicting_deadline", "expires_at and deadline disagree")
		}
		expires = f.Deadline
	}
	if expires == 0 {
		return authz.Request{}, relayerr.Validation("missing_deadline", "deadline is required")
	}
	issued := f.IssuedAt
	if issued == 0 {
		issued = expires - int64(window/time.Second)
	}
	return authz.Request{
		Actor:     f.ActorAddress,
		Action:    action,
		Params:    params,
		Nonce:     f.Nonce,
		IssuedAt:  issued,
		ExpiresAt: expires,
		Signature: f.Signature,
		Message:   f.Message,
	}, nil
}

// RegisterForRequest is the body of POST /actions/register-for.
type RegisterForRequest struct {
	AuthorizationFields
	ID     string `json:"id"`
	CID    string `json:"cid"`
	Mode   *int   `json:"mode"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// ActionRequest is the body of POST /actions/:action.
type ActionRequest struct {
	AuthorizationFields
	Params map[string]string `json:"params"`
	DryRun bool              `json:"dry_run,omitempty"`
}

// RelayHandler serves the sponsored action endpoints.
type RelayHandler struct {
	invoker Invoker
	window  time.Duration
}

// NewRelayHandler creates the handler. window is the fixed authorization
// window used to derive issued_at from a bare deadline.
func NewRelayHandler(invoker Invoker, window time.Duration) *RelayHandler {
	return &RelayHandler{invoker: invoker, window: window}
}

// RegisterFor relays a register_for authorization.
func (h *RelayHandler) RegisterFor(c *gin.Context) {
	var body RegisterForRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.rejectBody(c, errors.Wrap(err, "failed to decode register_for request"))
		return
	}

	params := map[string]string{"id": body.ID, "cid": body.CID}
	if body.Mode != nil {
		params["mode"] = strconv.Itoa(*body.Mode)
	}
	h.invoke(c, actions.RegisterForName, params, body.AuthorizationFields, body.DryRun)
}

// Action relays any registered action by name. Path names use dashes.
func (h *RelayHandler) Action(c *gin.Context) {
	name := strings.ReplaceAll(c.Param("action"), "-", "_")

	var body ActionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.rejectBody(c, errors.Wrapf(err, "failed to decode %s request", name))
		return
	}
	h.invoke(c, name, body.Params, body.AuthorizationFields, body.DryRun)
}

// invoke relays the authorization under an id derived from it, so every relay
// node handed the same authorization joins the same invocation.
func (h *RelayHandler) invoke(c *gin.Context, action string, params map[string]string, fields AuthorizationFields, dryRun bool) {
	req, err := fields.Request(action, params, h.window)
	if err != nil {
		fail(c, "", err)
		return
	}

	inv := relay.Invocation{Action: action, Request: req, DryRun: dryRun}
	inv.ID = relay.InvocationID(inv)

	middleware.LogWithCorrelationID(c.Request.Context(), logger.ComponentAPI).
		WithInvocation(inv.ID, -1).
		WithAction(action, req.Actor).
		WithField("dry_run", dryRun).
		Debug("Relaying authorization")

	respond(c, h.invoker.Invoke(c.Request.Context(), inv))
}

func (h *RelayHandler) rejectBody(c *gin.Context, err error) {
	middleware.LogWithCorrelationID(c.Request.Context(), logger.ComponentAPI).Warn(err.Error())
	fail(c, "", relayerr.Validation("invalid_json", "request body is not valid JSON for this action"))
}
