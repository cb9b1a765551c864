/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package relay

import (
	"encoding/hex"
	"encoding/json"

	"github.com/gin-gonic/gin"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof"
	provide "github.com/provideplatform/provide-go/common"
)

type dispatchRequest struct {
	Target  string `json:"target"`
	Payload []byte `json:"payload"`
	Proof   []byte `json:"proof"`
}

type acknowledgeRequest struct {
	Receipt []byte `json:"receipt"`
}

// InstallAPI registers the envelope and relay attempt API handlers with gin
func InstallAPI(r *gin.Engine, attacher *proof.Attacher, relay *Relay) {
	r.POST("/api/v1/envelopes", dispatchEnvelopeHandler(attacher, relay))
	r.GET("/api/v1/envelopes/:id/attempts", envelopeAttemptsHandler(relay))

	r.GET("/api/v1/attempts/:id", attemptDetailsHandler(relay))
	r.POST("/api/v1/attempts/:id/retry", retryAttemptHandler(relay))
	r.POST("/api/v1/attempts/:id/cancel", cancelAttemptHandler(relay))
	r.POST("/api/v1/attempts/:id/acknowledge", acknowledgeAttemptHandler(relay))
	r.POST("/api/v1/attempts/:id/reconcile", reconcileAttemptHandler(relay))

	r.GET("/api/v1/receipts/root", receiptsRootHandler(relay))
}

func renderError(err error, c *gin.Context) {
	switch common.KindOf(err) {
	case common.KindProofEmpty, common.KindPayloadTooLarge, common.KindInvalidAddressFormat:
		provide.RenderError(err.Error(), 422, c)
	case common.KindNotFound:
		provide.RenderError(err.Error(), 404, c)
	case common.KindInvalidTransition:
		provide.RenderError(err.Error(), 409, c)
	case common.KindTransportUnavailable:
		provide.RenderError(err.Error(), 503, c)
	default:
		provide.RenderError(err.Error(), 500, c)
	}
}

// renderAttempt renders the attempt when the operation produced one; delivery failures are
// reported through the attempt state rather than the status code
func renderAttempt(attempt *Attempt, err error, status int, c *gin.Context) {
	if err != nil {
		switch common.KindOf(err) {
		case common.KindTransportError, common.KindTimedOut, common.KindRemoteRejected,
			common.KindRetriesExhausted, common.KindCancelled:
			if attempt != nil {
				provide.Render(attempt, status, c)
				return
			}
		}
		renderError(err, c)
		return
	}

	provide.Render(attempt, status, c)
}

func idParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		provide.RenderError("invalid "+name+" id", 400, c)
		return uuid.Nil, false
	}
	return id, true
}

// build and dispatch an envelope
func dispatchEnvelopeHandler(attacher *proof.Attacher, relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &dispatchRequest{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		envelope, err := attacher.BuildEnvelope(c.Request.Context(), params.Target, params.Payload, params.Proof)
		if err != nil {
			renderError(err, c)
			return
		}

		attempt, err := relay.Dispatch(c.Request.Context(), envelope)
		renderAttempt(attempt, err, 201, c)
	}
}

// list the attempt history of an envelope
func envelopeAttemptsHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "envelope")
		if !ok {
			return
		}

		attempts, err := relay.Attempts(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}
		if len(attempts) == 0 {
			provide.RenderError("envelope not found", 404, c)
			return
		}

		provide.Render(attempts, 200, c)
	}
}

func attemptDetailsHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "attempt")
		if !ok {
			return
		}

		attempt, err := relay.Attempt(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(attempt, 200, c)
	}
}

func retryAttemptHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "attempt")
		if !ok {
			return
		}

		attempt, err := relay.Retry(c.Request.Context(), id)
		if common.KindOf(err) == common.KindInvalidTransition {
			renderError(err, c)
			return
		}
		renderAttempt(attempt, err, 201, c)
	}
}

func cancelAttemptHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "attempt")
		if !ok {
			return
		}

		attempt, err := relay.Cancel(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(attempt, 200, c)
	}
}

func acknowledgeAttemptHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "attempt")
		if !ok {
			return
		}

		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &acknowledgeRequest{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		attempt, err := relay.Acknowledge(c.Request.Context(), id, params.Receipt)
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(attempt, 200, c)
	}
}

func reconcileAttemptHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "attempt")
		if !ok {
			return
		}

		attempt, err := relay.Reconcile(c.Request.Context(), id)
		if common.KindOf(err) == common.KindInvalidTransition {
			renderError(err, c)
			return
		}
		renderAttempt(attempt, err, 200, c)
	}
}

func receiptsRootHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		provide.Render(map[string]interface{}{
			"root": hex.EncodeToString(relay.ReceiptsRoot()),
		}, 200, c)
	}
}
