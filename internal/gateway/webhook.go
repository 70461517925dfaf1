package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// signatureHeader carries the HMAC-SHA256 signature of the raw body,
// "sha256=<hex>".
const signatureHeader = "X-Signature-256"

// eventHeader names the event within a webhook source.
const eventHeader = "X-Webhook-Event"

// maxWebhookBody caps the accepted payload size.
const maxWebhookBody = 1 * 1024 * 1024 // 1 MB

// webhookResponse is the JSON body for POST /webhooks/{source}.
type webhookResponse struct {
	OK      bool     `json:"ok"`
	Matched int      `json:"matched"`
	Fired   []string `json:"fired,omitempty"`
}

// handleWebhook validates the source's HMAC signature if configured and
// hands the payload to the trigger router. Unmatched deliveries are
// acknowledged so senders do not retry.
func (g *Gateway) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := chi.URLParam(r, "source")

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(body) > maxWebhookBody {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}

		if cfg, ok := g.config.Webhooks[source]; ok && cfg.Secret != "" {
			if !validateHMAC(body, r.Header.Get(signatureHeader), cfg.Secret) {
				g.logger.Warn("gateway: webhook signature rejected", "source", source)
				writeError(w, http.StatusUnauthorized, "invalid signature")
				return
			}
		}

		event := r.Header.Get(eventHeader)
		g.metrics.RecordWebhook(source)
		results := g.triggers.HandleWebhook(r.Context(), source, event, body)

		resp := webhookResponse{OK: true, Matched: len(results)}
		for _, res := range results {
			resp.Fired = append(resp.Fired, res.TriggerID)
		}
		if len(results) == 0 {
			g.logger.Debug("gateway: webhook matched no triggers", "source", source, "event", event)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// validateHMAC checks an HMAC-SHA256 signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
