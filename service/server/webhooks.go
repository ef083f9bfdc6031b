package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/brojonat/luxledger/service/events"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw request
// body, computed with the sender's shared secret.
const SignatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds a single webhook batch at 10 MiB.
const maxWebhookBody = 10 << 20

// batchResponse is the webhook reply body. A delivery succeeds when every
// event in it either applied or was safely dropped; per-event parse and
// store failures are reported in the failed count without failing the batch.
type batchResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
	Total     int  `json:"total"`
}

// webhookHandler authenticates and processes one source's deliveries.
func (s *Server) webhookHandler(source events.Source, secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		if !verifySignature(secret, body, r.Header.Get(SignatureHeader)) {
			s.logger.Warn("webhook signature verification failed",
				"source", source, "remote", r.RemoteAddr)
			if s.metrics != nil {
				s.metrics.RecordAuthFailure(string(source))
			}
			writeError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}

		raws, err := events.Split(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		summary := s.engine.ProcessBatch(r.Context(), source, raws)
		writeJSON(w, http.StatusOK, batchResponse{
			Success:   true,
			Processed: summary.Processed,
			Failed:    summary.Failed,
			Total:     summary.Total,
		})
	})
}

// verifySignature checks the hex HMAC-SHA256 of the body in constant time.
func verifySignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// ComputeSignature returns the hex HMAC-SHA256 of a body. Exported for the
// client package and for tests that need to sign requests.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
