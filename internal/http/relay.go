package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gptproxy/gptproxy/internal/config"
	"github.com/gptproxy/gptproxy/internal/keypool"
	log "github.com/sirupsen/logrus"
)

// hopHeaders are connection-scoped and must not be forwarded either way.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RelayHandler forwards client requests to the upstream provider using keys
// drawn from the pool. Each attempt uses a fresh key; a key-level rejection
// (401, 403, 429) burns that key and retries with the next one, while other
// upstream answers are returned to the client as-is.
type RelayHandler struct {
	manager     *keypool.Manager
	client      *http.Client
	upstream    config.UpstreamConfig
	proxyHeader string
}

// NewRelayHandler constructs a RelayHandler. proxyHeader is the client auth
// header, stripped before forwarding so proxy credentials never reach the
// upstream.
func NewRelayHandler(manager *keypool.Manager, upstream config.UpstreamConfig, proxyHeader string) *RelayHandler {
	return &RelayHandler{
		manager:     manager,
		client:      &http.Client{Timeout: upstream.RequestTimeout()},
		upstream:    upstream,
		proxyHeader: proxyHeader,
	}
}

// ChatCompletions relays a chat completion request, streaming or not.
func (h *RelayHandler) ChatCompletions(c *gin.Context) {
	body, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	h.relay(c, http.MethodPost, h.upstream.ChatCompletionsURL, body)
}

// Models relays the model listing endpoint.
func (h *RelayHandler) Models(c *gin.Context) {
	h.relay(c, http.MethodGet, h.upstream.ModelsURL, nil)
}

func (h *RelayHandler) relay(c *gin.Context, method, url string, body []byte) {
	ctx := c.Request.Context()

	attempts := h.upstream.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		key, errPick := h.manager.SelectKey(ctx)
		if errPick != nil {
			if errors.Is(errPick, keypool.ErrNoActiveKey) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active upstream key available"})
				return
			}
			log.WithError(errPick).Error("key selection failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "key selection failed"})
			return
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, errReq := http.NewRequestWithContext(ctx, method, url, reqBody)
		if errReq != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
			return
		}
		copyForwardHeaders(req.Header, c.Request.Header)
		if h.proxyHeader != "" {
			req.Header.Del(h.proxyHeader)
		}
		req.Header.Set("Authorization", "Bearer "+key.Secret)

		resp, errDo := h.client.Do(req)
		if errDo != nil {
			// Transport failures say nothing about the key; try another
			// one rather than failing the client on a flaky connection.
			log.WithError(errDo).WithField("key_id", key.ID).Warn("upstream request failed")
			continue
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			h.manager.ReportFailure(ctx, key.ID, resp.StatusCode)
			drain(resp)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			h.manager.RecordUsage(ctx, key.ID)
		}
		writeUpstreamResponse(c, resp)
		return
	}

	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed after retries"})
}

// writeUpstreamResponse streams the upstream answer back to the client,
// flushing per chunk so server-sent events arrive as they are produced.
func writeUpstreamResponse(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()

	header := c.Writer.Header()
	for name, values := range resp.Header {
		if isHopHeader(name) {
			continue
		}
		for _, value := range values {
			header.Add(name, value)
		}
	}
	c.Status(resp.StatusCode)

	buf := make([]byte, 32*1024)
	for {
		n, errRead := resp.Body.Read(buf)
		if n > 0 {
			if _, errWrite := c.Writer.Write(buf[:n]); errWrite != nil {
				return
			}
			c.Writer.Flush()
		}
		if errRead != nil {
			if errRead != io.EOF {
				log.WithError(errRead).Debug("upstream body copy interrupted")
			}
			return
		}
	}
}

func copyForwardHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopHeader(name) {
			continue
		}
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "Host", "Content-Length":
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

func isHopHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for _, hop := range hopHeaders {
		if canonical == hop {
			return true
		}
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}
