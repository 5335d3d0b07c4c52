package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// chatServer answers every completion with the given replies in turn.
func chatServer(t *testing.T, calls *int32, replies ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)

		n := atomic.AddInt32(calls, 1)
		reply := replies[len(replies)-1]
		if int(n) <= len(replies) {
			reply = replies[n-1]
		}

		_ = json.NewEncoder(w).Encode(chatResponse{
			Model: req.Model,
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: reply},
				FinishReason: "stop",
			}},
		})
	}))
}

func newTestClient(url string, cfg Config) *Client {
	cfg.BaseURL = url
	return NewClient(cfg, WithLogger(logging.NewNopLogger()))
}

func TestClient_Enrich(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, "```json\n"+`{"hsCode":" 6109.10 ","material":"Cotton","intendedUse":"Apparel","grossWeight":2.5,"netWeight":2.1,"incoterms":"DAP","unitPrice":15,"reasonForExport":"Sale","riskLevel":"LOW"}`+"\n```")
	defer srv.Close()

	c := newTestClient(srv.URL, Config{Model: "test-model"})
	resp, err := c.Enrich(context.Background(), EnrichRequest{
		Description:        "Cotton T-Shirt",
		Quantity:           10,
		TotalValue:         150,
		OriginCountry:      "USA",
		DestinationCountry: "UK",
		DutiesPayer:        shipment.DutiesPayerBuyer,
	})

	require.NoError(t, err)
	assert.Equal(t, "6109.10", resp.HSCode)
	assert.Equal(t, "Cotton", resp.Material)
	assert.Equal(t, 2.5, resp.GrossWeight)
	assert.Equal(t, "DAP", resp.Incoterm)
	assert.Equal(t, "LOW", resp.RiskLevel)
	assert.Equal(t, int32(1), calls)
}

func TestClient_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{{Message: chatMessage{Content: `{"valid":true}`}}}})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, Config{APIKey: "secret"})
	res, err := c.Validate(context.Background(), ValidateRequest{OrderID: "O1"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestClient_Validate(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, `{"valid":false,"warnings":["Weight looks low"]}`)
	defer srv.Close()

	c := newTestClient(srv.URL, Config{})
	res, err := c.Validate(context.Background(), NewValidateRequest(
		shipment.RawOrderRecord{OrderID: "O1", Description: "Widget", Quantity: 2, UnitPrice: 5},
		shipment.EnrichedFields{HSCode: "8471.30"},
	))

	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"Weight looks low"}, res.Warnings)
}

func TestClient_Extract(t *testing.T) {
	t.Run("fields found", func(t *testing.T) {
		var calls int32
		srv := chatServer(t, &calls, `{"consigneeName":"Ada","productDescription":"Lamp","quantity":2,"destinationCountry":"Spain"}`)
		defer srv.Close()

		c := newTestClient(srv.URL, Config{})
		got, err := c.Extract(context.Background(), "Ship 2 lamps to Ada in Spain")
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.ConsigneeName)
		assert.Equal(t, 2.0, got.Quantity)
		assert.Equal(t, "Spain", got.DestinationCountry)
	})

	t.Run("nothing found", func(t *testing.T) {
		var calls int32
		srv := chatServer(t, &calls, `{}`)
		defer srv.Close()

		c := newTestClient(srv.URL, Config{})
		_, err := c.Extract(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrNothingExtracted)
	})

	t.Run("blank text skips the call", func(t *testing.T) {
		var calls int32
		srv := chatServer(t, &calls, `{}`)
		defer srv.Close()

		c := newTestClient(srv.URL, Config{})
		_, err := c.Extract(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrNothingExtracted)
		assert.Equal(t, int32(0), calls)
	})
}

func TestClient_ParseRetry(t *testing.T) {
	t.Run("no retries by default", func(t *testing.T) {
		var calls int32
		srv := chatServer(t, &calls, "not json", `{"valid":true}`)
		defer srv.Close()

		c := newTestClient(srv.URL, Config{})
		_, err := c.Validate(context.Background(), ValidateRequest{})
		require.Error(t, err)
		assert.Equal(t, ErrParseFailure, CodeOf(err))
		assert.Equal(t, int32(1), calls)
	})

	t.Run("re-asks up to max retries", func(t *testing.T) {
		var calls int32
		srv := chatServer(t, &calls, "not json", `{"valid":true}`)
		defer srv.Close()

		c := newTestClient(srv.URL, Config{MaxRetries: 1})
		res, err := c.Validate(context.Background(), ValidateRequest{})
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, int32(2), calls)
	})
}

func TestClient_HTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorCode
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimit},
		{"server error", http.StatusServiceUnavailable, ErrUnavailable},
		{"unauthorized", http.StatusUnauthorized, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, Config{})
			_, err := c.Enrich(context.Background(), EnrichRequest{Description: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}
}

func TestClient_TokenLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{{
			Message:      chatMessage{Content: `{"hsCode":`},
			FinishReason: "length",
		}}})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, Config{})
	_, err := c.Enrich(context.Background(), EnrichRequest{})
	assert.Equal(t, ErrTokenLimit, CodeOf(err))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, Config{Timeout: 50 * time.Millisecond})
	_, err := c.Enrich(context.Background(), EnrichRequest{})
	assert.Equal(t, ErrTimeout, CodeOf(err))
}

func TestClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, Config{})
	_, err := c.Enrich(context.Background(), EnrichRequest{})
	assert.Equal(t, ErrParseFailure, CodeOf(err))
}

func TestClient_IsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/", Config{})
	assert.True(t, c.IsAvailable(context.Background()))
	assert.NoError(t, c.Close())
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in))
	}
}

func TestEnrichPrompt(t *testing.T) {
	p := enrichPrompt(EnrichRequest{
		Description: "Widget",
		Quantity:    10,
		TotalValue:  50.5,
		DutiesPayer: shipment.DutiesPayerSeller,
	})
	assert.Contains(t, p, "Product: Widget")
	assert.Contains(t, p, "Qty: 10\n")
	assert.Contains(t, p, "Total Value: 50.5\n")
	assert.Contains(t, p, "Who pays duties: Seller")
	assert.Contains(t, p, "DAP, DDP, FOB, EXW, CIF")
}
