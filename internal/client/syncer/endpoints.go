package syncer

import (
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
)

// IdempotencyHeader carries the record id so the server can drop a replay it
// already applied.
const IdempotencyHeader = "Idempotency-Key"

// Endpoint is where records of one kind are replayed.
type Endpoint struct {
	Method string
	Path   string
}

// Endpoints maps each record kind to its endpoint.
type Endpoints map[domain.Kind]Endpoint

// DefaultEndpoints returns the marketplace API endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		domain.KindOrder:               {Method: http.MethodPost, Path: "/v1/orders"},
		domain.KindPayment:             {Method: http.MethodPost, Path: "/v1/payments"},
		domain.KindInventoryAdjustment: {Method: http.MethodPost, Path: "/v1/inventory/adjustments"},
		domain.KindCartUpdate:          {Method: http.MethodPut, Path: "/v1/cart"},
	}
}

// Request builds the replay request for rec. The same request is used when a
// mutation is sent directly while online, so both paths carry the same
// idempotency key.
func (e Endpoints) Request(rec domain.OfflineRecord) (*transport.Request, error) {
	ep, ok := e[rec.Kind]
	if !ok {
		return nil, domain.NewConfigurationFailure(fmt.Errorf("no endpoint for record kind %q", rec.Kind))
	}

	return &transport.Request{
		Method: ep.Method,
		Path:   ep.Path,
		Header: http.Header{
			"Content-Type":    {"application/json"},
			IdempotencyHeader: {rec.ID.String()},
		},
		Body: append([]byte(nil), rec.Payload...),
	}, nil
}
