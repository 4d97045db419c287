package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPTransportRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		require.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		require.JSONEq(t, `{"sku":"A1"}`, string(body))

		w.Header().Set("X-Order", "42")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL + "/")
	req := &Request{
		Method: http.MethodPost,
		Path:   "/v1/orders",
		Header: http.Header{"Authorization": {"Bearer abc"}},
		Body:   []byte(`{"sku":"A1"}`),
	}

	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, http.StatusCreated, resp.Status)
	require.Equal(t, "42", resp.Header.Get("X-Order"))
	require.JSONEq(t, `{"id":"42"}`, string(resp.Body))
}

func TestHTTPTransportConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport(url).Do(context.Background(), &Request{Method: http.MethodGet, Path: "/livez"})
	require.ErrorIs(t, err, ErrConnection)
}

func TestRequestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := &Request{Method: http.MethodPut, Path: "/v1/cart", Body: []byte("x")}
	c := orig.Clone()
	c.Header.Set("Authorization", "Bearer t")
	c.Body[0] = 'y'

	require.Nil(t, orig.Header)
	require.Equal(t, []byte("x"), orig.Body)
}
