package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientImportNewAccount(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/import", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["params"].([]interface{})[0] == "0x1234" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"error":"invalid address: \"0x1234\""}`))
			return
		}
		w.Write([]byte(`{"success":true,"data":{"address":"0x8617e340b3d01fa5f11f306f4090fd50e238070d"}}`))
	}))
	defer srv.Close()

	c := NewClientWithURL(srv.URL)
	addr, err := c.ImportNewAccount(context.Background(), "Address", []string{"0x8617E340B3D01FA5F11F306F4090FD50E238070D"})
	require.NoError(t, err)
	assert.Equal(t, "0x8617e340b3d01fa5f11f306f4090fd50e238070d", addr)
	assert.Equal(t, "Address", got["strategy"])

	_, err = c.ImportNewAccount(context.Background(), "Address", []string{"0x1234"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, `invalid address: "0x1234"`, err.Error())
}

func TestClientSignRequests(t *testing.T) {
	var resolved, rejected string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/sign/requests":
			w.Write([]byte(`{"success":true,"data":[{"id":"r1","kind":"manual","from":"0xabc","payload":"tx"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sign/requests/r1":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			resolved = body["signature"]
			w.Write([]byte(`{"success":true,"data":{"id":"r1"}}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/sign/requests/r1":
			rejected = "r1"
			w.Write([]byte(`{"success":true,"data":{"id":"r1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"error":"not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClientWithURL(srv.URL)
	ctx := context.Background()
	reqs, err := c.GetSignRequests(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "manual", reqs[0].Kind)

	require.NoError(t, c.ResolveSignRequest(ctx, "r1", "0xsig"))
	assert.Equal(t, "0xsig", resolved)
	require.NoError(t, c.RejectSignRequest(ctx, "r1"))
	assert.Equal(t, "r1", rejected)

	assert.False(t, c.IsAlive(ctx))
}
