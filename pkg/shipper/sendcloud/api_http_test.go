package sendcloud_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/pkg/shipper/sendcloud"
)

func newHTTPClient(t *testing.T, handler http.HandlerFunc) *sendcloud.HTTPAPIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return sendcloud.NewHTTPAPIClient(sendcloud.HTTPAPIClientConfig{BaseURL: srv.URL, APIKey: "key", APISecret: "secret"})
}

func TestHTTPAPIClient_GetShippingMethods(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/shipping_methods", r.URL.Path)
		assert.Equal(t, "BE", r.URL.Query().Get("to_country"))
		_, _ = w.Write([]byte(`{"shipping_methods":[{"id":8,"name":"PostNL Standard","carrier":"postnl","min_weight":"0.001","max_weight":"23.001","service_point_input":"none","countries":[{"iso_2":"BE","price":7.5}]}]}`))
	})

	methods, err := client.GetShippingMethods(context.Background(), &sendcloud.ShippingMethodsRequest{ToCountry: "BE"})
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, 8, methods[0].ID)
	assert.Equal(t, 7.5, methods[0].Countries[0].Price)
}

func TestHTTPAPIClient_CreateParcel_LabelNotPermitted(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req sendcloud.ParcelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Parcel.RequestLabel)
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = w.Write([]byte(`{"error":{"code":412,"message":"Label can not be announced","request":"api/v2/parcels"}}`))
	})

	_, err := client.CreateParcel(context.Background(), &sendcloud.ParcelRequest{Parcel: sendcloud.ParcelPayload{RequestLabel: true}})
	var apiErr *sendcloud.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.LabelNotPermitted())
	assert.Equal(t, "Label can not be announced", apiErr.Message)
}

func TestHTTPAPIClient_CreateParcel_MultiCollo(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"parcels":[{"id":1,"tracking_number":"A"},{"id":2,"tracking_number":"B"}]}`))
	})

	parcels, err := client.CreateParcel(context.Background(), &sendcloud.ParcelRequest{})
	require.NoError(t, err)
	assert.Len(t, parcels, 2)
}

func TestHTTPAPIClient_CancelParcel_NotFound(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parcels/5/cancel", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not found`))
	})

	_, err := client.CancelParcel(context.Background(), 5)
	var apiErr *sendcloud.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
