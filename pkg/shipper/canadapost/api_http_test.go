package canadapost_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/pkg/shipper/canadapost"
)

func newHTTPClient(t *testing.T, contract bool, handler http.HandlerFunc) *canadapost.HTTPAPIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return canadapost.NewHTTPAPIClient(canadapost.HTTPAPIClientConfig{
		BaseURL: srv.URL, APIKey: "key", APISecret: "secret", CustomerNumber: "0001234567", Contract: contract,
	})
}

func TestHTTPAPIClient_GetRates(t *testing.T) {
	client := newHTTPClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/rs/ship/price", r.URL.Path)
		assert.Equal(t, "application/vnd.cpc.ship.rate-v4+xml", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<origin-postal-code>M5J2X5</origin-postal-code>")
		assert.Contains(t, string(body), "<weight>2.500</weight>")
		assert.Contains(t, string(body), "<domestic><postal-code>V6Z2E7</postal-code></domestic>")
		assert.Contains(t, string(body), "<option-code>SO</option-code>")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<price-quotes xmlns="http://www.canadapost.ca/ws/ship/rate-v4">
  <price-quote>
    <service-code>DOM.EP</service-code>
    <service-name>Expedited Parcel</service-name>
    <price-details><base>11.05</base><due>13.29</due></price-details>
    <service-standard><expected-transit-time>2</expected-transit-time></service-standard>
  </price-quote>
</price-quotes>`))
	})

	quotes, err := client.GetRates(context.Background(), &canadapost.RatesRequest{
		OriginPostal: "m5j 2x5",
		Weight:       2.5,
		Destination:  canadapost.Destination{CountryCode: "CA", PostalCode: "V6Z 2E7"},
		Options:      []string{"SO"},
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "DOM.EP", quotes[0].ServiceCode)
	assert.Equal(t, 13.29, quotes[0].Due)
	assert.Equal(t, 2, quotes[0].TransitDays)
}

func TestHTTPAPIClient_GetServices(t *testing.T) {
	client := newHTTPClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rs/ship/service", r.URL.Path)
		assert.Equal(t, "US", r.URL.Query().Get("country"))
		_, _ = w.Write([]byte(`<services><service><service-code>USA.EP</service-code><service-name>Expedited Parcel USA</service-name></service></services>`))
	})

	svcs, err := client.GetServices(context.Background(), "us")
	require.NoError(t, err)
	assert.Equal(t, []canadapost.Service{{Code: "USA.EP", Name: "Expedited Parcel USA"}}, svcs)
}

func TestHTTPAPIClient_CreateShipment_Contract(t *testing.T) {
	client := newHTTPClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rs/0001234567/0001234567/shipment", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<group-id>batch-1</group-id>")
		assert.Contains(t, string(body), "<contract-id>42708517</contract-id>")
		assert.Contains(t, string(body), "<print-preferences>")
		_, _ = w.Write([]byte(`<shipment-info>
  <shipment-id>340531309186521749</shipment-id>
  <shipment-status>created</shipment-status>
  <tracking-pin>123456789012</tracking-pin>
  <links>
    <link rel="self" href="https://ct.soa-gw.canadapost.ca/rs/0001234567/0001234567/shipment/340531309186521749"/>
    <link rel="label" href="https://ct.soa-gw.canadapost.ca/rs/artifact/76108cb5192002d5/10238/0" media-type="application/pdf"/>
  </links>
</shipment-info>`))
	})

	s, err := client.CreateShipment(context.Background(), &canadapost.ShipmentRequest{
		GroupID:     "batch-1",
		ContractID:  "42708517",
		ServiceCode: "DOM.EP",
		Weight:      1,
		WithLabel:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "340531309186521749", s.ID)
	assert.Equal(t, "123456789012", s.TrackingPIN)
	assert.True(t, s.HasLabel())
}

func TestHTTPAPIClient_CreateShipment_NonContractWithoutLabel(t *testing.T) {
	client := newHTTPClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rs/0001234567/ncshipment", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<non-contract-shipment")
		assert.NotContains(t, string(body), "<print-preferences>")
		assert.NotContains(t, string(body), "<group-id>")
		_, _ = w.Write([]byte(`<non-contract-shipment-info><shipment-id>1</shipment-id><tracking-pin>P</tracking-pin></non-contract-shipment-info>`))
	})

	s, err := client.CreateShipment(context.Background(), &canadapost.ShipmentRequest{GroupID: "ignored", ServiceCode: "DOM.RP", Weight: 1})
	require.NoError(t, err)
	assert.Equal(t, "1", s.ID)
	assert.False(t, s.HasLabel())
}

func TestHTTPAPIClient_ErrorMessages(t *testing.T) {
	client := newHTTPClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = w.Write([]byte(`<messages><message><code>9153</code><description>Label cannot be produced</description></message></messages>`))
	})

	_, err := client.GetLabel(context.Background(), "1")
	var apiErr *canadapost.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "9153", apiErr.Code)
	assert.True(t, apiErr.LabelNotPermitted())
}

func TestHTTPAPIClient_VoidShipment_NotFound(t *testing.T) {
	client := newHTTPClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/rs/0001234567/0001234567/shipment/77", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.VoidShipment(context.Background(), "77")
	var apiErr *canadapost.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestHTTPAPIClient_TransmitAndGetManifest(t *testing.T) {
	client := newHTTPClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rs/0001234567/0001234567/manifest":
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "<group-ids><group-id>batch-1</group-id></group-ids>")
			_, _ = w.Write([]byte(`<manifests><link rel="manifest" href="/rs/0001234567/0001234567/manifest/9"/></manifests>`))
		case "/rs/0001234567/0001234567/manifest/9":
			_, _ = w.Write([]byte(`<manifest><po-number>P123</po-number><manifest-pricing-info><total-due-cpc>42.10</total-due-cpc></manifest-pricing-info><links><link rel="artifact" href="https://example/artifact/9"/></links></manifest>`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	links, err := client.TransmitShipments(ctx, &canadapost.TransmitRequest{GroupIDs: []string{"batch-1"}, ShippingPoint: "M5J 2X5"})
	require.NoError(t, err)
	require.Len(t, links, 1)

	m, err := client.GetManifest(ctx, links[0])
	require.NoError(t, err)
	assert.Equal(t, "P123", m.PONumber)
	assert.Equal(t, 42.10, m.TotalDue)
	assert.Equal(t, "https://example/artifact/9", m.ArtifactURL)
}
