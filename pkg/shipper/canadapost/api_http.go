package canadapost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	mediaRate     = "application/vnd.cpc.ship.rate-v4+xml"
	mediaShipment = "application/vnd.cpc.shipment-v8+xml"
	mediaNC       = "application/vnd.cpc.ncshipment-v4+xml"
	mediaManifest = "application/vnd.cpc.manifest-v8+xml"

	nsRate     = "http://www.canadapost.ca/ws/ship/rate-v4"
	nsShipment = "http://www.canadapost.ca/ws/shipment-v8"
	nsNC       = "http://www.canadapost.ca/ws/ncshipment-v4"
	nsManifest = "http://www.canadapost.ca/ws/manifest-v8"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP/XML.
type HTTPAPIClient struct {
	baseURL        string
	apiKey         string
	apiSecret      string
	customerNumber string
	contract       bool
	httpClient     *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL        string
	APIKey         string
	APISecret      string // Password for Basic Auth
	CustomerNumber string
	// Contract selects the contract shipment endpoints. Without it
	// shipments are created as non-contract shipments.
	Contract bool
	Timeout  time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		apiSecret:      cfg.APISecret,
		customerNumber: cfg.CustomerNumber,
		contract:       cfg.Contract,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ============================================================================
// XML Request/Response structures for Canada Post API
// ============================================================================

// mailingScenario is the XML structure for rate requests
type mailingScenario struct {
	XMLName          xml.Name              `xml:"mailing-scenario"`
	Xmlns            string                `xml:"xmlns,attr"`
	CustomerNumber   string                `xml:"customer-number,omitempty"`
	ContractID       string                `xml:"contract-id,omitempty"`
	Options          *xmlOptions           `xml:"options,omitempty"`
	ParcelCharacter  parcelCharacteristics `xml:"parcel-characteristics"`
	OriginPostalCode string                `xml:"origin-postal-code"`
	Destination      xmlDestination        `xml:"destination"`
}

type xmlOptions struct {
	Option []xmlOption `xml:"option"`
}

type xmlOption struct {
	Code string `xml:"option-code"`
}

type parcelCharacteristics struct {
	Weight     string         `xml:"weight"`
	Dimensions *xmlDimensions `xml:"dimensions,omitempty"`
}

type xmlDimensions struct {
	Length string `xml:"length"`
	Width  string `xml:"width"`
	Height string `xml:"height"`
}

type xmlDestination struct {
	Domestic      *xmlDomestic      `xml:"domestic,omitempty"`
	UnitedStates  *xmlUnitedStates  `xml:"united-states,omitempty"`
	International *xmlInternational `xml:"international,omitempty"`
}

type xmlDomestic struct {
	PostalCode string `xml:"postal-code"`
}

type xmlUnitedStates struct {
	ZipCode string `xml:"zip-code"`
}

type xmlInternational struct {
	CountryCode string `xml:"country-code"`
}

// priceQuotes is the XML response structure for rates
type priceQuotes struct {
	XMLName    xml.Name     `xml:"price-quotes"`
	PriceQuote []priceQuote `xml:"price-quote"`
}

type priceQuote struct {
	ServiceCode     string          `xml:"service-code"`
	ServiceName     string          `xml:"service-name"`
	PriceDetails    priceDetails    `xml:"price-details"`
	ServiceStandard serviceStandard `xml:"service-standard"`
}

type priceDetails struct {
	Base float64 `xml:"base"`
	Due  float64 `xml:"due"`
}

type serviceStandard struct {
	GuaranteedDelivery  bool `xml:"guaranteed-delivery"`
	ExpectedTransitTime int  `xml:"expected-transit-time"`
}

// services is the XML response for service discovery
type services struct {
	XMLName xml.Name     `xml:"services"`
	Service []xmlService `xml:"service"`
}

type xmlService struct {
	Code string `xml:"service-code"`
	Name string `xml:"service-name"`
}

// shipmentInfo is the XML structure for shipment requests. XMLName is set
// per request to "shipment" or "non-contract-shipment".
type shipmentInfo struct {
	XMLName            xml.Name
	Xmlns              string       `xml:"xmlns,attr"`
	GroupID            string       `xml:"group-id,omitempty"`
	RequestedShipping  string       `xml:"requested-shipping-point,omitempty"`
	CpcPickupIndicator *bool        `xml:"cpc-pickup-indicator,omitempty"`
	DeliverySpec       deliverySpec `xml:"delivery-spec"`
}

type deliverySpec struct {
	ServiceCode     string                `xml:"service-code"`
	Sender          xmlSenderInfo         `xml:"sender"`
	Destination     xmlDestinationInfo    `xml:"destination"`
	Options         *xmlOptions           `xml:"options,omitempty"`
	ParcelCharacter parcelCharacteristics `xml:"parcel-characteristics"`
	Preferences     *printPreferences     `xml:"print-preferences,omitempty"`
	References      *xmlReferences        `xml:"references,omitempty"`
	SettlementInfo  *settlementInfo       `xml:"settlement-info,omitempty"`
}

type xmlSenderInfo struct {
	Name           string            `xml:"name,omitempty"`
	Company        string            `xml:"company"`
	ContactPhone   string            `xml:"contact-phone"`
	AddressDetails xmlAddressDetails `xml:"address-details"`
}

type xmlDestinationInfo struct {
	Name           string            `xml:"name"`
	Company        string            `xml:"company,omitempty"`
	ClientVoice    string            `xml:"client-voice-number,omitempty"`
	AddressDetails xmlAddressDetails `xml:"address-details"`
}

type xmlAddressDetails struct {
	AddressLine1  string `xml:"address-line-1"`
	AddressLine2  string `xml:"address-line-2,omitempty"`
	City          string `xml:"city"`
	ProvState     string `xml:"prov-state,omitempty"`
	CountryCode   string `xml:"country-code,omitempty"`
	PostalZipCode string `xml:"postal-zip-code,omitempty"`
}

type printPreferences struct {
	OutputFormat string `xml:"output-format"`
	Encoding     string `xml:"encoding"`
}

type xmlReferences struct {
	CustomerRef1 string `xml:"customer-ref-1"`
}

type settlementInfo struct {
	ContractID          string `xml:"contract-id,omitempty"`
	IntendedMethodOfPay string `xml:"intended-method-of-payment"`
}

// shipmentInfoResponse is the XML response for shipment creation and lookup
type shipmentInfoResponse struct {
	ShipmentID     string   `xml:"shipment-id"`
	ShipmentStatus string   `xml:"shipment-status"`
	TrackingPIN    string   `xml:"tracking-pin"`
	GroupID        string   `xml:"group-id"`
	Links          xmlLinks `xml:"links"`
}

type xmlLinks struct {
	Link []xmlLink `xml:"link"`
}

type xmlLink struct {
	Rel       string `xml:"rel,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

func (l xmlLinks) find(rel string) string {
	for _, link := range l.Link {
		if link.Rel == rel {
			return link.Href
		}
	}
	return ""
}

// transmitSet is the XML structure for manifest transmission
type transmitSet struct {
	XMLName          xml.Name           `xml:"transmit-set"`
	Xmlns            string             `xml:"xmlns,attr"`
	GroupIDs         []string           `xml:"group-ids>group-id"`
	ShippingPoint    string             `xml:"requested-shipping-point,omitempty"`
	DetailedManifest bool               `xml:"detailed-manifests"`
	MethodOfPayment  string             `xml:"method-of-payment"`
	ManifestAddress  xmlManifestAddress `xml:"manifest-address"`
}

type xmlManifestAddress struct {
	ManifestCompany string            `xml:"manifest-company"`
	ManifestName    string            `xml:"manifest-name,omitempty"`
	PhoneNumber     string            `xml:"phone-number"`
	AddressDetails  xmlAddressDetails `xml:"address-details"`
}

type manifestLinks struct {
	XMLName xml.Name  `xml:"manifests"`
	Link    []xmlLink `xml:"link"`
}

type manifestResponse struct {
	XMLName     xml.Name `xml:"manifest"`
	PONumber    string   `xml:"po-number"`
	TotalDueCPC float64  `xml:"manifest-pricing-info>total-due-cpc"`
	Links       xmlLinks `xml:"links"`
}

// messages is the XML error response structure
type messages struct {
	XMLName xml.Name  `xml:"messages"`
	Message []message `xml:"message"`
}

type message struct {
	Code        string `xml:"code"`
	Description string `xml:"description"`
}

// ============================================================================
// API Implementation
// ============================================================================

// GetRates fetches shipping rates from the Canada Post API.
func (c *HTTPAPIClient) GetRates(ctx context.Context, req *RatesRequest) ([]Quote, error) {
	scenario := mailingScenario{
		Xmlns:            nsRate,
		CustomerNumber:   req.CustomerNumber,
		ContractID:       req.ContractID,
		Options:          toXMLOptions(req.Options),
		OriginPostalCode: normalizePostalCode(req.OriginPostal),
		ParcelCharacter:  toParcel(req.Weight, req.Dimensions),
		Destination:      toDestination(req.Destination),
	}

	var quotes priceQuotes
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/rs/ship/price", mediaRate, scenario, &quotes); err != nil {
		return nil, err
	}

	out := make([]Quote, len(quotes.PriceQuote))
	for i, q := range quotes.PriceQuote {
		out[i] = Quote{
			ServiceCode: q.ServiceCode,
			ServiceName: q.ServiceName,
			Base:        q.PriceDetails.Base,
			Due:         q.PriceDetails.Due,
			TransitDays: q.ServiceStandard.ExpectedTransitTime,
			Guaranteed:  q.ServiceStandard.GuaranteedDelivery,
		}
	}
	return out, nil
}

// GetServices discovers the services offered to country.
func (c *HTTPAPIClient) GetServices(ctx context.Context, country string) ([]Service, error) {
	u := c.baseURL + "/rs/ship/service"
	if country != "" {
		u += "?" + url.Values{"country": {strings.ToUpper(country)}}.Encode()
	}
	var resp services
	if err := c.call(ctx, http.MethodGet, u, mediaRate, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Service, len(resp.Service))
	for i, s := range resp.Service {
		out[i] = Service{Code: s.Code, Name: s.Name}
	}
	return out, nil
}

// CreateShipment creates a contract or non-contract shipment.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*Shipment, error) {
	spec := deliverySpec{
		ServiceCode:     req.ServiceCode,
		Sender:          toSender(req.Sender),
		Destination:     toRecipient(req.Destination),
		Options:         toXMLOptions(req.Options),
		ParcelCharacter: toParcel(req.Weight, req.Dimensions),
	}
	if req.WithLabel {
		spec.Preferences = &printPreferences{OutputFormat: "4x6", Encoding: "PDF"}
	}
	if req.Reference != "" {
		spec.References = &xmlReferences{CustomerRef1: req.Reference}
	}

	info := shipmentInfo{DeliverySpec: spec}
	media := mediaNC
	if c.contract {
		info.XMLName = xml.Name{Local: "shipment"}
		info.Xmlns = nsShipment
		info.GroupID = req.GroupID
		info.RequestedShipping = normalizePostalCode(req.Sender.PostalCode)
		pickup := true
		info.CpcPickupIndicator = &pickup
		info.DeliverySpec.SettlementInfo = &settlementInfo{ContractID: req.ContractID, IntendedMethodOfPay: "Account"}
		media = mediaShipment
	} else {
		info.XMLName = xml.Name{Local: "non-contract-shipment"}
		info.Xmlns = nsNC
	}

	var resp shipmentInfoResponse
	if err := c.call(ctx, http.MethodPost, c.shipmentURL(""), media, info, &resp); err != nil {
		return nil, err
	}
	return toShipment(&resp), nil
}

// GetShipment returns a shipment created earlier.
func (c *HTTPAPIClient) GetShipment(ctx context.Context, shipmentID string) (*Shipment, error) {
	var resp shipmentInfoResponse
	if err := c.call(ctx, http.MethodGet, c.shipmentURL(shipmentID), c.shipmentMedia(), nil, &resp); err != nil {
		return nil, err
	}
	return toShipment(&resp), nil
}

// GetLabel fetches the label artifact. Canada Post answers 412 while the
// label cannot be produced.
func (c *HTTPAPIClient) GetLabel(ctx context.Context, shipmentID string) (*Label, error) {
	u := fmt.Sprintf("%s/rs/artifact/%s/%s/0", c.baseURL, url.PathEscape(c.customerNumber), url.PathEscape(shipmentID))
	resp, err := c.do(ctx, http.MethodGet, u, "application/pdf", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read label: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, data)
	}
	return &Label{
		ShipmentID:  shipmentID,
		URL:         u,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// VoidShipment voids an existing shipment.
func (c *HTTPAPIClient) VoidShipment(ctx context.Context, shipmentID string) error {
	return c.call(ctx, http.MethodDelete, c.shipmentURL(shipmentID), c.shipmentMedia(), nil, nil)
}

// TransmitShipments transmits the given groups.
func (c *HTTPAPIClient) TransmitShipments(ctx context.Context, req *TransmitRequest) ([]string, error) {
	set := transmitSet{
		Xmlns:            nsManifest,
		GroupIDs:         req.GroupIDs,
		ShippingPoint:    normalizePostalCode(req.ShippingPoint),
		DetailedManifest: true,
		MethodOfPayment:  "Account",
		ManifestAddress: xmlManifestAddress{
			ManifestCompany: firstNonEmpty(req.ManifestAddress.Company, req.ManifestAddress.Name),
			ManifestName:    req.ManifestAddress.Name,
			PhoneNumber:     req.ManifestAddress.Phone,
			AddressDetails:  toAddressDetails(req.ManifestAddress),
		},
	}
	u := fmt.Sprintf("%s/rs/%s/%s/manifest", c.baseURL, url.PathEscape(c.customerNumber), url.PathEscape(c.customerNumber))
	var resp manifestLinks
	if err := c.call(ctx, http.MethodPost, u, mediaManifest, set, &resp); err != nil {
		return nil, err
	}
	links := make([]string, 0, len(resp.Link))
	for _, l := range resp.Link {
		if l.Rel == "manifest" {
			links = append(links, l.Href)
		}
	}
	return links, nil
}

// GetManifest returns a transmitted manifest.
func (c *HTTPAPIClient) GetManifest(ctx context.Context, link string) (*ManifestInfo, error) {
	u := link
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(u, "/")
	}
	var resp manifestResponse
	if err := c.call(ctx, http.MethodGet, u, mediaManifest, nil, &resp); err != nil {
		return nil, err
	}
	return &ManifestInfo{
		PONumber:    resp.PONumber,
		ArtifactURL: resp.Links.find("artifact"),
		TotalDue:    resp.TotalDueCPC,
	}, nil
}

// ============================================================================
// HTTP Helpers
// ============================================================================

func (c *HTTPAPIClient) shipmentURL(id string) string {
	cust := url.PathEscape(c.customerNumber)
	u := fmt.Sprintf("%s/rs/%s/ncshipment", c.baseURL, cust)
	if c.contract {
		u = fmt.Sprintf("%s/rs/%s/%s/shipment", c.baseURL, cust, cust)
	}
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *HTTPAPIClient) shipmentMedia() string {
	if c.contract {
		return mediaShipment
	}
	return mediaNC
}

// call marshals in, sends it and decodes the XML answer into out.
func (c *HTTPAPIClient) call(ctx context.Context, method, u, media string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = xml.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = append([]byte(xml.Header), body...)
	}

	resp, err := c.do(ctx, method, u, media, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := xml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *HTTPAPIClient) do(ctx context.Context, method, u, accept string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Canada Post uses Basic Auth with API key:secret
	credentials := c.apiKey
	if c.apiSecret != "" {
		credentials = c.apiKey + ":" + c.apiSecret
	}
	auth := base64.StdEncoding.EncodeToString([]byte(credentials))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept-Language", "en-CA")

	if body != nil && accept != "" {
		req.Header.Set("Content-Type", accept)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	return c.httpClient.Do(req)
}

func parseError(status int, body []byte) error {
	var msgs messages
	if err := xml.Unmarshal(body, &msgs); err == nil && len(msgs.Message) > 0 {
		return &APIError{
			StatusCode:  status,
			Code:        msgs.Message[0].Code,
			Description: msgs.Message[0].Description,
		}
	}

	return &APIError{
		StatusCode:  status,
		Code:        fmt.Sprintf("HTTP_%d", status),
		Description: strings.TrimSpace(string(body)),
	}
}

func toShipment(resp *shipmentInfoResponse) *Shipment {
	return &Shipment{
		ID:          resp.ShipmentID,
		Status:      resp.ShipmentStatus,
		TrackingPIN: resp.TrackingPIN,
		GroupID:     resp.GroupID,
		LabelURL:    resp.Links.find("label"),
	}
}

func toXMLOptions(codes []string) *xmlOptions {
	if len(codes) == 0 {
		return nil
	}
	opts := &xmlOptions{}
	for _, code := range codes {
		opts.Option = append(opts.Option, xmlOption{Code: code})
	}
	return opts
}

func toParcel(weight float64, d *Dimensions) parcelCharacteristics {
	p := parcelCharacteristics{Weight: formatDecimal(weight, 3)}
	if d != nil && d.Length > 0 {
		p.Dimensions = &xmlDimensions{
			Length: formatDecimal(d.Length, 1),
			Width:  formatDecimal(d.Width, 1),
			Height: formatDecimal(d.Height, 1),
		}
	}
	return p
}

func toDestination(d Destination) xmlDestination {
	switch strings.ToUpper(d.CountryCode) {
	case "CA", "":
		return xmlDestination{Domestic: &xmlDomestic{PostalCode: normalizePostalCode(d.PostalCode)}}
	case "US":
		return xmlDestination{UnitedStates: &xmlUnitedStates{ZipCode: strings.TrimSpace(d.PostalCode)}}
	default:
		return xmlDestination{International: &xmlInternational{CountryCode: strings.ToUpper(d.CountryCode)}}
	}
}

func toAddressDetails(a Address) xmlAddressDetails {
	pc := a.PostalCode
	if strings.EqualFold(a.CountryCode, "CA") {
		pc = normalizePostalCode(pc)
	}
	return xmlAddressDetails{
		AddressLine1:  a.AddressLine1,
		AddressLine2:  a.AddressLine2,
		City:          a.City,
		ProvState:     a.Province,
		CountryCode:   strings.ToUpper(a.CountryCode),
		PostalZipCode: pc,
	}
}

func toSender(a Address) xmlSenderInfo {
	return xmlSenderInfo{
		Name:           a.Name,
		Company:        firstNonEmpty(a.Company, a.Name),
		ContactPhone:   a.Phone,
		AddressDetails: toAddressDetails(a),
	}
}

func toRecipient(a Address) xmlDestinationInfo {
	return xmlDestinationInfo{
		Name:           a.Name,
		Company:        a.Company,
		ClientVoice:    a.Phone,
		AddressDetails: toAddressDetails(a),
	}
}

// normalizePostalCode removes spaces from postal codes
func normalizePostalCode(pc string) string {
	return strings.ReplaceAll(strings.ToUpper(pc), " ", "")
}

var _ APIClient = (*HTTPAPIClient)(nil)
