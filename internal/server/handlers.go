package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/options"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	ready := true
	for name, p := range s.pingers {
		if err := p.Ping(r.Context()); err != nil {
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON: "+err.Error())
		return
	}

	groups := make([]*shipper.OptionRequest, len(req.Groups))
	for i, g := range req.Groups {
		if g == nil {
			continue
		}
		groups[i] = s.toOptionRequest(g)
	}

	res, err := s.aggregator.GetOptions(r.Context(), groups)
	s.observe("get_options", "", start, err)
	if errors.Is(err, options.ErrNoGroups) || errors.Is(err, options.ErrNilGroup) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOptionsResponse(res))
}

func (s *Server) toOptionRequest(g *groupInput) *shipper.OptionRequest {
	req := &shipper.OptionRequest{
		StoreID:     g.StoreID,
		VendorID:    g.VendorID,
		WarehouseID: g.WarehouseID,
		From:        g.From.toShipper(),
		To:          g.To.toShipper(),
		Subtotal:    g.Subtotal,
		Currency:    g.Currency,
	}
	if g.Packaging != "" {
		req.Packaging = s.packaging(g.Packaging)
	}
	for _, it := range g.Items {
		req.Items = append(req.Items, it.toShipper())
	}
	req.PickupPoint = g.PickupPoint.toShipper()
	return req
}

// handlePutOrder stores the host order shipments are later created for.
func (s *Server) handlePutOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid order id")
		return
	}
	var req orderInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON: "+err.Error())
		return
	}
	switch {
	case req.ShippingMethod == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "shippingMethod is required")
		return
	case req.ShippingAddress == nil:
		writeError(w, http.StatusBadRequest, "invalid_request", "shippingAddress is required")
		return
	case len(req.Items) == 0:
		writeError(w, http.StatusBadRequest, "invalid_request", "items are required")
		return
	}

	if err := s.orders.PutOrder(r.Context(), req.toShipper(id)); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Ctx(r.Context()).Info("Order stored", zap.Int64("order_id", id), zap.String("method", req.ShippingMethod))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON: "+err.Error())
		return
	}
	if req.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "orderId is required")
		return
	}
	details := shipper.ShipmentDetails{
		OrderID:           req.OrderID,
		GroupID:           req.GroupID,
		Currency:          req.Currency,
		ScheduledShipDate: req.ScheduledShipDate,
	}
	if req.Packaging != "" {
		if details.PackagingOption = s.packaging(req.Packaging); details.PackagingOption == nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown packaging "+strconv.Quote(req.Packaging))
			return
		}
	}

	sh, err := s.coordinator.Create(r.Context(), details)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentOutput(sh))
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}
	sh, err := s.coordinator.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentOutput(sh))
}

// handleSubmitShipment submits synchronously, or queues the submission
// when called with ?async=true and a queue is configured.
func (s *Server) handleSubmitShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("async") == "true" && s.enqueuer != nil {
		s.enqueue(w, r, fulfillment.Command{Action: fulfillment.ActionSubmit, ShipmentID: id})
		return
	}

	start := time.Now()
	sh, err := s.coordinator.Submit(r.Context(), id)
	carrier := ""
	if sh != nil {
		carrier = sh.Carrier
	}
	s.observe("submit", carrier, start, err)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentOutput(sh))
}

func (s *Server) handleCancelShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("async") == "true" && s.enqueuer != nil {
		s.enqueue(w, r, fulfillment.Command{Action: fulfillment.ActionCancel, ShipmentID: id})
		return
	}

	start := time.Now()
	found, err := s.coordinator.Cancel(r.Context(), id)
	s.observe("cancel", "", start, err)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Found: found})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, cmd fulfillment.Command) {
	if err := s.enqueuer.Enqueue(r.Context(), cmd); err != nil {
		s.logger.Ctx(r.Context()).Error("Failed to enqueue command",
			zap.String("action", cmd.Action),
			zap.Int64("shipment_id", cmd.ShipmentID),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "command could not be queued")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListCarriers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Names())
}

func (s *Server) handleTransmitManifest(w http.ResponseWriter, r *http.Request) {
	carrier := chi.URLParam(r, "carrier")
	start := time.Now()
	m, err := s.coordinator.TransmitManifests(r.Context(), carrier)
	s.observe("transmit_manifest", carrier, start, err)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if m == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{ID: m.ID, URL: m.URL, Cost: m.Cost, ShipmentIDs: m.ShipmentIDs})
}

func (s *Server) handleValidateConfiguration(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(chi.URLParam(r, "carrier"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	storeID, err1 := optionalInt(r, "store")
	vendorID, err2 := optionalInt(r, "vendor")
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start := time.Now()
	report, mismatches, err := c.ValidateConfiguration(r.Context(), storeID, vendorID)
	s.observe("validate", c.Name(), start, err)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if mismatches == nil {
		mismatches = []string{}
	}
	writeJSON(w, http.StatusOK, validateResponse{Report: report, Mismatches: mismatches})
}

func (s *Server) handleSyncCatalogue(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(chi.URLParam(r, "carrier"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	start := time.Now()
	rep, err := c.SyncCatalogue(r.Context())
	s.observe("sync", c.Name(), start, err)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		CarriersCreated: rep.CarriersCreated,
		MethodsCreated:  rep.MethodsCreated,
		RecordsCreated:  rep.RecordsCreated,
		Skipped:         rep.Skipped,
	})
}

// writeFailure maps domain errors to HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var shipperErr *shipper.ShipperError
	switch {
	case errors.Is(err, fulfillment.ErrShipmentNotFound), errors.Is(err, shipper.ErrCarrierNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, fulfillment.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, fulfillment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.As(err, &shipperErr) && shipperErr.Retryable:
		writeError(w, http.StatusServiceUnavailable, shipperErr.Code, err.Error())
	case errors.As(err, &shipperErr):
		writeError(w, http.StatusUnprocessableEntity, shipperErr.Code, err.Error())
	default:
		s.logger.Ctx(r.Context()).Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) observe(operation, carrier string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		var shipperErr *shipper.ShipperError
		if errors.As(err, &shipperErr) {
			s.metrics.RecordError(shipperErr.Carrier, shipperErr.Code)
		}
	}
	s.metrics.RecordRequest(operation, carrier, status, time.Since(start).Seconds())
}

func shipmentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid shipment id")
		return 0, false
	}
	return id, true
}

func optionalInt(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
