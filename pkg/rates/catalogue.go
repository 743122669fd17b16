package rates

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CatalogueEntry is one service offered by a carrier's live catalogue.
type CatalogueEntry struct {
	CarrierCode string
	CarrierName string
	MethodName  string
	ServiceCode string
	Description string
	TransitDays int
}

// SyncDefaults are the bounds given to seeded records so an operator can
// tune them afterwards.
type SyncDefaults struct {
	MaxWeight   float64
	MaxSubtotal float64
}

// SyncReport counts what a catalogue sync created.
type SyncReport struct {
	CarriersCreated int
	MethodsCreated  int
	RecordsCreated  int
	Skipped         int
}

// Sync creates the carriers, shipping methods and default rate records that
// the live catalogue offers but the table lacks. Existing rows are never
// modified. A seeded record takes the method name as its friendly name,
// prefixed with the carrier name when several carriers offer a method of
// that name or another record already uses it.
func Sync(ctx context.Context, store Store, systemName string, entries []CatalogueEntry, def SyncDefaults) (*SyncReport, error) {
	if def.MaxWeight <= 0 {
		def.MaxWeight = 1000
	}
	if def.MaxSubtotal <= 0 {
		def.MaxSubtotal = 1000000
	}

	carriers, err := store.Carriers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	methods, err := store.ShippingMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shipping methods: %w", err)
	}
	records, err := store.ListRecords(ctx, Scope{})
	if err != nil {
		return nil, fmt.Errorf("list rate records: %w", err)
	}

	carrierByCode := make(map[string]Carrier)
	for _, c := range carriers {
		if c.SystemName == systemName {
			carrierByCode[c.ExternalCode] = c
		}
	}
	type methodKey struct {
		carrierID int64
		code      string
	}
	methodByKey := make(map[methodKey]ShippingMethod)
	for _, m := range methods {
		methodByKey[methodKey{m.CarrierID, m.ServiceCode}] = m
	}
	priced := make(map[int64]bool)
	named := make(map[string]int64)
	for _, r := range records {
		priced[r.ShippingMethodID] = true
		if n := normalizeName(r.FriendlyName); n != "" {
			named[n] = r.ShippingMethodID
		}
	}
	offeredBy := make(map[string]map[string]bool)
	for _, e := range entries {
		n := normalizeName(firstNonEmpty(e.MethodName, e.ServiceCode))
		if offeredBy[n] == nil {
			offeredBy[n] = make(map[string]bool)
		}
		offeredBy[n][e.CarrierCode] = true
	}

	report := &SyncReport{}
	for _, e := range entries {
		c, ok := carrierByCode[e.CarrierCode]
		if !ok {
			c = Carrier{
				Name:         firstNonEmpty(e.CarrierName, e.CarrierCode),
				SystemName:   systemName,
				ExternalCode: e.CarrierCode,
				Active:       true,
			}
			if err := store.InsertCarrier(ctx, &c); err != nil {
				return report, fmt.Errorf("insert carrier %s: %w", e.CarrierCode, err)
			}
			carrierByCode[e.CarrierCode] = c
			report.CarriersCreated++
		}

		key := methodKey{c.ID, e.ServiceCode}
		m, ok := methodByKey[key]
		if !ok {
			m = ShippingMethod{
				CarrierID:   c.ID,
				Name:        firstNonEmpty(e.MethodName, e.ServiceCode),
				Description: e.Description,
				ServiceCode: e.ServiceCode,
			}
			if err := store.InsertShippingMethod(ctx, &m); err != nil {
				return report, fmt.Errorf("insert shipping method %s: %w", e.ServiceCode, err)
			}
			methodByKey[key] = m
			report.MethodsCreated++
		}

		if priced[m.ID] {
			report.Skipped++
			continue
		}
		// orders name their method by friendly name, so it must resolve to
		// one carrier
		friendly := m.Name
		n := normalizeName(friendly)
		if owner, ok := named[n]; (ok && owner != m.ID) || len(offeredBy[n]) > 1 {
			friendly = c.Name + " " + m.Name
		}
		r := Record{
			CarrierID:         c.ID,
			ShippingMethodID:  m.ID,
			WeightFrom:        0,
			WeightTo:          def.MaxWeight,
			OrderSubtotalFrom: 0,
			OrderSubtotalTo:   def.MaxSubtotal,
			FriendlyName:      friendly,
			Description:       m.Description,
			Active:            true,
			TransitDays:       e.TransitDays,
		}
		if err := store.InsertRecord(ctx, &r); err != nil {
			return report, fmt.Errorf("insert rate record for %s: %w", e.ServiceCode, err)
		}
		priced[m.ID] = true
		named[normalizeName(friendly)] = m.ID
		report.RecordsCreated++
	}
	return report, nil
}

// Validate checks that every carrier/method pair used by the rate records
// of a store and vendor still exists in the live catalogue. Mismatches are
// returned as findings; nothing is changed.
func Validate(ctx context.Context, store Store, systemName string, storeID, vendorID int64, live []CatalogueEntry) (string, []string, error) {
	carriers, err := store.Carriers(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("list carriers: %w", err)
	}
	methods, err := store.ShippingMethods(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("list shipping methods: %w", err)
	}
	records, err := store.ListRecords(ctx, Scope{StoreID: storeID, VendorID: vendorID})
	if err != nil {
		return "", nil, fmt.Errorf("list rate records: %w", err)
	}

	carrierByID := make(map[int64]Carrier)
	for _, c := range carriers {
		carrierByID[c.ID] = c
	}
	methodByID := make(map[int64]ShippingMethod)
	for _, m := range methods {
		methodByID[m.ID] = m
	}
	offered := make(map[string]bool, len(live))
	carrierOffered := make(map[string]bool)
	for _, e := range live {
		offered[e.CarrierCode+"|"+e.ServiceCode] = true
		carrierOffered[e.CarrierCode] = true
	}

	type pair struct{ carrierID, methodID int64 }
	seen := make(map[pair]bool)
	var findings []string
	checked := 0
	for _, r := range records {
		m, ok := methodByID[r.ShippingMethodID]
		if !ok {
			continue
		}
		carrierID := r.CarrierID
		if carrierID == 0 {
			carrierID = m.CarrierID
		}
		c, ok := carrierByID[carrierID]
		if !ok || c.SystemName != systemName {
			continue
		}
		p := pair{c.ID, m.ID}
		if seen[p] {
			continue
		}
		seen[p] = true
		checked++

		switch {
		case !carrierOffered[c.ExternalCode]:
			findings = append(findings, fmt.Sprintf("carrier %q (%s) is not offered by the provider", c.Name, c.ExternalCode))
		case !offered[c.ExternalCode+"|"+m.ServiceCode]:
			findings = append(findings, fmt.Sprintf("shipping method %q (%s) is not offered by carrier %q", m.Name, m.ServiceCode, c.Name))
		}
	}
	sort.Strings(findings)

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d rate records, %d carrier/method pairs checked against %d live services", systemName, len(records), checked, len(live))
	if len(findings) == 0 {
		b.WriteString("; configuration matches")
	} else {
		fmt.Fprintf(&b, "; %d mismatches", len(findings))
	}
	return b.String(), findings, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Binding is a local shipping method together with its carrier.
type Binding struct {
	Carrier Carrier
	Method  ShippingMethod
}

// Bindings returns the methods of the active carriers owned by systemName,
// ordered by display order.
func Bindings(ctx context.Context, store Store, systemName string) ([]Binding, error) {
	carriers, err := store.Carriers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	methods, err := store.ShippingMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shipping methods: %w", err)
	}
	owned := make(map[int64]Carrier)
	for _, c := range carriers {
		if c.SystemName == systemName && c.Active {
			owned[c.ID] = c
		}
	}
	var out []Binding
	for _, m := range methods {
		if c, ok := owned[m.CarrierID]; ok {
			out = append(out, Binding{Carrier: c, Method: m})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Method.DisplayOrder != out[j].Method.DisplayOrder {
			return out[i].Method.DisplayOrder < out[j].Method.DisplayOrder
		}
		return out[i].Method.ID < out[j].Method.ID
	})
	return out, nil
}

// BindingFor returns the binding of the named method of systemName.
func (e *Engine) BindingFor(ctx context.Context, storeID int64, systemName, methodName string) (*Binding, *Record, error) {
	res, err := e.ResolveMethod(ctx, storeID, methodName)
	if err != nil {
		return nil, nil, err
	}
	if res.Carrier.SystemName != systemName {
		return nil, nil, fmt.Errorf("%w: %q belongs to %s", ErrMethodNotFound, methodName, res.Carrier.SystemName)
	}
	return &Binding{Carrier: res.Carrier, Method: res.Method}, res.Record, nil
}
