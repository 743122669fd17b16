// Package rates holds the weight/zone/total rate table and the engine that
// resolves and prices the applicable record for a package.
package rates

import (
	"strings"
)

// Record is a weight/zone/total rate record. Key fields set to zero (or an
// empty Zip) match any value.
type Record struct {
	ID int64

	StoreID          int64
	VendorID         int64
	WarehouseID      int64
	CarrierID        int64
	CountryID        int64
	StateProvinceID  int64
	Zip              string
	ShippingMethodID int64

	WeightFrom        float64
	WeightTo          float64
	OrderSubtotalFrom float64
	OrderSubtotalTo   float64

	AdditionalFixedCost      float64
	RatePerWeightUnit        float64
	LowerWeightLimit         float64
	PercentageRateOfSubtotal float64
	CalculateCubicWeight     bool
	CubicWeightFactor        float64

	FriendlyName      string
	Description       string
	DisplayOrder      int
	Active            bool
	TransitDays       int
	CutOffTimeID      int64
	SendFromAddressID int64
}

// Carrier is an integrated carrier. SystemName selects the adapter that
// owns the carrier's records.
type Carrier struct {
	ID           int64
	Name         string
	SystemName   string
	ExternalCode string
	AddressID    int64
	Active       bool
}

// ShippingMethod is a priceable service. ServiceCode is the carrier-stable
// code written at sync time and used to select carrier service options.
type ShippingMethod struct {
	ID           int64
	CarrierID    int64
	Name         string
	Description  string
	ServiceCode  string
	DisplayOrder int
}

// Lookup is the filter tuple for a rate request. Zero key fields mean any.
type Lookup struct {
	StoreID          int64
	VendorID         int64
	WarehouseID      int64
	CarrierID        int64
	ShippingMethodID int64
	CountryID        int64
	StateProvinceID  int64
	Zip              string

	Weight   float64
	Subtotal float64

	// Volume is the package volume in the calling carrier's dimension unit
	// cubed. It only matters for records with CalculateCubicWeight.
	Volume float64
}

// Scope narrows record listings. Zero fields mean any.
type Scope struct {
	StoreID   int64
	VendorID  int64
	CarrierID int64
}

// Matches reports whether r falls inside the lookup's key and range filters.
func (l Lookup) Matches(r Record) bool {
	if !r.Active {
		return false
	}
	if !keyMatch(r.StoreID, l.StoreID) ||
		!keyMatch(r.VendorID, l.VendorID) ||
		!keyMatch(r.WarehouseID, l.WarehouseID) ||
		!keyMatch(r.CarrierID, l.CarrierID) ||
		!keyMatch(r.ShippingMethodID, l.ShippingMethodID) ||
		!keyMatch(r.CountryID, l.CountryID) ||
		!keyMatch(r.StateProvinceID, l.StateProvinceID) {
		return false
	}
	if ZipScore(r.Zip, l.Zip) < 0 {
		return false
	}
	return l.Weight >= r.WeightFrom && l.Weight <= r.WeightTo &&
		l.Subtotal >= r.OrderSubtotalFrom && l.Subtotal <= r.OrderSubtotalTo
}

// Includes reports whether r belongs to the scope.
func (s Scope) Includes(r Record) bool {
	return (s.StoreID == 0 || r.StoreID == 0 || r.StoreID == s.StoreID) &&
		(s.VendorID == 0 || r.VendorID == 0 || r.VendorID == s.VendorID) &&
		(s.CarrierID == 0 || r.CarrierID == s.CarrierID)
}

func keyMatch(record, want int64) bool {
	return record == 0 || record == want
}

// ZipScore grades how a record zip pattern matches a postal code:
// -1 no match, 0 wildcard, 1 prefix pattern ("K1A*"), 2 exact.
func ZipScore(pattern, zip string) int {
	p := normalizeZip(pattern)
	if p == "" {
		return 0
	}
	z := normalizeZip(zip)
	if prefix, ok := strings.CutSuffix(p, "*"); ok {
		if strings.HasPrefix(z, prefix) {
			return 1
		}
		return -1
	}
	if p == z {
		return 2
	}
	return -1
}

func normalizeZip(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
