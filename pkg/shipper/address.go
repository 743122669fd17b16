package shipper

import "strings"

// AddressField names an address field a carrier may require.
type AddressField string

const (
	FieldName       AddressField = "name"
	FieldLine1      AddressField = "line1"
	FieldCity       AddressField = "city"
	FieldState      AddressField = "state"
	FieldPostalCode AddressField = "postal_code"
	FieldCountry    AddressField = "country"
	FieldPhone      AddressField = "phone"
	FieldEmail      AddressField = "email"
)

func (a *Address) field(f AddressField) *string {
	switch f {
	case FieldName:
		return &a.Name
	case FieldLine1:
		return &a.Line1
	case FieldCity:
		return &a.City
	case FieldState:
		return &a.StateCode
	case FieldPostalCode:
		return &a.PostalCode
	case FieldCountry:
		return &a.CountryCode
	case FieldPhone:
		return &a.Phone
	case FieldEmail:
		return &a.Email
	}
	return nil
}

// Missing returns the fields that are blank.
func (a Address) Missing(fields ...AddressField) []AddressField {
	var out []AddressField
	for _, f := range fields {
		if p := a.field(f); p != nil && strings.TrimSpace(*p) == "" {
			out = append(out, f)
		}
	}
	return out
}

// WithFallback fills each blank required field of addr from def.
func WithFallback(addr, def Address, fields ...AddressField) Address {
	for _, f := range addr.Missing(fields...) {
		*addr.field(f) = *def.field(f)
		if f == FieldCountry && addr.CountryID == 0 {
			addr.CountryID = def.CountryID
		}
		if f == FieldState && addr.StateProvinceID == 0 {
			addr.StateProvinceID = def.StateProvinceID
		}
	}
	return addr
}
