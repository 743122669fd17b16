package config

import (
	"fmt"
	"os"

	"github.com/tournevent/fulfillment/pkg/shipper"
	"go.yaml.in/yaml/v4"
)

// Profiles holds the per-deployment data that does not fit environment
// variables: named packaging options and default addresses per carrier.
type Profiles struct {
	Packaging map[string]Packaging      `yaml:"packaging"`
	Carriers  map[string]CarrierProfile `yaml:"carriers"`
}

type Packaging struct {
	Length float64 `yaml:"length"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Weight float64 `yaml:"weight"`
}

type CarrierProfile struct {
	Sender    Address `yaml:"sender"`
	Recipient Address `yaml:"recipient"`
}

type Address struct {
	Name        string `yaml:"name"`
	Company     string `yaml:"company"`
	Line1       string `yaml:"line1"`
	Line2       string `yaml:"line2"`
	City        string `yaml:"city"`
	StateCode   string `yaml:"state_code"`
	PostalCode  string `yaml:"postal_code"`
	CountryCode string `yaml:"country_code"`
	Phone       string `yaml:"phone"`
	Email       string `yaml:"email"`
}

// Shipper converts a to the carrier-facing form.
func (a Address) Shipper() shipper.Address {
	return shipper.Address{
		Name:        a.Name,
		Company:     a.Company,
		Line1:       a.Line1,
		Line2:       a.Line2,
		City:        a.City,
		StateCode:   a.StateCode,
		PostalCode:  a.PostalCode,
		CountryCode: a.CountryCode,
		Phone:       a.Phone,
		Email:       a.Email,
	}
}

// LoadProfiles reads the profile file. An empty path yields empty profiles.
func LoadProfiles(filename string) (*Profiles, error) {
	p := &Profiles{}
	if filename == "" {
		return p, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	for name, pk := range p.Packaging {
		if pk.Length <= 0 || pk.Width <= 0 || pk.Height <= 0 {
			return nil, fmt.Errorf("packaging %q: dimensions must be positive", name)
		}
	}
	return p, nil
}

// PackagingOption returns the named packaging option, or nil.
func (p *Profiles) PackagingOption(name string) *shipper.PackagingOption {
	pk, ok := p.Packaging[name]
	if !ok {
		return nil
	}
	return &shipper.PackagingOption{Name: name, Length: pk.Length, Width: pk.Width, Height: pk.Height, Weight: pk.Weight}
}

// Carrier returns the profile of a carrier; missing carriers get a zero
// profile.
func (p *Profiles) Carrier(name string) CarrierProfile {
	return p.Carriers[name]
}
