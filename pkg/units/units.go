// Package units converts store weights and dimensions into the units each
// carrier requires.
package units

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// WeightUnit is a weight measurement keyword.
type WeightUnit string

const (
	Gram     WeightUnit = "g"
	Kilogram WeightUnit = "kg"
	Pound    WeightUnit = "lb"
	Ounce    WeightUnit = "oz"
)

// DimensionUnit is a length measurement keyword.
type DimensionUnit string

const (
	Millimetre DimensionUnit = "mm"
	Centimetre DimensionUnit = "cm"
	Metre      DimensionUnit = "m"
	Inch       DimensionUnit = "in"
)

// Rounding selects how a converted value is aligned to a step.
type Rounding int

const (
	RoundUp Rounding = iota
	RoundDown
	RoundNone
)

// ErrUnknownUnit is returned for a unit keyword without a conversion factor.
var ErrUnknownUnit = errors.New("unknown unit")

// kilograms per unit
var weightFactors = map[WeightUnit]float64{
	Gram:     0.001,
	Kilogram: 1,
	Pound:    0.45359237,
	Ounce:    0.028349523125,
}

// millimetres per unit
var dimensionFactors = map[DimensionUnit]float64{
	Millimetre: 1,
	Centimetre: 10,
	Metre:      1000,
	Inch:       25.4,
}

// ParseWeightUnit normalizes a weight keyword.
func ParseWeightUnit(s string) (WeightUnit, error) {
	u := WeightUnit(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := weightFactors[u]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// ParseDimensionUnit normalizes a dimension keyword.
func ParseDimensionUnit(s string) (DimensionUnit, error) {
	u := DimensionUnit(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := dimensionFactors[u]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// Policy is a carrier's unit contract: the keywords it expects, the
// granularity it accepts and the bounds it enforces.
type Policy struct {
	WeightUnit    WeightUnit
	DimensionUnit DimensionUnit

	// WeightStep is the smallest weight increment the carrier accepts.
	// Zero disables step alignment.
	WeightStep     float64
	WeightRounding Rounding
	MinWeight      float64
	// MaxWeight is the per-parcel limit. Zero means unlimited.
	MaxWeight float64

	DimensionStep     float64
	DimensionRounding Rounding
	MinDimension      float64
	// MaxLength is the per-parcel longest-side limit. Zero means unlimited.
	MaxLength float64
}

// Base describes the store's configured measurement units.
type Base struct {
	Weight    WeightUnit
	Dimension DimensionUnit
}

// ConvertWeightValue converts a weight between units without rounding.
func ConvertWeightValue(value float64, from, to WeightUnit) (float64, error) {
	f, ok := weightFactors[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	t, ok := weightFactors[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	return value * f / t, nil
}

// ConvertDimensionValue converts a length between units without rounding.
func ConvertDimensionValue(value float64, from, to DimensionUnit) (float64, error) {
	f, ok := dimensionFactors[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	t, ok := dimensionFactors[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	return value * f / t, nil
}

// ConvertWeight converts a store weight into the policy unit, aligns it to
// the policy step and clamps it to the policy bounds. A zero weight stays
// zero when freeShipping is set.
func (p Policy) ConvertWeight(value float64, from WeightUnit, freeShipping bool) (float64, error) {
	v, err := ConvertWeightValue(value, from, p.WeightUnit)
	if err != nil {
		return 0, err
	}
	if v <= 0 && freeShipping {
		return 0, nil
	}
	v = align(v, p.WeightStep, p.WeightRounding)
	return p.clampWeight(v), nil
}

// ConvertDimension converts a store length into the policy unit, rounds it
// up to the policy step and clamps it to the policy minimum.
func (p Policy) ConvertDimension(value float64, from DimensionUnit) (float64, error) {
	v, err := ConvertDimensionValue(value, from, p.DimensionUnit)
	if err != nil {
		return 0, err
	}
	step := p.DimensionStep
	if step == 0 {
		step = 1
	}
	v = align(v, step, p.DimensionRounding)
	if v < p.MinDimension {
		v = p.MinDimension
	}
	return v, nil
}

func (p Policy) clampWeight(v float64) float64 {
	if v < p.MinWeight {
		v = p.MinWeight
	}
	return v
}

// align rounds v to a multiple of step. The epsilon keeps values that are
// already on a step, such as 0.3 kg from 300 g, from being pushed up.
func align(v, step float64, r Rounding) float64 {
	if step <= 0 || r == RoundNone {
		return v
	}
	const eps = 1e-9
	n := v / step
	switch r {
	case RoundDown:
		n = math.Floor(n + eps)
	default:
		n = math.Ceil(n - eps)
	}
	return roundTo(n*step, step)
}

// roundTo strips binary noise left by n*step for decimal steps.
func roundTo(v, step float64) float64 {
	decimals := 0
	for s := step; s < 1 && decimals < 9; s *= 10 {
		decimals++
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
