package units

import "math"

// Item is one shippable line expressed in the store's base units.
type Item struct {
	Weight       float64
	Length       float64
	Width        float64
	Height       float64
	Quantity     int
	FreeShipping bool
}

// Box is a predefined packaging profile in base units.
type Box struct {
	Length float64
	Width  float64
	Height float64
	Weight float64
}

// Parcel is a package expressed in a carrier's units.
type Parcel struct {
	Weight float64
	Length float64
	Width  float64
	Height float64
}

// Volume returns length × width × height in the carrier's dimension unit cubed.
func (p Parcel) Volume() float64 {
	return p.Length * p.Width * p.Height
}

// BuildParcel combines items into one parcel in the policy units. When box
// is set its dimensions replace the item dimensions and its tare weight is
// added. Items flagged free shipping do not contribute weight; when every
// item ships free the weight is preserved as zero.
func BuildParcel(items []Item, box *Box, base Base, p Policy) (Parcel, error) {
	var weight, length, width, height float64
	allFree := len(items) > 0
	for _, it := range items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		if !it.FreeShipping {
			allFree = false
			weight += it.Weight * float64(qty)
		}
		length = math.Max(length, it.Length)
		width = math.Max(width, it.Width)
		height += it.Height * float64(qty)
	}
	if box != nil {
		length, width, height = box.Length, box.Width, box.Height
		if !allFree {
			weight += box.Weight
		}
	}

	var out Parcel
	var err error
	if out.Weight, err = p.ConvertWeight(weight, base.Weight, allFree); err != nil {
		return Parcel{}, err
	}
	if out.Length, err = p.ConvertDimension(length, base.Dimension); err != nil {
		return Parcel{}, err
	}
	if out.Width, err = p.ConvertDimension(width, base.Dimension); err != nil {
		return Parcel{}, err
	}
	if out.Height, err = p.ConvertDimension(height, base.Dimension); err != nil {
		return Parcel{}, err
	}
	return out, nil
}

// Split divides a parcel that exceeds the policy per-parcel limits into N
// roughly equal parcels. The length limit applies to the longest side,
// whichever field holds it, and an oversized parcel is cut across that
// side. A parcel split by weight alone is cut across its height. A parcel
// within limits is returned unchanged.
func Split(parcel Parcel, p Policy) []Parcel {
	n := 1
	if p.MaxWeight > 0 && parcel.Weight > p.MaxWeight {
		n = int(math.Ceil(parcel.Weight / p.MaxWeight))
	}
	longest := math.Max(parcel.Length, math.Max(parcel.Width, parcel.Height))
	oversized := p.MaxLength > 0 && longest > p.MaxLength
	if oversized {
		if m := int(math.Ceil(longest / p.MaxLength)); m > n {
			n = m
		}
	}
	if n <= 1 {
		return []Parcel{parcel}
	}

	step := p.DimensionStep
	if step == 0 {
		step = 1
	}
	cut := func(v float64) float64 {
		return math.Max(align(v/float64(n), step, RoundUp), p.MinDimension)
	}
	w := align(parcel.Weight/float64(n), p.WeightStep, p.WeightRounding)
	if p.MaxWeight > 0 && w > p.MaxWeight {
		w = p.MaxWeight
	}
	piece := parcel
	piece.Weight = p.clampWeight(w)
	switch {
	case !oversized:
		piece.Height = cut(parcel.Height)
	case parcel.Length == longest:
		piece.Length = cut(parcel.Length)
	case parcel.Width == longest:
		piece.Width = cut(parcel.Width)
	default:
		piece.Height = cut(parcel.Height)
	}

	out := make([]Parcel, n)
	for i := range out {
		out[i] = piece
	}
	return out
}

// TotalWeight sums parcel weights.
func TotalWeight(parcels []Parcel) float64 {
	var w float64
	for _, p := range parcels {
		w += p.Weight
	}
	return w
}
