// Package units converts quantities between the measurement units used by
// products and recipe ingredients.
package units

// Unit enumerates supported measurement units.
type Unit string

const (
	// Kilogram is 1000 grams.
	Kilogram Unit = "KG"
	// Gram is the mass base unit.
	Gram Unit = "G"
	// Milligram is 0.001 grams.
	Milligram Unit = "MG"
	// Liter is 1000 milliliters.
	Liter Unit = "L"
	// Milliliter is the volume base unit.
	Milliliter Unit = "ML"
	// Each counts discrete items.
	Each Unit = "UN"
)

// Family groups units that convert through a fixed factor.
type Family string

const (
	FamilyUnknown Family = ""
	FamilyMass    Family = "mass"
	FamilyVolume  Family = "volume"
	FamilyCount   Family = "count"
)

type unitInfo struct {
	family       Family
	factorToBase float64
}

// table is consulted by every conversion; count has no base factor.
var table = map[Unit]unitInfo{
	Kilogram:   {family: FamilyMass, factorToBase: 1000},
	Gram:       {family: FamilyMass, factorToBase: 1},
	Milligram:  {family: FamilyMass, factorToBase: 0.001},
	Liter:      {family: FamilyVolume, factorToBase: 1000},
	Milliliter: {family: FamilyVolume, factorToBase: 1},
	Each:       {family: FamilyCount},
}

// All returns the supported units in display order.
func All() []Unit {
	return []Unit{Kilogram, Gram, Milligram, Liter, Milliliter, Each}
}

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	_, ok := table[u]
	return ok
}

// Family returns the family of u, FamilyUnknown for unknown values.
func (u Unit) Family() Family {
	return table[u].family
}

// IsCount reports whether u is the count unit.
func (u Unit) IsCount() bool {
	return u.Family() == FamilyCount
}

// Measurable reports whether u belongs to the mass or volume family.
func (u Unit) Measurable() bool {
	f := u.Family()
	return f == FamilyMass || f == FamilyVolume
}

// BaseUnit returns the base unit of u's family. Count and unknown units are
// their own base.
func (u Unit) BaseUnit() Unit {
	switch u.Family() {
	case FamilyMass:
		return Gram
	case FamilyVolume:
		return Milliliter
	default:
		return u
	}
}

// BulkUnit returns the unit bulk quantities of a family are quoted in: KG for
// mass and L for volume. Weight-per-unit factors are expressed in it.
func BulkUnit(f Family) Unit {
	switch f {
	case FamilyMass:
		return Kilogram
	case FamilyVolume:
		return Liter
	default:
		return ""
	}
}

func (u Unit) String() string {
	return string(u)
}
