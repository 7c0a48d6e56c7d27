package units

// Convert converts value from one unit to another. Units of different
// families (mass, volume, count) and unknown units are not convertible and
// the value is returned unchanged.
func Convert(from, to Unit, value float64) float64 {
	if from == to {
		return value
	}
	if !Convertible(from, to) {
		return value
	}
	return FromBase(to, ToBase(from, value))
}

// Convertible reports whether Convert applies a factor between from and to.
func Convertible(from, to Unit) bool {
	if from == to {
		return true
	}
	f := from.Family()
	if f != FamilyMass && f != FamilyVolume {
		return false
	}
	return f == to.Family()
}

// ToBase normalizes value expressed in u into the family base unit (G or ML).
// Count and unknown units are returned unchanged.
func ToBase(u Unit, value float64) float64 {
	info, ok := table[u]
	if !ok || info.factorToBase == 0 {
		return value
	}
	return value * info.factorToBase
}

// FromBase converts a base-unit value into u.
func FromBase(u Unit, value float64) float64 {
	info, ok := table[u]
	if !ok || info.factorToBase == 0 {
		return value
	}
	return value / info.factorToBase
}
