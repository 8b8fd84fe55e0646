package imop

// BlendMode mixes the layer color with the backdrop color before composition.
type BlendMode string

// Supported blend modes.
const (
	Darken   BlendMode = "darken"
	Lighten  BlendMode = "lighten"
	Multiply BlendMode = "multiply"
	Screen   BlendMode = "screen"
	Overlay  BlendMode = "overlay"
)

func (m BlendMode) valid() bool {
	switch m {
	case Darken, Lighten, Multiply, Screen, Overlay:
		return true
	}
	return false
}

// mix returns the blended value of the backdrop channel cb and the source channel cs.
func (m BlendMode) mix(cb, cs float64) float64 {
	switch m {
	case Darken:
		return min(cb, cs)
	case Lighten:
		return max(cb, cs)
	case Multiply:
		return cb * cs
	case Screen:
		return cb + cs - cb*cs
	case Overlay:
		if cb <= 0.5 {
			return Multiply.mix(cs, 2*cb)
		}
		return Screen.mix(cs, 2*cb-1)
	}
	return cs
}
