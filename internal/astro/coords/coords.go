// Package coords provides the angular math used by the catalog engine and
// the calibration pipeline. All functions are pure and total; positions are
// ICRS/J2000 equatorial degrees.
package coords

import "math"

const (
	// ArcsecPerDegree is the arcsecond/degree conversion factor.
	ArcsecPerDegree = 3600.0
	// DegreesPerHour converts right ascension hours to degrees.
	DegreesPerHour = 15.0
	// MaxSeparationArcsec is the antipodal bound (180 degrees).
	MaxSeparationArcsec = 180.0 * ArcsecPerDegree
)

// SeparationArcsec returns the great-circle distance between two positions
// in arcseconds, using the spherical law of cosines. The cosine argument is
// clamped to [-1, 1] so identical and antipodal pairs never fall outside the
// acos domain.
func SeparationArcsec(ra1, dec1, ra2, dec2 float64) float64 {
	ra1r := ra1 * math.Pi / 180
	dec1r := dec1 * math.Pi / 180
	ra2r := ra2 * math.Pi / 180
	dec2r := dec2 * math.Pi / 180

	cosSep := math.Sin(dec1r)*math.Sin(dec2r) +
		math.Cos(dec1r)*math.Cos(dec2r)*math.Cos(ra1r-ra2r)
	if cosSep > 1 {
		cosSep = 1
	} else if cosSep < -1 {
		cosSep = -1
	}
	return math.Acos(cosSep) * 180 / math.Pi * ArcsecPerDegree
}

func DegreesToHours(deg float64) float64 { return deg / DegreesPerHour }

func HoursToDegrees(hours float64) float64 { return hours * DegreesPerHour }

func DegreesToArcseconds(deg float64) float64 { return deg * ArcsecPerDegree }

func ArcsecondsToDegrees(arcsec float64) float64 { return arcsec / ArcsecPerDegree }

// NormalizeRA maps any right ascension into [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra
}

// ClampDec restricts declination to [-90, 90].
func ClampDec(dec float64) float64 {
	if dec > 90 {
		return 90
	}
	if dec < -90 {
		return -90
	}
	return dec
}

// IsValidCoordinate reports whether (ra, dec) lies inside the accepted
// equatorial ranges. RA 360 is accepted here; storage normalizes it to 0.
func IsValidCoordinate(ra, dec float64) bool {
	return ra >= 0 && ra <= 360 && dec >= -90 && dec <= 90
}

// Airmass approximates the relative optical path length for a target at the
// given altitude in degrees. At or below the horizon the airmass diverges.
func Airmass(altitudeDeg float64) float64 {
	if altitudeDeg <= 0 {
		return math.Inf(1)
	}
	zenith := (90 - altitudeDeg) * math.Pi / 180
	return 1 / math.Cos(zenith)
}

// JulianDate converts a Gregorian calendar date to a Julian date at 0h UT.
func JulianDate(year, month int, day float64) float64 {
	y := year
	m := month
	if m <= 2 {
		y--
		m += 12
	}
	a := y / 100
	b := 2 - a + a/4
	return math.Floor(365.25*float64(y+4716)) +
		math.Floor(30.6001*float64(m+1)) +
		day + float64(b) - 1524.5
}

// SphericalPoint is the unit vector for a catalog position, precomputed at
// ingest so candidate filtering avoids repeated trigonometry.
type SphericalPoint struct {
	X float64
	Y float64
	Z float64
}

// UnitVector converts (ra, dec) in degrees to a SphericalPoint.
func UnitVector(ra, dec float64) SphericalPoint {
	rar := ra * math.Pi / 180
	decr := dec * math.Pi / 180
	return SphericalPoint{
		X: math.Cos(decr) * math.Cos(rar),
		Y: math.Cos(decr) * math.Sin(rar),
		Z: math.Sin(decr),
	}
}
