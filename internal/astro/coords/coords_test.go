package coords

import (
	"math"
	"testing"
)

func TestSeparationSymmetry(t *testing.T) {
	pairs := [][4]float64{
		{10, 20, 30, 40},
		{0, 0, 180, 0},
		{359.9, -89, 0.1, 89},
		{123.456, 45.678, 124.0, 46.0},
	}
	for _, p := range pairs {
		ab := SeparationArcsec(p[0], p[1], p[2], p[3])
		ba := SeparationArcsec(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("separation not symmetric: %v vs %v for %v", ab, ba, p)
		}
		if ab < 0 || ab > MaxSeparationArcsec {
			t.Fatalf("separation out of bounds: %v for %v", ab, p)
		}
	}
}

func TestSeparationZero(t *testing.T) {
	positions := [][2]float64{{0, 0}, {123.456, 45.678}, {359.999, -89.999}}
	for _, p := range positions {
		if sep := SeparationArcsec(p[0], p[1], p[0], p[1]); sep > 1e-9 {
			t.Fatalf("self separation %v at %v", sep, p)
		}
	}
}

func TestSeparationAntipodal(t *testing.T) {
	sep := SeparationArcsec(0, 0, 180, 0)
	if math.Abs(sep-MaxSeparationArcsec) > 1e-6 {
		t.Fatalf("antipodal separation: got %v want %v", sep, MaxSeparationArcsec)
	}
}

func TestSeparationKnownBaseline(t *testing.T) {
	// One arcminute offset in declination is 60 arcsec exactly.
	sep := SeparationArcsec(10, 20, 10, 20+1.0/60)
	if math.Abs(sep-60) > 1e-6 {
		t.Fatalf("1 arcmin dec offset: got %v want 60", sep)
	}
}

func TestNormalizeRA(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{360, 0},
		{361, 1},
		{-10, 350},
		{725, 5},
		{123.456, 123.456},
	}
	for _, c := range cases {
		got := NormalizeRA(c.in)
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("NormalizeRA(%v): got %v want %v", c.in, got, c.want)
		}
		if got < 0 || got >= 360 {
			t.Fatalf("NormalizeRA(%v) = %v outside [0,360)", c.in, got)
		}
		// Congruence mod 360.
		diff := math.Mod(got-c.in, 360)
		if diff < 0 {
			diff += 360
		}
		if diff > 1e-9 && math.Abs(diff-360) > 1e-9 {
			t.Fatalf("NormalizeRA(%v) = %v not congruent mod 360", c.in, got)
		}
	}
}

func TestClampDec(t *testing.T) {
	if ClampDec(99) != 90 || ClampDec(-99) != -90 || ClampDec(12.5) != 12.5 {
		t.Fatalf("ClampDec boundaries wrong")
	}
}

func TestIsValidCoordinate(t *testing.T) {
	valid := [][2]float64{{0, 0}, {360, 90}, {180, -90}, {123.456, 45.678}}
	invalid := [][2]float64{{-0.1, 0}, {360.1, 0}, {0, 90.1}, {0, -90.1}}
	for _, p := range valid {
		if !IsValidCoordinate(p[0], p[1]) {
			t.Fatalf("expected valid: %v", p)
		}
	}
	for _, p := range invalid {
		if IsValidCoordinate(p[0], p[1]) {
			t.Fatalf("expected invalid: %v", p)
		}
	}
}

func TestConversions(t *testing.T) {
	if DegreesToHours(180) != 12 || HoursToDegrees(12) != 180 {
		t.Fatalf("hour conversions wrong")
	}
	if DegreesToArcseconds(1) != 3600 || ArcsecondsToDegrees(3600) != 1 {
		t.Fatalf("arcsecond conversions wrong")
	}
}

func TestAirmass(t *testing.T) {
	if am := Airmass(90); math.Abs(am-1) > 1e-9 {
		t.Fatalf("zenith airmass: got %v want 1", am)
	}
	if am := Airmass(30); math.Abs(am-2) > 1e-9 {
		t.Fatalf("30 deg altitude airmass: got %v want 2", am)
	}
	if am := Airmass(0); !math.IsInf(am, 1) {
		t.Fatalf("horizon airmass: got %v want +Inf", am)
	}
	if am := Airmass(-5); !math.IsInf(am, 1) {
		t.Fatalf("below-horizon airmass: got %v want +Inf", am)
	}
}

func TestJulianDate(t *testing.T) {
	// J2000.0 epoch: 2000-01-01 12:00 UT = JD 2451545.0.
	if jd := JulianDate(2000, 1, 1.5); math.Abs(jd-2451545.0) > 1e-6 {
		t.Fatalf("J2000: got %v", jd)
	}
	// Gregorian calendar adoption check: 1582-10-15 = JD 2299160.5.
	if jd := JulianDate(1582, 10, 15); math.Abs(jd-2299160.5) > 1e-6 {
		t.Fatalf("1582-10-15: got %v", jd)
	}
	// Month <= 2 branch.
	if jd := JulianDate(2024, 2, 29); math.Abs(jd-2460369.5) > 1e-6 {
		t.Fatalf("2024-02-29: got %v", jd)
	}
}

func TestUnitVector(t *testing.T) {
	p := UnitVector(123.456, 45.678)
	norm := math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
	if math.Abs(norm-1) > 1e-12 {
		t.Fatalf("unit vector norm: got %v", norm)
	}
	pole := UnitVector(0, 90)
	if math.Abs(pole.Z-1) > 1e-12 {
		t.Fatalf("pole vector: got %+v", pole)
	}
}
