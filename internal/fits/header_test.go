package fits

import (
	"fmt"
	"strings"
	"testing"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

func card(keyword, value, comment string) string {
	c := fmt.Sprintf("%-8s= %-20s", keyword, value)
	if comment != "" {
		c += " / " + comment
	}
	if len(c) > CardSize {
		c = c[:CardSize]
	}
	return c + strings.Repeat(" ", CardSize-len(c))
}

// TestBlob builds a minimal single-block FITS header for tests.
func testBlob(tb testing.TB, cards ...string) []byte {
	tb.Helper()
	var b strings.Builder
	for _, c := range cards {
		b.WriteString(c)
	}
	b.WriteString("END" + strings.Repeat(" ", CardSize-3))
	for b.Len()%BlockSize != 0 {
		b.WriteString(strings.Repeat(" ", CardSize))
	}
	return []byte(b.String())
}

func TestParseHeader(t *testing.T) {
	blob := testBlob(t,
		card("SIMPLE", "T", "conforms to FITS standard"),
		card("BITPIX", "16", ""),
		card("NAXIS", "2", ""),
		card("NAXIS1", "1024", ""),
		card("NAXIS2", "768", ""),
		card("INSTRUME", "'WFC3    '", "instrument"),
		card("FILTER", "'r       '", ""),
		card("TELESCOP", "'MAUNA-1 '", ""),
		card("EXPTIME", "300.5", "seconds"),
	)

	h, err := ParseHeader(blob)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	md := h.Metadata()
	if md.Instrument != "WFC3" || md.Filter != "r" || md.Telescope != "MAUNA-1" {
		t.Fatalf("metadata strings: %+v", md)
	}
	if md.ExposureSecs != 300.5 {
		t.Fatalf("exptime: got %v", md.ExposureSecs)
	}
	if len(md.Axes) != 2 || md.Axes[0] != 1024 || md.Axes[1] != 768 {
		t.Fatalf("axes: %v", md.Axes)
	}
}

func TestParseHeaderRejectsNonFITS(t *testing.T) {
	if _, err := ParseHeader([]byte("not a fits file")); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("short blob: want validation, got %v", err)
	}

	blob := testBlob(t, card("BITPIX", "16", ""), card("NAXIS", "0", ""))
	if _, err := ParseHeader(blob); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("missing SIMPLE: want validation, got %v", err)
	}
}

func TestParseHeaderMissingEnd(t *testing.T) {
	blob := make([]byte, BlockSize)
	copy(blob, card("SIMPLE", "T", ""))
	for i := CardSize; i < BlockSize; i++ {
		blob[i] = ' '
	}
	// Blank cards but no END anywhere.
	if _, err := ParseHeader(blob); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("no END: want validation, got %v", err)
	}
}
