// Package fits reads just enough of a FITS primary header to validate a file
// and populate job metadata. The pixel array is never interpreted here; it is
// handed opaquely to the calibration algorithms.
package fits

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

const (
	// BlockSize is the FITS logical record length.
	BlockSize = 2880
	// CardSize is the length of one header card.
	CardSize = 80
	// maxHeaderBlocks caps how far the parser scans for END.
	maxHeaderBlocks = 36
)

// Header holds the primary-header cards keyed by keyword.
type Header struct {
	cards map[string]string
	order []string
}

// Metadata are the only header fields the pipeline consumes.
type Metadata struct {
	Instrument   string
	Filter       string
	Telescope    string
	ExposureSecs float64
	Axes         []int
}

// ParseHeader scans the primary header of a FITS byte blob. It validates the
// SIMPLE card and stops at END. Anything structurally off is a validation
// error; the caller never retries those.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < BlockSize {
		return nil, apperr.Validation(fmt.Sprintf("file too short for a FITS header: %d bytes", len(data)), nil)
	}
	h := &Header{cards: map[string]string{}}

	limit := len(data) / BlockSize
	if limit > maxHeaderBlocks {
		limit = maxHeaderBlocks
	}
	for block := 0; block < limit; block++ {
		for card := 0; card < BlockSize/CardSize; card++ {
			off := block*BlockSize + card*CardSize
			raw := string(data[off : off+CardSize])
			keyword := strings.TrimSpace(raw[:8])
			if keyword == "END" {
				if err := h.validate(); err != nil {
					return nil, err
				}
				return h, nil
			}
			if keyword == "" || keyword == "COMMENT" || keyword == "HISTORY" {
				continue
			}
			value := parseCardValue(raw)
			if _, seen := h.cards[keyword]; !seen {
				h.order = append(h.order, keyword)
			}
			h.cards[keyword] = value
		}
	}
	return nil, apperr.Validation("FITS header has no END card", nil)
}

func (h *Header) validate() error {
	simple, ok := h.cards["SIMPLE"]
	if !ok || simple != "T" {
		return apperr.Validation("missing or false SIMPLE card", nil)
	}
	if _, ok := h.cards["NAXIS"]; !ok {
		return apperr.Validation("missing NAXIS card", nil)
	}
	return nil
}

// parseCardValue extracts the value field of a "KEYWORD = value / comment"
// card. Quoted strings lose their quotes; trailing comments are dropped.
func parseCardValue(raw string) string {
	if len(raw) < 10 || raw[8] != '=' {
		return ""
	}
	v := raw[10:]
	if i := strings.Index(v, "'"); i >= 0 {
		if j := strings.Index(v[i+1:], "'"); j >= 0 {
			return strings.TrimSpace(v[i+1 : i+1+j])
		}
	}
	if i := strings.Index(v, "/"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// Get returns a card value and whether it was present.
func (h *Header) Get(keyword string) (string, bool) {
	v, ok := h.cards[strings.ToUpper(strings.TrimSpace(keyword))]
	return v, ok
}

// Float returns a card parsed as float64, or def when absent/unparseable.
func (h *Header) Float(keyword string, def float64) float64 {
	v, ok := h.Get(keyword)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Int returns a card parsed as int, or def when absent/unparseable.
func (h *Header) Int(keyword string, def int) int {
	v, ok := h.Get(keyword)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Metadata extracts the pipeline-relevant fields.
func (h *Header) Metadata() Metadata {
	md := Metadata{
		ExposureSecs: h.Float("EXPTIME", 0),
	}
	md.Instrument, _ = h.Get("INSTRUME")
	md.Filter, _ = h.Get("FILTER")
	md.Telescope, _ = h.Get("TELESCOP")
	naxis := h.Int("NAXIS", 0)
	for i := 1; i <= naxis; i++ {
		md.Axes = append(md.Axes, h.Int(fmt.Sprintf("NAXIS%d", i), 0))
	}
	return md
}

// DataOffset returns the byte offset of the primary data unit, i.e. the end
// of the header block containing END. Returns 0 when no END card is found;
// callers should have run ParseHeader first.
func DataOffset(data []byte) int {
	limit := len(data) / BlockSize
	if limit > maxHeaderBlocks {
		limit = maxHeaderBlocks
	}
	for block := 0; block < limit; block++ {
		for card := 0; card < BlockSize/CardSize; card++ {
			off := block*BlockSize + card*CardSize
			keyword := strings.TrimSpace(string(data[off : off+8]))
			if keyword == "END" {
				return (block + 1) * BlockSize
			}
		}
	}
	return 0
}
