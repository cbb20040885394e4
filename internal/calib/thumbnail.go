package calib

import (
	"bytes"
	"math"

	"github.com/fogleman/gg"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

const thumbnailSize = 256

// RenderThumbnail draws a grayscale PNG preview of a calibrated frame's
// pixel payload. The frame is treated as a square raster; payloads that do
// not fill the square are padded with black.
func RenderThumbnail(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, apperr.Ef(apperr.KindValidation, nil, "empty frame")
	}

	side := int(math.Ceil(math.Sqrt(float64(len(frame)))))
	if side < 1 {
		side = 1
	}

	dc := gg.NewContext(thumbnailSize, thumbnailSize)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	cell := float64(thumbnailSize) / float64(side)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			idx := y*side + x
			if idx >= len(frame) {
				continue
			}
			v := float64(frame[idx]) / 255.0
			dc.SetRGB(v, v, v)
			dc.DrawRectangle(float64(x)*cell, float64(y)*cell, cell, cell)
			dc.Fill()
		}
	}

	// Thin border so previews read as frames in the UI.
	dc.SetRGB(0.3, 0.3, 0.3)
	dc.SetLineWidth(2)
	dc.DrawRectangle(1, 1, thumbnailSize-2, thumbnailSize-2)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, apperr.E(apperr.KindStore, "encode thumbnail", err)
	}
	return buf.Bytes(), nil
}
