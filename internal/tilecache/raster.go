package tilecache

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// Raster is a decoded 256x256 elevation tile in metres.
type Raster struct {
	elev []float32
}

// At returns the elevation at a pixel offset.
func (r *Raster) At(px, py int) float64 {
	return float64(r.elev[py*TileSize+px])
}

// DecodeTerrarium converts one Terrarium-encoded pixel to metres.
func DecodeTerrarium(r, g, b uint8) float64 {
	return float64(r)*256 + float64(g) + float64(b)/256 - 32768
}

// DecodeRaster decodes PNG bytes into a Raster. Anything that is not a
// 256x256 image is rejected.
func DecodeRaster(data []byte) (*Raster, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile png: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != TileSize || bounds.Dy() != TileSize {
		return nil, fmt.Errorf("decode tile png: want %dx%d, got %dx%d", TileSize, TileSize, bounds.Dx(), bounds.Dy())
	}

	r := &Raster{elev: make([]float32, TileSize*TileSize)}
	switch src := img.(type) {
	case *image.NRGBA:
		fillFromPix(r, src.Pix, src.Stride)
	case *image.RGBA:
		// Opaque tiles: premultiplied and straight alpha agree.
		fillFromPix(r, src.Pix, src.Stride)
	default:
		for y := range TileSize {
			for x := range TileSize {
				cr, cg, cb, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				r.elev[y*TileSize+x] = float32(DecodeTerrarium(uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)))
			}
		}
	}
	return r, nil
}

func fillFromPix(r *Raster, pix []uint8, stride int) {
	for y := range TileSize {
		row := pix[y*stride:]
		for x := range TileSize {
			i := x * 4
			r.elev[y*TileSize+x] = float32(DecodeTerrarium(row[i], row[i+1], row[i+2]))
		}
	}
}
