// Package hashing computes 64-bit difference-hash fingerprints and runs
// the parallel fingerprinting pipeline over file sets.
package hashing

import (
	"image"
	"math/bits"

	"github.com/disintegration/imaging"
)

// Version identifies the fingerprint algorithm. Cached fingerprints carry
// the version that produced them; rows with any other version are ignored.
// Bump this whenever the grid size, the comparison direction or the bit
// packing changes.
const Version = 1

// Fingerprint grid: 9 columns give 8 horizontal comparisons per row,
// 8 rows give 64 bits total.
const (
	gridW = 9
	gridH = 8
)

// ImageHash pairs a file path with its computed fingerprint.
type ImageHash struct {
	Path string
	Hash uint64
}

// Fingerprint computes the difference hash of an image: grayscale, shrink
// to a 9x8 grid, then set one bit per adjacent horizontal pixel pair
// (1 when the right pixel is brighter than the left). Bits are packed
// row-major, left to right, most significant bit first. Comparison happens
// on 8-bit luma values, so identical pixels always produce identical bits.
func Fingerprint(img image.Image) uint64 {
	small := imaging.Resize(imaging.Grayscale(img), gridW, gridH, imaging.Box)

	var h uint64
	bit := uint64(1) << 63
	for y := 0; y < gridH; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < gridW-1; x++ {
			left := row[x*4]
			right := row[(x+1)*4]
			if right > left {
				h |= bit
			}
			bit >>= 1
		}
	}
	return h
}

// Distance returns the Hamming distance between two fingerprints, in [0, 64].
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
