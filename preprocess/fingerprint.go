package preprocess

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is a content hash of a frame used to detect repeated frames
// from a stalled source.
type Fingerprint [blake2b.Size256]byte

// FingerprintOf hashes the frame dimensions and pixels with BLAKE2b-256.
func FingerprintOf(f *FrameBuffer) Fingerprint {
	h, _ := blake2b.New256(nil) // only fails for oversized keys

	var dims [16]byte
	binary.LittleEndian.PutUint64(dims[0:8], uint64(f.Width))
	binary.LittleEndian.PutUint64(dims[8:16], uint64(f.Height))
	h.Write(dims[:])
	h.Write(f.Pix)

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
