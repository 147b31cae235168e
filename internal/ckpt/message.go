package ckpt

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"ckpt-go/internal/model"
)

// signingDomain separates checkpoint signatures from any other use of the key.
// The version suffix allows the message layout to change later.
const signingDomain = "ckpt/checkpoint/v1"

// SigningMessage returns the bytes a checkpoint signature covers:
//
//	SHA256(domain || 0x00 || id || project || created_at || description || kind
//	       || SHA256(snapshot_data) || SHA256(manifest))
//
// Every variable-length field is length-prefixed so field boundaries cannot
// be shifted. Covering the manifest digest authenticates the file set as
// well as the table payload.
func SigningMessage(cp *model.Checkpoint) []byte {
	h := sha256.New()
	h.Write([]byte(signingDomain))
	h.Write([]byte{0x00})

	writeField(h, []byte(cp.ID))
	writeField(h, []byte(cp.ProjectID))
	writeInt(h, cp.CreatedAt.UnixNano())
	writeField(h, []byte(cp.Description))
	writeField(h, []byte(cp.Kind))

	snap := sha256.Sum256(cp.SnapshotData)
	writeField(h, snap[:])
	man := ManifestDigest(cp.Manifest)
	writeField(h, man[:])

	return h.Sum(nil)
}

// ManifestDigest hashes a manifest in path order.
func ManifestDigest(m model.Manifest) [32]byte {
	h := sha256.New()
	writeInt(h, int64(len(m)))
	for _, e := range m {
		writeField(h, []byte(e.Path))
		writeField(h, []byte(e.Digest))
		writeInt(h, e.Size)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeField(h hash.Hash, b []byte) {
	writeInt(h, int64(len(b)))
	h.Write(b)
}

func writeInt(h hash.Hash, n int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
