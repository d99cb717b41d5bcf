package coordinator

import (
	"DeepReplay/internal/engine"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

const genesisDigestSeed = "DeepReplay:genesis:v1"

// DigestChain links the effects of every committed program:
// digest[N] = SHA-256(digest[N-1] || N || effects digest).
type DigestChain struct {
	seq  uint64
	prev [32]byte
}

func NewDigestChain() *DigestChain {
	return &DigestChain{prev: sha256.Sum256([]byte(genesisDigestSeed))}
}

// Append folds one effects set into the chain and returns the new tip.
func (d *DigestChain) Append(fx *engine.Effects) [32]byte {
	d.seq++
	h := sha256.New()
	h.Write(d.prev[:])
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], d.seq)
	h.Write(seq[:])
	h.Write(effectsDigest(fx))

	copy(d.prev[:], h.Sum(nil))
	return d.prev
}

// Tip returns the current head and its sequence number.
func (d *DigestChain) Tip() (uint64, string) {
	return d.seq, hex.EncodeToString(d.prev[:])
}

// effectsDigest hashes object ids, versions and contents in id order so
// the digest does not depend on the order effects were reported in.
func effectsDigest(fx *engine.Effects) []byte {
	h := sha256.New()
	if fx == nil {
		return h.Sum(nil)
	}
	objs := make([]engine.Object, 0, len(fx.Created)+len(fx.Mutated))
	objs = append(objs, fx.Created...)
	objs = append(objs, fx.Mutated...)
	sort.Slice(objs, func(i, j int) bool {
		return string(objs[i].ID[:]) < string(objs[j].ID[:])
	})
	var buf [8]byte
	for _, o := range objs {
		h.Write(o.ID[:])
		binary.LittleEndian.PutUint64(buf[:], o.Version)
		h.Write(buf[:])
		h.Write(o.Contents)
	}
	children := append([]engine.ChildField(nil), fx.ChildFields...)
	sort.Slice(children, func(i, j int) bool {
		return string(children[i].ID[:]) < string(children[j].ID[:])
	})
	for _, c := range children {
		h.Write(c.Parent[:])
		h.Write(c.ID[:])
		h.Write(c.Contents)
	}
	for _, id := range fx.Deleted {
		h.Write(id[:])
	}
	return h.Sum(nil)
}
