package tidestore

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// Direction tells a Transform whether a page is about to be written to
// disk (Encode) or was just read from disk/the mapping (Decode).
type Direction int

const (
	directionEncode Direction = iota
	directionDecode
)

// Transform is the opaque hook applied to every page on its way to and from disk:
// transform(page_bytes, page_num, direction). Encryption and compaction of
// page contents at rest are modeled purely through this interface; the
// core never knows whether a page is ciphered.
type Transform func(page []byte, pageNum uint64, dir Direction) error

// newAESCTRTransform builds a Transform that XORs every page against an
// AES-256-CTR keystream, using page_num as the counter's tweak so that two
// pages with identical plaintext never produce identical ciphertext. This
// is a minimal stdlib implementation of the hook: no pack example wires a
// crypto library for page-level encryption, and this stays an external,
// swappable collaborator, so crypto/aes + crypto/cipher is the
// appropriately small footprint (see DESIGN.md).
func newAESCTRTransform(key []byte) (Transform, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapErr("newAESCTRTransform", KindInvalidArgument, err)
	}
	return func(page []byte, pageNum uint64, _ Direction) error {
		var iv [aes.BlockSize]byte
		binary.LittleEndian.PutUint64(iv[:8], pageNum)
		stream := cipher.NewCTR(block, iv[:])
		stream.XORKeyStream(page, page)
		return nil
	}, nil
}

func (db *DB) hasTransform() bool {
	return db.transformFn != nil
}

// transform runs the configured Transform, if any, in place over page.
func (db *DB) transform(page []byte, pageNum uint64, dir Direction) error {
	if db.transformFn == nil {
		return nil
	}
	if err := db.transformFn(page, pageNum, dir); err != nil {
		return wrapErr("transform", KindIO, err)
	}
	return nil
}
