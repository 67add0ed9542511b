// Package checksum implements the streaming CRC32C (Castagnoli) verification
// applied to every downloaded object, including the exact decoding of the
// store's base64-encoded integrity tag.
package checksum

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C is a streaming CRC32C accumulator. It implements io.Writer so a
// download can be teed through it chunk by chunk. The zero value is ready
// to use.
type CRC32C struct {
	sum uint32
}

func New() *CRC32C { return &CRC32C{} }

// Write implements io.Writer; it never fails.
func (c *CRC32C) Write(p []byte) (int, error) {
	c.sum = crc32.Update(c.sum, castagnoli, p)
	return len(p), nil
}

// Sum32 returns the checksum of everything written so far.
func (c *CRC32C) Sum32() uint32 { return c.sum }

// Matches reports whether the accumulated checksum equals the tag advertised
// by the store.
func (c *CRC32C) Matches(expectedB64 string) bool {
	return Verify(c.sum, expectedB64)
}

// Sum returns the CRC32C of data in one shot.
func Sum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Verify compares an accumulated checksum against the store's base64 tag.
// The tag decodes to the checksum's four bytes in big-endian order; decoded
// tags are stripped of trailing NUL bytes first and must be exactly four
// bytes long afterwards. This decoding is a contract with the producer's
// encoder and must not change.
func Verify(sum uint32, expectedB64 string) bool {
	raw, err := base64.StdEncoding.DecodeString(expectedB64)
	if err != nil {
		return false
	}

	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) != 4 {
		return false
	}

	return binary.BigEndian.Uint32(raw) == sum
}

// EncodeCRC32C renders a checksum the way the store advertises it:
// big-endian, base64. The inverse of the decoding in Verify for checksums
// without trailing zero bytes.
func EncodeCRC32C(sum uint32) string {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], sum)
	return base64.StdEncoding.EncodeToString(raw[:])
}
