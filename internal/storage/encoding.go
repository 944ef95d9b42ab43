package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SerializeEmbedding converts a float32 slice to bytes using
// little-endian IEEE 754 encoding, 4 bytes per dimension. This is the
// on-disk format of the chunks.embedding BLOB column.
func SerializeEmbedding(emb []float32) []byte {
	bytes := make([]byte, len(emb)*4)
	for i, f := range emb {
		binary.LittleEndian.PutUint32(bytes[i*4:], math.Float32bits(f))
	}
	return bytes
}

// DeserializeEmbedding reverses SerializeEmbedding. A length not
// divisible by 4 indicates corrupted data.
func DeserializeEmbedding(bytes []byte) ([]float32, error) {
	if len(bytes)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding data: length %d not divisible by 4", len(bytes))
	}
	floats := make([]float32, len(bytes)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(bytes[i*4:]))
	}
	return floats, nil
}
