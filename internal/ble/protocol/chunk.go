// Package protocol holds the wire-level helpers shared by the BLE backends.
package protocol

// DefaultChunkSize fits a single ATT write on links that negotiated the
// common 185-byte MTU (MTU - 3 bytes of ATT header, rounded down).
const DefaultChunkSize = 180

// MinChunkSize is the payload of a write on a link using the default
// 23-byte ATT MTU.
const MinChunkSize = 20

// ChunkBytes splits data into consecutive slices of at most maxBytes.
// The chunks alias data. Returns nil for empty data or a non-positive limit.
func ChunkBytes(data []byte, maxBytes int) [][]byte {
	if len(data) == 0 || maxBytes <= 0 {
		return nil
	}
	if len(data) <= maxBytes {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+maxBytes-1)/maxBytes)
	for len(data) > 0 {
		n := maxBytes
		if len(data) < n {
			n = len(data)
		}
		// Cap the capacity so an append on one chunk cannot overwrite the next.
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}
