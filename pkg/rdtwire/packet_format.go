package rdtwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	SizeHeaderLen = 4
	SeqLen        = 4
	ChunkAckLen   = 4

	// DefaultChunkSize is the largest content block carried by one chunk.
	DefaultChunkSize = 1024
)

// SizeAckToken confirms receipt of a SizeHeader.
var SizeAckToken = []byte("ACK_SIZE")

var (
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrShortPacket    = errors.New("packet length too short")
)

// SizeHeader announces the byte length of the payload that follows.
type SizeHeader struct {
	TotalLen uint32
}

func (h *SizeHeader) Encode(dst []byte) (int, error) {
	if len(dst) < SizeHeaderLen {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint32(dst[0:4], h.TotalLen)
	return SizeHeaderLen, nil
}

func (h *SizeHeader) Decode(src []byte) (int, error) {
	if len(src) != SizeHeaderLen {
		return 0, fmt.Errorf("size header must be %d bytes, got %d", SizeHeaderLen, len(src))
	}
	h.TotalLen = binary.BigEndian.Uint32(src[0:4])
	return SizeHeaderLen, nil
}

// IsSizeHeader reports whether a first datagram should be read as a SizeHeader.
// Anything else is taken verbatim as a complete short message.
func IsSizeHeader(src []byte) bool {
	return len(src) == SizeHeaderLen
}

// Chunk is one sequence-numbered slice of a payload.
type Chunk struct {
	Seq     uint32
	Payload []byte
}

func (c *Chunk) Len() int {
	return SeqLen + len(c.Payload)
}

func (c *Chunk) Encode(dst []byte) (int, error) {
	need := c.Len()
	if len(dst) < need {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint32(dst[0:4], c.Seq)
	copy(dst[SeqLen:need], c.Payload)
	return need, nil
}

// Decode aliases Payload into src; callers that keep it past the next read must copy.
func (c *Chunk) Decode(src []byte) (int, error) {
	if len(src) < SeqLen {
		return 0, ErrShortPacket
	}
	c.Seq = binary.BigEndian.Uint32(src[0:4])
	c.Payload = src[SeqLen:]
	return len(src), nil
}

// ChunkAck echoes the sequence number being acknowledged.
type ChunkAck struct {
	Seq uint32
}

func (a *ChunkAck) Encode(dst []byte) (int, error) {
	if len(dst) < ChunkAckLen {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint32(dst[0:4], a.Seq)
	return ChunkAckLen, nil
}

func (a *ChunkAck) Decode(src []byte) (int, error) {
	if len(src) != ChunkAckLen {
		return 0, fmt.Errorf("chunk ack must be %d bytes, got %d", ChunkAckLen, len(src))
	}
	a.Seq = binary.BigEndian.Uint32(src[0:4])
	return ChunkAckLen, nil
}

func IsSizeAck(src []byte) bool {
	return bytes.Equal(src, SizeAckToken)
}

// ChunkCount returns how many chunks a payload of size bytes occupies.
func ChunkCount(size, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// Split partitions payload into chunks of at most chunkSize bytes numbered from 0.
// The returned chunks alias payload.
func Split(payload []byte, chunkSize int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := make([]Chunk, 0, ChunkCount(len(payload), chunkSize))
	var seq uint32
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{Seq: seq, Payload: payload[offset:end]})
		seq++
	}
	return chunks
}
