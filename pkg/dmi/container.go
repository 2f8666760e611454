package dmi

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/Faultbox/dmiscope/pkg/encoding"
)

// pngSignature is the 8-byte magic every DMI container starts with.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// descriptionKeyword is the text chunk keyword the metadata is stored under.
const descriptionKeyword = "Description"

// maxMetadataSize caps the inflated metadata text.
const maxMetadataSize = 16 << 20

// Chunk is a single verified chunk of the container.
type Chunk struct {
	Type string
	Data []byte
}

// Container is the first decoding stage: the structurally verified chunk
// list of a DMI file plus its pixel dimensions from IHDR.
type Container struct {
	Width  int
	Height int
	Chunks []Chunk
}

// ParseContainer verifies the signature and the CRC of every chunk and
// returns the chunk list. Pixel data is not inflated here.
func ParseContainer(data []byte) (*Container, error) {
	if len(data) < len(pngSignature) || !bytes.Equal(data[:len(pngSignature)], pngSignature) {
		return nil, formatf("missing PNG signature")
	}

	c := &Container{}
	pos := len(pngSignature)
	sawEnd := false
	for pos < len(data) {
		if len(data)-pos < 12 {
			return nil, formatf("truncated chunk header at offset %d", pos)
		}
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		if uint64(length) > uint64(len(data)-pos-12) {
			return nil, formatf("chunk at offset %d overruns file (length %d)", pos, length)
		}
		typ := data[pos+4 : pos+8]
		body := data[pos+8 : pos+8+int(length)]
		want := binary.BigEndian.Uint32(data[pos+8+int(length) : pos+12+int(length)])

		crc := crc32.NewIEEE()
		crc.Write(typ)
		crc.Write(body)
		if got := crc.Sum32(); got != want {
			return nil, formatf("%s chunk checksum mismatch: got %08x, want %08x", typ, got, want)
		}

		c.Chunks = append(c.Chunks, Chunk{Type: string(typ), Data: body})
		pos += 12 + int(length)

		if string(typ) == "IEND" {
			sawEnd = true
			break
		}
	}
	if !sawEnd {
		return nil, formatf("missing IEND chunk")
	}

	if len(c.Chunks) == 0 || c.Chunks[0].Type != "IHDR" {
		return nil, formatf("first chunk is not IHDR")
	}
	ihdr := c.Chunks[0].Data
	if len(ihdr) != 13 {
		return nil, formatf("IHDR has length %d, want 13", len(ihdr))
	}
	c.Width = int(binary.BigEndian.Uint32(ihdr[0:4]))
	c.Height = int(binary.BigEndian.Uint32(ihdr[4:8]))
	if c.Width <= 0 || c.Height <= 0 {
		return nil, formatf("invalid image dimensions %dx%d", c.Width, c.Height)
	}

	return c, nil
}

// Description returns the DMI metadata text stored in a zTXt, tEXt or iTXt
// chunk under the "Description" keyword. The second return value is false
// when no such chunk exists.
func (c *Container) Description() (string, bool, error) {
	for _, ch := range c.Chunks {
		switch ch.Type {
		case "tEXt", "zTXt", "iTXt":
		default:
			continue
		}
		keyword, rest, ok := bytes.Cut(ch.Data, []byte{0})
		if !ok || string(keyword) != descriptionKeyword {
			continue
		}

		switch ch.Type {
		case "tEXt":
			return encoding.DecodeText(rest), true, nil

		case "zTXt":
			if len(rest) < 1 || rest[0] != 0 {
				return "", true, metadataf("zTXt uses unknown compression method")
			}
			text, err := inflate(rest[1:])
			if err != nil {
				return "", true, err
			}
			return encoding.DecodeText(text), true, nil

		case "iTXt":
			if len(rest) < 2 {
				return "", true, metadataf("truncated iTXt chunk")
			}
			compressed, method := rest[0] == 1, rest[1]
			rest = rest[2:]
			// language tag and translated keyword
			for i := 0; i < 2; i++ {
				_, after, ok := bytes.Cut(rest, []byte{0})
				if !ok {
					return "", true, metadataf("truncated iTXt chunk")
				}
				rest = after
			}
			if !compressed {
				return string(rest), true, nil
			}
			if method != 0 {
				return "", true, metadataf("iTXt uses unknown compression method")
			}
			text, err := inflate(rest)
			if err != nil {
				return "", true, err
			}
			return string(text), true, nil
		}
	}
	return "", false, nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, metadataf("inflating metadata: %v", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxMetadataSize+1))
	if err != nil {
		return nil, metadataf("inflating metadata: %v", err)
	}
	if len(out) > maxMetadataSize {
		return nil, metadataf("metadata exceeds %d bytes", maxMetadataSize)
	}
	return out, nil
}
