package dmi

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"io"
)

// Encode writes sheet as a DMI file with m stored in a zTXt chunk placed
// right after IHDR, the way BYOND writes it.
func Encode(w io.Writer, sheet image.Image, m *Metadata) error {
	var img bytes.Buffer
	if err := png.Encode(&img, sheet); err != nil {
		return err
	}
	data := img.Bytes()

	// signature + IHDR chunk (4 length + 4 type + 13 data + 4 crc)
	ihdrEnd := len(pngSignature) + 25
	if len(data) < ihdrEnd {
		return formatf("encoded PNG too short")
	}

	var text bytes.Buffer
	text.WriteString(descriptionKeyword)
	text.WriteByte(0)
	text.WriteByte(0) // compression method: zlib
	zw := zlib.NewWriter(&text)
	if _, err := zw.Write([]byte(m.String())); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	if _, err := w.Write(data[:ihdrEnd]); err != nil {
		return err
	}
	if err := writeChunk(w, "zTXt", text.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(data[ihdrEnd:])
	return err
}

func writeChunk(w io.Writer, typ string, body []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(body)))
	copy(hdr[4:], typ)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(body)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())

	for _, b := range [][]byte{hdr[:], body, sum[:]} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
