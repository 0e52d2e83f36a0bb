package common

import (
	"encoding/binary"
	"io"
)

func WriteUint8(w io.Writer, v uint8) (int, error) {
	return w.Write([]byte{v})
}

func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func WriteUint32(w io.Writer, v uint32) (int, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return w.Write(buf[:])
}

func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WriteUint64(w io.Writer, v uint64) (int, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return w.Write(buf[:])
}

func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteLengthPrefixed writes a uint32 length followed by data.
func WriteLengthPrefixed(w io.Writer, data []byte) (int, error) {
	n, err := WriteUint32(w, uint32(len(data)))
	if err != nil {
		return n, err
	}
	m, err := WriteBytes(w, data)
	return n + m, err
}

// ReadLengthPrefixed reads a uint32 length and then that many bytes.
// limit bounds the accepted length so a corrupt prefix cannot force a huge
// allocation; zero disables the check.
func ReadLengthPrefixed(r io.Reader, limit uint32) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && n > limit {
		return nil, Corruption("decode", "length prefix %d exceeds limit %d", n, limit)
	}
	return ReadBytes(r, uint64(n))
}

func WriteBytes(w io.Writer, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return w.Write(data)
}

func ReadBytes(r io.Reader, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
