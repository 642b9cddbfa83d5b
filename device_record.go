package biosecure

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// recordMagic identifies software device records (ASCII: "BIOK")
	recordMagic = uint32(0x42494F4B)

	// recordVersion is the current record format version
	recordVersion = uint8(1)

	// recordHeaderSize is the fixed size of the record header
	// 4 bytes (magic) + 1 (version) + 1 (kind) + 1 (algorithm) + 1 (purpose)
	// + 1 (flags) + 4 (generation) = 13 bytes
	recordHeaderSize = 13
)

var (
	errInvalidRecord      = errors.New("invalid device record")
	errUnsupportedVersion = errors.New("unsupported device record version")
)

// recordKind distinguishes the records a software device persists
type recordKind uint8

const (
	recordEnrollment recordKind = iota + 1
	recordKey
)

// Key record flags
const (
	flagInvalidatedByEnrollment uint8 = 1 << iota
	flagUserAuthentication
	flagUnlockedDevice
	flagHardwareIsolated
)

// recordHeader precedes every device record
type recordHeader struct {
	Magic      uint32
	Version    uint8
	Kind       recordKind
	Algorithm  KeyAlgorithm
	Purpose    KeyPurpose
	Flags      uint8
	Generation uint32
}

func newRecordHeader(kind recordKind, generation uint32) recordHeader {
	return recordHeader{
		Magic:      recordMagic,
		Version:    recordVersion,
		Kind:       kind,
		Generation: generation,
	}
}

// WriteTo writes the header to the given writer
func (h *recordHeader) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	fields := []any{h.Magic, h.Version, h.Kind, h.Algorithm, h.Purpose, h.Flags, h.Generation}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return 0, fmt.Errorf("failed to write record header: %w", err)
		}
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom reads the header from the given reader
func (h *recordHeader) ReadFrom(r io.Reader) (int64, error) {
	var raw [recordHeaderSize]byte
	n, err := io.ReadFull(r, raw[:])
	if err != nil {
		return int64(n), fmt.Errorf("failed to read record header: %w", err)
	}

	h.Magic = binary.LittleEndian.Uint32(raw[0:4])
	if h.Magic != recordMagic {
		return int64(n), errInvalidRecord
	}
	h.Version = raw[4]
	if h.Version > recordVersion {
		return int64(n), errUnsupportedVersion
	}
	h.Kind = recordKind(raw[5])
	h.Algorithm = KeyAlgorithm(raw[6])
	h.Purpose = KeyPurpose(raw[7])
	h.Flags = raw[8]
	h.Generation = binary.LittleEndian.Uint32(raw[9:13])

	return int64(n), nil
}

// enrollmentRecord is the enrolled authenticator: an X25519 key pair whose
// private half is sealed under the passcode.
type enrollmentRecord struct {
	Generation uint32
	Params     Argon2idParams
	Salt       []byte
	PublicKey  []byte
	SealedKey  []byte
}

func (e *enrollmentRecord) marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	h := newRecordHeader(recordEnrollment, e.Generation)
	if _, err := h.WriteTo(buf); err != nil {
		return nil, err
	}

	_ = binary.Write(buf, binary.LittleEndian, e.Params.Memory)
	_ = binary.Write(buf, binary.LittleEndian, e.Params.Iterations)
	_ = binary.Write(buf, binary.LittleEndian, e.Params.Parallelism)
	writeField(buf, e.Salt)
	writeField(buf, e.PublicKey)
	writeField(buf, e.SealedKey)
	return buf.Bytes(), nil
}

func unmarshalEnrollment(data []byte) (*enrollmentRecord, error) {
	r := bytes.NewReader(data)
	var h recordHeader
	if _, err := h.ReadFrom(r); err != nil {
		return nil, err
	}
	if h.Kind != recordEnrollment {
		return nil, errInvalidRecord
	}

	e := &enrollmentRecord{Generation: h.Generation}
	if err := binary.Read(r, binary.LittleEndian, &e.Params.Memory); err != nil {
		return nil, errInvalidRecord
	}
	if err := binary.Read(r, binary.LittleEndian, &e.Params.Iterations); err != nil {
		return nil, errInvalidRecord
	}
	if err := binary.Read(r, binary.LittleEndian, &e.Params.Parallelism); err != nil {
		return nil, errInvalidRecord
	}

	var err error
	if e.Salt, err = readField(r); err != nil {
		return nil, err
	}
	if e.PublicKey, err = readField(r); err != nil {
		return nil, err
	}
	if e.SealedKey, err = readField(r); err != nil {
		return nil, err
	}
	if len(e.PublicKey) != x25519Size {
		return nil, errInvalidRecord
	}

	e.Params.SaltSize = len(e.Salt)
	e.Params.KeySize = KeySize
	return e, nil
}

// keyRecord is a master key sealed to the enrollment public key. Asymmetric
// keys keep their public half in the clear.
type keyRecord struct {
	Alias      string
	Algorithm  KeyAlgorithm
	Purpose    KeyPurpose
	Flags      uint8
	Generation uint32
	PublicKey  []byte // PKIX DER, asymmetric keys only
	Sealed     []byte
}

func (k *keyRecord) marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	h := newRecordHeader(recordKey, k.Generation)
	h.Algorithm = k.Algorithm
	h.Purpose = k.Purpose
	h.Flags = k.Flags
	if _, err := h.WriteTo(buf); err != nil {
		return nil, err
	}

	writeField(buf, []byte(k.Alias))
	writeField(buf, k.PublicKey)
	writeField(buf, k.Sealed)
	return buf.Bytes(), nil
}

func unmarshalKey(data []byte) (*keyRecord, error) {
	r := bytes.NewReader(data)
	var h recordHeader
	if _, err := h.ReadFrom(r); err != nil {
		return nil, err
	}
	if h.Kind != recordKey {
		return nil, errInvalidRecord
	}

	k := &keyRecord{
		Algorithm:  h.Algorithm,
		Purpose:    h.Purpose,
		Flags:      h.Flags,
		Generation: h.Generation,
	}

	alias, err := readField(r)
	if err != nil {
		return nil, err
	}
	k.Alias = string(alias)
	if k.PublicKey, err = readField(r); err != nil {
		return nil, err
	}
	if k.Sealed, err = readField(r); err != nil {
		return nil, err
	}
	return k, nil
}

// writeField writes a uint16 length-prefixed byte field
func writeField(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(b)))
	buf.Write(b)
}

// readField reads a uint16 length-prefixed byte field
func readField(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errInvalidRecord
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errInvalidRecord
	}
	return b, nil
}
