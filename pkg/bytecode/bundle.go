package bytecode

import (
	"crypto/sha256"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/wireform/internal/wferr"
)

// BundleVersion is the current bundle envelope version.
const BundleVersion uint16 = 1

// Encoding names the wire form carried in a bundle payload.
type Encoding string

const (
	EncodingText   Encoding = "text"
	EncodingBinary Encoding = "binary"
)

// Bundle is a self-describing, content-hashed envelope around an encoded
// program, used for storage and transport.
type Bundle struct {
	Name     string   `cbor:"1,keyasint"`
	Version  uint16   `cbor:"2,keyasint"`
	Encoding Encoding `cbor:"3,keyasint"`
	Payload  []byte   `cbor:"4,keyasint"`
	Hash     [32]byte `cbor:"5,keyasint"`
	Count    int      `cbor:"6,keyasint,omitempty"` // instruction count, for progress totals
}

var bundleEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	bundleEncMode = em
}

// NewBundle encodes instrs with the requested encoding and wraps them.
func NewBundle(name string, enc Encoding, instrs []Instruction, resolver MemberTypeResolver) (*Bundle, error) {
	var (
		payload []byte
		err     error
	)
	switch enc {
	case EncodingText:
		payload, err = EncodeText(instrs)
	case EncodingBinary:
		payload, err = EncodeBinary(instrs, resolver)
	default:
		return nil, fmt.Errorf("bytecode: unknown encoding %q", enc)
	}
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Name:     name,
		Version:  BundleVersion,
		Encoding: enc,
		Payload:  payload,
		Hash:     sha256.Sum256(payload),
		Count:    len(instrs),
	}, nil
}

// MarshalBundle serializes a bundle to canonical CBOR.
func MarshalBundle(b *Bundle) ([]byte, error) {
	return bundleEncMode.Marshal(b)
}

// UnmarshalBundle deserializes a bundle and verifies its payload hash.
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, &wferr.FormatError{Codec: "bundle", Offset: -1, Msg: err.Error()}
	}
	if b.Version > BundleVersion {
		return nil, &wferr.FormatError{Codec: "bundle", Offset: -1,
			Msg: fmt.Sprintf("bundle version %d is newer than supported version %d", b.Version, BundleVersion)}
	}
	if sha256.Sum256(b.Payload) != b.Hash {
		return nil, &wferr.FormatError{Codec: "bundle", Offset: -1, Msg: "payload hash mismatch"}
	}
	return &b, nil
}

// Instructions decodes the bundle payload.
func (b *Bundle) Instructions() ([]Instruction, error) {
	switch b.Encoding {
	case EncodingText:
		return DecodeText(b.Payload)
	case EncodingBinary:
		return DecodeBinary(b.Payload)
	}
	return nil, &wferr.FormatError{Codec: "bundle", Offset: -1, Msg: fmt.Sprintf("unknown encoding %q", b.Encoding)}
}

// DetectEncoding guesses the wire form of raw program bytes. Binary records
// start with an opcode byte, which is never a printable character. Tab and
// newline collide with LIST_START and LIST_END, so leading bytes are not
// trimmed.
func DetectEncoding(data []byte) Encoding {
	if len(data) == 0 {
		return EncodingText
	}
	if b := data[0]; Opcode(b).Valid() && b != '\t' && b != '\n' {
		return EncodingBinary
	}
	if !utf8.Valid(data) {
		return EncodingBinary
	}
	return EncodingText
}
