package store

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// magic prefixes every encoded snapshot so foreign files are rejected
// before decompression.
var magic = []byte("SIMFS\x01")

// ErrBadFormat is returned when stored bytes are not a snapshot.
var ErrBadFormat = errors.New("not a simfs snapshot")

// encMode is CBOR Core Deterministic Encoding: the same snapshot always
// produces the same bytes, which is what makes Digest usable for
// change detection.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes snap as magic + zstd(CBOR).
func Encode(snap *types.Snapshot) ([]byte, error) {
	raw, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	out := make([]byte, 0, len(magic)+len(raw)/2)
	out = append(out, magic...)
	return zstdEncoder.EncodeAll(raw, out), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*types.Snapshot, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, ErrBadFormat
	}
	raw, err := zstdDecoder.DecodeAll(data[len(magic):], nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	var snap types.Snapshot
	if err := decMode.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Digest hashes the content of snap, ignoring SavedAt, so that two
// snapshots of the same state compare equal.
func Digest(snap *types.Snapshot) ([32]byte, error) {
	c := *snap
	c.SavedAt = time.Time{}
	raw, err := encMode.Marshal(&c)
	if err != nil {
		return [32]byte{}, fmt.Errorf("digest snapshot: %w", err)
	}
	return blake3.Sum256(raw), nil
}
