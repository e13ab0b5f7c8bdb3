package retained

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes the snapshot document.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default codec. Snapshots stay human-readable on disk.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec produces a compact binary snapshot.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return "msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CodecByName resolves a configured codec name. The empty name is JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("retained: unknown codec %q", name)
	}
}

// Compression selects how encoded snapshots are compressed before writing.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseCompression resolves a configured compression name. The empty name is
// no compression.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("retained: unknown compression %q", name)
	}
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("failed to create zstd encoder: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		panic("failed to create zstd decoder: " + err.Error())
	}
}

const snapshotVersion = 1

// snapshot is the persisted document.
type snapshot struct {
	Version int      `json:"version" msgpack:"version"`
	Records []Record `json:"records" msgpack:"records"`
}

func encodeSnapshot(records []Record, codec Codec, compression Compression) ([]byte, error) {
	data, err := codec.Marshal(snapshot{Version: snapshotVersion, Records: records})
	if err != nil {
		return nil, err
	}
	if compression == CompressionZstd {
		return zstdEncoder.EncodeAll(data, nil), nil
	}
	return data, nil
}

// decodeSnapshot accepts any artifact this package could have written,
// regardless of the codec and compression currently configured: a zstd frame
// is detected by its magic number and JSON by its leading brace.
func decodeSnapshot(data []byte) ([]Record, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	var codec Codec = MsgpackCodec{}
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		codec = JSONCodec{}
	}

	var doc snapshot
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	for i, rec := range doc.Records {
		if rec.Topic == "" {
			return nil, fmt.Errorf("record %d has no topic", i)
		}
	}
	return doc.Records, nil
}
