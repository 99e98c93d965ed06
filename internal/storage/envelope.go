package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
)

// Envelope frame: [magic:8][version:1][crc32:4][body...]
// The CRC covers the body. The body is protobuf wire format.
const (
	envelopeMagic   = "RHEMAENV"
	envelopeVersion = 1
	envelopeHeader  = len(envelopeMagic) + 1 + 4
)

// Envelope field numbers. Never renumber.
const (
	fieldKey         protowire.Number = 1
	fieldData        protowire.Number = 2
	fieldCreatedAt   protowire.Number = 3
	fieldAccessedAt  protowire.Number = 4
	fieldSizeBytes   protowire.Number = 5
	fieldContentType protowire.Number = 6
	fieldTag         protowire.Number = 7
	fieldTTL         protowire.Number = 8
	fieldChecksum    protowire.Number = 9
	fieldCompressed  protowire.Number = 10
	fieldCodec       protowire.Number = 11
	fieldReference   protowire.Number = 12
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// encodeEnvelope serializes e into the on-disk frame.
func encodeEnvelope(e *domain.Entry) ([]byte, error) {
	if e == nil || e.Key == "" {
		return nil, domain.ErrSerialization.WithDetails("entry has no key")
	}

	var body []byte
	body = protowire.AppendTag(body, fieldKey, protowire.BytesType)
	body = protowire.AppendString(body, e.Key)

	body = protowire.AppendTag(body, fieldData, protowire.BytesType)
	body = protowire.AppendBytes(body, e.Data)

	m := e.Metadata
	body = appendVarint(body, fieldCreatedAt, uint64(m.CreatedAt.UnixMilli()))
	body = appendVarint(body, fieldAccessedAt, uint64(m.AccessedAt.UnixMilli()))
	body = appendVarint(body, fieldSizeBytes, uint64(m.SizeBytes))
	if m.ContentType != "" {
		body = protowire.AppendTag(body, fieldContentType, protowire.BytesType)
		body = protowire.AppendString(body, string(m.ContentType))
	}
	for _, tag := range m.Tags {
		body = protowire.AppendTag(body, fieldTag, protowire.BytesType)
		body = protowire.AppendString(body, tag)
	}
	if m.TTL > 0 {
		body = appendVarint(body, fieldTTL, ttlMillis(m.TTL))
	}
	if len(e.Checksum) > 0 {
		body = protowire.AppendTag(body, fieldChecksum, protowire.BytesType)
		body = protowire.AppendBytes(body, e.Checksum)
	}
	if e.Compressed {
		body = appendVarint(body, fieldCompressed, protowire.EncodeBool(true))
	}
	if e.Codec != "" {
		body = protowire.AppendTag(body, fieldCodec, protowire.BytesType)
		body = protowire.AppendString(body, e.Codec)
	}
	if e.Reference != "" {
		body = protowire.AppendTag(body, fieldReference, protowire.BytesType)
		body = protowire.AppendString(body, e.Reference)
	}

	out := make([]byte, envelopeHeader, envelopeHeader+len(body))
	copy(out, envelopeMagic)
	out[len(envelopeMagic)] = envelopeVersion
	binary.BigEndian.PutUint32(out[len(envelopeMagic)+1:], crc32.Checksum(body, crcTable))
	return append(out, body...), nil
}

// ttlMillis rounds a positive TTL up to whole milliseconds so a
// sub-millisecond TTL still expires after a reload.
func ttlMillis(ttl time.Duration) uint64 {
	return uint64((ttl + time.Millisecond - 1) / time.Millisecond)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// decodeEnvelope parses a frame produced by encodeEnvelope.
// Unknown fields are skipped.
func decodeEnvelope(frame []byte) (*domain.Entry, error) {
	if len(frame) < envelopeHeader || !bytes.Equal(frame[:len(envelopeMagic)], []byte(envelopeMagic)) {
		return nil, domain.ErrSerialization.WithDetails("not an entry envelope")
	}
	if v := frame[len(envelopeMagic)]; v != envelopeVersion {
		return nil, domain.ErrSerialization.WithDetails(fmt.Sprintf("unsupported envelope version %d", v))
	}
	wantCRC := binary.BigEndian.Uint32(frame[len(envelopeMagic)+1:])
	body := frame[envelopeHeader:]
	if crc32.Checksum(body, crcTable) != wantCRC {
		return nil, domain.ErrDataCorruption.WithDetails("envelope crc mismatch")
	}

	e := &domain.Entry{}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, wireError(n)
		}
		body = body[n:]

		switch {
		case typ == protowire.BytesType && isBytesField(num):
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, wireError(n)
			}
			body = body[n:]
			setBytesField(e, num, v)

		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, wireError(n)
			}
			body = body[n:]
			setVarintField(e, num, v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, wireError(n)
			}
			body = body[n:]
		}
	}

	if e.Key == "" {
		return nil, domain.ErrSerialization.WithDetails("envelope has no key")
	}
	return e, nil
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldKey, fieldData, fieldContentType, fieldTag, fieldChecksum, fieldCodec, fieldReference:
		return true
	}
	return false
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldCreatedAt, fieldAccessedAt, fieldSizeBytes, fieldTTL, fieldCompressed:
		return true
	}
	return false
}

func setBytesField(e *domain.Entry, num protowire.Number, v []byte) {
	switch num {
	case fieldKey:
		e.Key = string(v)
	case fieldData:
		e.Data = bytes.Clone(v)
		if e.Data == nil {
			e.Data = []byte{}
		}
	case fieldContentType:
		e.Metadata.ContentType = domain.ContentType(v)
	case fieldTag:
		e.Metadata.AddTag(string(v))
	case fieldChecksum:
		e.Checksum = bytes.Clone(v)
	case fieldCodec:
		e.Codec = string(v)
	case fieldReference:
		e.Reference = string(v)
	}
}

func setVarintField(e *domain.Entry, num protowire.Number, v uint64) {
	switch num {
	case fieldCreatedAt:
		e.Metadata.CreatedAt = time.UnixMilli(int64(v))
	case fieldAccessedAt:
		e.Metadata.AccessedAt = time.UnixMilli(int64(v))
	case fieldSizeBytes:
		e.Metadata.SizeBytes = int64(v)
	case fieldTTL:
		e.Metadata.TTL = time.Duration(v) * time.Millisecond
	case fieldCompressed:
		e.Compressed = protowire.DecodeBool(v)
	}
}

func wireError(n int) error {
	return domain.ErrSerialization.WithCause(protowire.ParseError(n))
}
