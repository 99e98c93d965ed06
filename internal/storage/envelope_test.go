package storage

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/pkg/checksum"
)

func sampleEntry() *domain.Entry {
	now := time.UnixMilli(time.Now().UnixMilli())
	return &domain.Entry{
		Key:  "pattern:retry",
		Data: []byte("exponential backoff"),
		Metadata: domain.Metadata{
			CreatedAt:   now.Add(-time.Minute),
			AccessedAt:  now,
			SizeBytes:   42,
			ContentType: domain.ContentPattern,
			Tags:        []string{"go", "compressed"},
			TTL:         90 * time.Minute,
		},
		Checksum:   checksum.Sum([]byte("exponential backoff")),
		Compressed: true,
		Codec:      "zstd",
		Reference:  "pattern:canonical",
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	in := sampleEntry()
	frame, err := encodeEnvelope(in)
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}
	if !bytes.HasPrefix(frame, []byte(envelopeMagic)) {
		t.Fatal("frame does not start with magic")
	}

	out, err := decodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}

	if out.Key != in.Key || !bytes.Equal(out.Data, in.Data) || !bytes.Equal(out.Checksum, in.Checksum) {
		t.Errorf("payload fields differ: %+v", out)
	}
	if out.Compressed != in.Compressed || out.Codec != in.Codec || out.Reference != in.Reference {
		t.Errorf("flags differ: %+v", out)
	}
	m := out.Metadata
	if !m.CreatedAt.Equal(in.Metadata.CreatedAt) || !m.AccessedAt.Equal(in.Metadata.AccessedAt) {
		t.Errorf("timestamps = %v/%v", m.CreatedAt, m.AccessedAt)
	}
	if m.SizeBytes != 42 || m.ContentType != domain.ContentPattern || m.TTL != 90*time.Minute {
		t.Errorf("metadata = %+v", m)
	}
	if len(m.Tags) != 2 || !m.HasTag("go") || !m.HasTag("compressed") {
		t.Errorf("tags = %v", m.Tags)
	}
}

func TestEnvelope_TTLRoundsUp(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{500 * time.Microsecond, time.Millisecond},
		{time.Nanosecond, time.Millisecond},
		{time.Millisecond, time.Millisecond},
		{1500 * time.Microsecond, 2 * time.Millisecond},
		{time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.ttl.String(), func(t *testing.T) {
			in := sampleEntry()
			in.Metadata.TTL = tt.ttl
			frame, err := encodeEnvelope(in)
			if err != nil {
				t.Fatal(err)
			}
			out, err := decodeEnvelope(frame)
			if err != nil {
				t.Fatal(err)
			}
			if out.Metadata.TTL != tt.want {
				t.Errorf("TTL = %v, want %v", out.Metadata.TTL, tt.want)
			}
		})
	}
}

func TestEnvelope_SkipsUnknownFields(t *testing.T) {
	frame, _ := encodeEnvelope(&domain.Entry{Key: "k", Data: []byte("v")})

	body := append([]byte(nil), frame[envelopeHeader:]...)
	body = protowire.AppendTag(body, 99, protowire.BytesType)
	body = protowire.AppendString(body, "from the future")
	body = protowire.AppendTag(body, 100, protowire.VarintType)
	body = protowire.AppendVarint(body, 7)

	future := rebuildFrame(body)
	e, err := decodeEnvelope(future)
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	if e.Key != "k" || string(e.Data) != "v" {
		t.Errorf("decoded %+v", e)
	}
}

func rebuildFrame(body []byte) []byte {
	frame, _ := encodeEnvelope(&domain.Entry{Key: "placeholder"})
	out := append([]byte(nil), frame[:envelopeHeader]...)
	crc := crc32Sum(body)
	out[len(envelopeMagic)+1] = byte(crc >> 24)
	out[len(envelopeMagic)+2] = byte(crc >> 16)
	out[len(envelopeMagic)+3] = byte(crc >> 8)
	out[len(envelopeMagic)+4] = byte(crc)
	return append(out, body...)
}

func TestEnvelope_DecodeErrors(t *testing.T) {
	good, _ := encodeEnvelope(&domain.Entry{Key: "k", Data: []byte("value")})

	badVersion := append([]byte(nil), good...)
	badVersion[len(envelopeMagic)] = 9

	flipped := append([]byte(nil), good...)
	flipped[len(flipped)-1] ^= 0x01

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, domain.ErrSerialization},
		{"wrong magic", []byte("NOTANENVELOPE"), domain.ErrSerialization},
		{"bad version", badVersion, domain.ErrSerialization},
		{"crc mismatch", flipped, domain.ErrDataCorruption},
		{"truncated body", rebuildFrame([]byte{0x0a, 0x05, 'a'}), domain.ErrSerialization},
		{"no key", rebuildFrame(nil), domain.ErrSerialization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeEnvelope(tt.frame); !errors.Is(err, tt.want) {
				t.Errorf("decodeEnvelope() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := encodeEnvelope(&domain.Entry{}); !errors.Is(err, domain.ErrSerialization) {
		t.Errorf("encodeEnvelope(no key) error = %v", err)
	}
}
