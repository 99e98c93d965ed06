package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Key constraints.
const (
	MaxKeyLength = 512
)

// Well-known entry tags.
const (
	TagEncrypted      = "encrypted"
	TagCompressed     = "compressed"
	TagDedupReference = "dedup-reference"
	TagDedupCanonical = "dedup-canonical"
)

// transformTags describe how the stored payload is encoded. Only the
// engine sets them.
var transformTags = []string{TagEncrypted, TagCompressed, TagDedupReference}

// ContentType classifies stored payloads. The set is closed.
type ContentType string

const (
	ContentKnowledge    ContentType = "knowledge"
	ContentTodo         ContentType = "todo"
	ContentDecision     ContentType = "decision"
	ContentPattern      ContentType = "pattern"
	ContentConvention   ContentType = "convention"
	ContentAgentSession ContentType = "agent_session"
	ContentWorkflow     ContentType = "workflow"
	ContentCache        ContentType = "cache"
	ContentBinary       ContentType = "binary"
	ContentOther        ContentType = "other"
)

var contentTypes = []ContentType{
	ContentKnowledge, ContentTodo, ContentDecision, ContentPattern, ContentConvention,
	ContentAgentSession, ContentWorkflow, ContentCache, ContentBinary, ContentOther,
}

// ParseContentType returns the ContentType named s. Empty maps to ContentOther.
func ParseContentType(s string) (ContentType, error) {
	if s == "" {
		return ContentOther, nil
	}
	ct := ContentType(strings.ToLower(s))
	if !slices.Contains(contentTypes, ct) {
		return "", ErrConfiguration.WithDetails(fmt.Sprintf("unknown content type %q", s))
	}
	return ct, nil
}

// Metadata describes a stored entry.
type Metadata struct {
	// CreatedAt is when the entry was first stored.
	CreatedAt time.Time `json:"created_at"`

	// AccessedAt is bumped on every successful retrieve.
	AccessedAt time.Time `json:"accessed_at"`

	// SizeBytes is the size of the caller's original payload.
	SizeBytes int64 `json:"size_bytes"`

	ContentType ContentType `json:"content_type"`

	// Tags has set semantics; use AddTag.
	Tags []string `json:"tags,omitempty"`

	// TTL is the time-to-live measured from CreatedAt. Zero disables expiry.
	TTL time.Duration `json:"ttl,omitempty"`
}

// NewMetadata returns metadata stamped with the current time.
func NewMetadata(ct ContentType, ttl time.Duration, tags ...string) Metadata {
	now := time.Now()
	m := Metadata{
		CreatedAt:   now,
		AccessedAt:  now,
		ContentType: ct,
		TTL:         ttl,
	}
	for _, t := range tags {
		m.AddTag(t)
	}
	return m
}

// AddTag adds tag if not already present.
func (m *Metadata) AddTag(tag string) {
	if tag == "" || m.HasTag(tag) {
		return
	}
	m.Tags = append(m.Tags, tag)
}

// HasTag reports whether tag is present.
func (m Metadata) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// RemoveTags deletes every listed tag.
func (m *Metadata) RemoveTags(tags ...string) {
	m.Tags = slices.DeleteFunc(m.Tags, func(t string) bool {
		return slices.Contains(tags, t)
	})
}

// StripTransformTags removes the tags that describe payload encoding, so
// caller metadata cannot claim a transform the payload did not go through.
func (m *Metadata) StripTransformTags() {
	m.RemoveTags(transformTags...)
}

// IsExpired reports whether the TTL has elapsed at now.
func (m Metadata) IsExpired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.CreatedAt) > m.TTL
}

// IsUnused reports whether the entry has not been accessed for longer than after.
func (m Metadata) IsUnused(now time.Time, after time.Duration) bool {
	if after <= 0 {
		return false
	}
	last := m.AccessedAt
	if last.IsZero() {
		last = m.CreatedAt
	}
	return now.Sub(last) > after
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	c := m
	c.Tags = slices.Clone(m.Tags)
	return c
}

// Entry is one stored unit: opaque bytes plus metadata, addressed by Key.
//
// An entry is either canonical (Data holds content) or a deduplication
// reference (Reference names the canonical key and Data holds that name).
type Entry struct {
	Key      string   `json:"key"`
	Data     []byte   `json:"data"`
	Metadata Metadata `json:"metadata"`

	// Checksum is the SHA-256 of Data as stored; nil when checksums are off.
	Checksum []byte `json:"checksum,omitempty"`

	// Compressed reports whether Data is compressed with Codec.
	Compressed bool   `json:"compressed"`
	Codec      string `json:"codec,omitempty"`

	// Reference is the canonical key for deduplication references.
	Reference string `json:"reference,omitempty"`
}

// IsReference reports whether the entry points at a canonical entry.
func (e *Entry) IsReference() bool {
	return e.Reference != ""
}

// IsEncrypted reports whether Data is ciphertext.
func (e *Entry) IsEncrypted() bool {
	return e.Metadata.HasTag(TagEncrypted)
}

// StoredSize returns the number of payload bytes held for the entry.
func (e *Entry) StoredSize() int64 {
	return int64(len(e.Data))
}

// Clone returns a deep copy so callers cannot mutate engine state.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = slices.Clone(e.Data)
	c.Checksum = slices.Clone(e.Checksum)
	c.Metadata = e.Metadata.Clone()
	return &c
}

// ValidateKey checks that key can be used as a storage key.
//
// Keys become file names, so path separators and NUL are rejected.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidKey.WithDetails("key is empty")
	case len(key) > MaxKeyLength:
		return ErrInvalidKey.WithDetails(fmt.Sprintf("key exceeds %d bytes", MaxKeyLength))
	case key == "." || key == "..":
		return ErrInvalidKey.WithDetails("key is a reserved name")
	case strings.ContainsAny(key, "/\\\x00"):
		return ErrInvalidKey.WithDetails("key contains a path separator or NUL")
	}
	return nil
}
