package domain

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestParseContentType(t *testing.T) {
	tests := []struct {
		in      string
		want    ContentType
		wantErr bool
	}{
		{"knowledge", ContentKnowledge, false},
		{"AGENT_SESSION", ContentAgentSession, false},
		{"", ContentOther, false},
		{"binary", ContentBinary, false},
		{"spreadsheet", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseContentType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Errorf("ParseContentType(%q) error = %v, want ErrConfiguration", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseContentType(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestMetadata_Tags(t *testing.T) {
	m := NewMetadata(ContentKnowledge, 0, "a", "b", "a")
	if len(m.Tags) != 2 {
		t.Fatalf("Tags = %v, want [a b]", m.Tags)
	}
	m.AddTag("b")
	m.AddTag("")
	if len(m.Tags) != 2 {
		t.Errorf("AddTag must be idempotent, got %v", m.Tags)
	}
	if !m.HasTag("a") || m.HasTag("c") {
		t.Errorf("HasTag mismatch for %v", m.Tags)
	}
}

func TestMetadata_StripTransformTags(t *testing.T) {
	m := NewMetadata(ContentKnowledge, 0, "go", TagEncrypted, TagCompressed, TagDedupReference, TagDedupCanonical)
	m.StripTransformTags()

	want := []string{"go", TagDedupCanonical}
	if !slices.Equal(m.Tags, want) {
		t.Errorf("Tags = %v, want %v", m.Tags, want)
	}

	m.RemoveTags("go", "missing")
	if !slices.Equal(m.Tags, []string{TagDedupCanonical}) {
		t.Errorf("RemoveTags() left %v", m.Tags)
	}
}

func TestMetadata_IsExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		created time.Time
		ttl     time.Duration
		want    bool
	}{
		{"no ttl", now.Add(-1000 * time.Hour), 0, false},
		{"within ttl", now.Add(-time.Minute), time.Hour, false},
		{"exactly at ttl", now.Add(-time.Hour), time.Hour, false},
		{"past ttl", now.Add(-2 * time.Hour), time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Metadata{CreatedAt: tt.created, TTL: tt.ttl}
			if got := m.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadata_IsUnused(t *testing.T) {
	now := time.Now()
	m := Metadata{CreatedAt: now.Add(-60 * 24 * time.Hour), AccessedAt: now.Add(-31 * 24 * time.Hour)}

	if !m.IsUnused(now, 30*24*time.Hour) {
		t.Error("entry untouched for 31 days should be unused after 30")
	}
	if m.IsUnused(now, 40*24*time.Hour) {
		t.Error("entry untouched for 31 days should not be unused after 40")
	}
	if m.IsUnused(now, 0) {
		t.Error("zero threshold disables the unused check")
	}
}

func TestEntry_Clone(t *testing.T) {
	e := &Entry{
		Key:      "k",
		Data:     []byte("hello"),
		Checksum: []byte{1, 2, 3},
		Metadata: NewMetadata(ContentTodo, 0, "x"),
	}
	c := e.Clone()
	c.Data[0] = 'J'
	c.Checksum[0] = 9
	c.Metadata.AddTag("y")

	if string(e.Data) != "hello" || e.Checksum[0] != 1 || e.Metadata.HasTag("y") {
		t.Error("Clone must not share mutable state with the original")
	}
	if (*Entry)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestEntry_Flags(t *testing.T) {
	e := &Entry{Key: "b", Data: []byte("a"), Reference: "a"}
	e.Metadata.AddTag(TagEncrypted)

	if !e.IsReference() || !e.IsEncrypted() || e.StoredSize() != 1 {
		t.Errorf("flags = ref:%v enc:%v size:%d", e.IsReference(), e.IsEncrypted(), e.StoredSize())
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"a", false},
		{"session:agent-1", false},
		{"with space.txt", false},
		{"", true},
		{".", true},
		{"..", true},
		{"a/b", true},
		{`a\b`, true},
		{"nul\x00byte", true},
		{strings.Repeat("k", MaxKeyLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey(%q) = %v, want ErrInvalidKey", tt.key, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateKey(%q) = %v", tt.key, err)
			}
		})
	}
}
