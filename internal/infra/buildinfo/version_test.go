package buildinfo

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.BuildTime == "" || info.GoVersion == "" {
		t.Errorf("Get() has empty fields: %+v", info)
	}
}

func TestFillFromBuildInfo(t *testing.T) {
	tests := []struct {
		name string
		info Info
		bi   debug.BuildInfo
		want Info
	}{
		{
			name: "fills unknowns",
			info: Info{Version: "dev", Commit: "unknown", BuildTime: "unknown", GoVersion: "unknown"},
			bi: debug.BuildInfo{
				GoVersion: "go1.24.4",
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abcdef1234567890"},
					{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			want: Info{Version: "dev", Commit: "abcdef1234567890", BuildTime: "2026-01-02T03:04:05Z", GoVersion: "go1.24.4", Modified: true},
		},
		{
			name: "ldflags win",
			info: Info{Version: "v1.2.0", Commit: "feed", BuildTime: "today", GoVersion: "go1.23"},
			bi: debug.BuildInfo{
				GoVersion: "go1.24.4",
				Settings:  []debug.BuildSetting{{Key: "vcs.revision", Value: "other"}},
			},
			want: Info{Version: "v1.2.0", Commit: "feed", BuildTime: "today", GoVersion: "go1.23"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info
			fillFromBuildInfo(&got, &tt.bi)
			if got != tt.want {
				t.Errorf("fillFromBuildInfo() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.Contains(s, Get().Version) || !strings.Contains(s, "built at") {
		t.Errorf("String() = %q", s)
	}
}
