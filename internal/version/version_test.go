package version

import (
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform = %q, want os/arch", info.Platform)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, ApplicationName+" version ") {
		t.Errorf("String() = %q", s)
	}
}

func TestShort(t *testing.T) {
	s := Short()
	if !strings.HasPrefix(s, ApplicationName+" ") {
		t.Errorf("Short() = %q", s)
	}
}
