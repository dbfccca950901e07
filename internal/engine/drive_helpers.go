package engine

import (
	"time"

	"github.com/jarimakinen/gdrivesync/internal/manifest"
)

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}

	return parent + "/" + name
}

func checksumOrUnknown(md5 string) string {
	if md5 == "" {
		return manifest.ChecksumUnknown
	}

	return md5
}

func parseDriveTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}
