package transfer

import (
	"testing"
	"time"
)

func TestParsePresignedURLExtractsFilenameAndExpiry(t *testing.T) {
	rawURL := "https://account.r2.cloudflarestorage.com/bucket/groceries_backup_abc.json" +
		"?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Date=20260110T120000Z&X-Amz-Expires=3600&X-Amz-Signature=deadbeef"

	info, err := ParsePresignedURL(rawURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Filename != "groceries_backup_abc.json" {
		t.Fatalf("unexpected filename %q", info.Filename)
	}
	wantExpiry := time.Date(2026, 1, 10, 13, 0, 0, 0, time.UTC)
	if !info.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("unexpected expiry %v, want %v", info.ExpiresAt, wantExpiry)
	}
}

func TestParsePresignedURLErrors(t *testing.T) {
	cases := []struct {
		name   string
		rawURL string
	}{
		{name: "missing date", rawURL: "https://host/bucket/file?X-Amz-Expires=60"},
		{name: "missing expires", rawURL: "https://host/bucket/file?X-Amz-Date=20260110T120000Z"},
		{name: "bad date format", rawURL: "https://host/bucket/file?X-Amz-Date=yesterday&X-Amz-Expires=60"},
		{name: "bad expires value", rawURL: "https://host/bucket/file?X-Amz-Date=20260110T120000Z&X-Amz-Expires=soon"},
		{name: "no filename", rawURL: "https://host/?X-Amz-Date=20260110T120000Z&X-Amz-Expires=60"},
	}
	for _, testCase := range cases {
		if _, err := ParsePresignedURL(testCase.rawURL); err == nil {
			t.Fatalf("%s: expected error", testCase.name)
		}
	}
}

func TestSecondsRemainingClampsAtZero(t *testing.T) {
	info := LocationInfo{ExpiresAt: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}

	before := time.Date(2026, 1, 10, 11, 59, 0, 0, time.UTC)
	if got := info.SecondsRemaining(before); got != 60 {
		t.Fatalf("expected 60 seconds remaining, got %d", got)
	}

	after := time.Date(2026, 1, 10, 12, 5, 0, 0, time.UTC)
	if got := info.SecondsRemaining(after); got != 0 {
		t.Fatalf("expected clamp at zero, got %d", got)
	}
}
