package transfer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const amzDateLayout = "20060102T150405Z"

// LocationInfo is what the sync pipeline needs to know about a presigned URL:
// when it stops working and which object it points at.
type LocationInfo struct {
	Filename  string
	ExpiresAt time.Time
}

// SecondsRemaining reports how long the location stays valid from now,
// clamped at zero.
func (l LocationInfo) SecondsRemaining(now time.Time) int64 {
	remaining := int64(l.ExpiresAt.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ParsePresignedURL extracts the object filename and absolute expiry from a
// presigned URL's X-Amz-Date and X-Amz-Expires query parameters. A URL that
// cannot be parsed makes its location record unusable, so any failure here is
// fatal for that location.
func ParsePresignedURL(rawURL string) (LocationInfo, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return LocationInfo{}, fmt.Errorf("transfer: unparseable location URL: %w", err)
	}

	query := parsed.Query()
	amzDate := query.Get("X-Amz-Date")
	amzExpires := query.Get("X-Amz-Expires")
	if amzDate == "" || amzExpires == "" {
		return LocationInfo{}, fmt.Errorf("transfer: no date or expiration given on %s", rawURL)
	}

	issuedAt, err := time.Parse(amzDateLayout, amzDate)
	if err != nil {
		return LocationInfo{}, fmt.Errorf("transfer: invalid X-Amz-Date %q: %w", amzDate, err)
	}
	validSeconds, err := strconv.Atoi(amzExpires)
	if err != nil {
		return LocationInfo{}, fmt.Errorf("transfer: invalid X-Amz-Expires %q: %w", amzExpires, err)
	}

	segments := strings.Split(parsed.Path, "/")
	filename := ""
	if len(segments) > 0 {
		filename = segments[len(segments)-1]
	}
	if filename == "" {
		return LocationInfo{}, fmt.Errorf("transfer: file name not found in %s", rawURL)
	}

	return LocationInfo{
		Filename:  filename,
		ExpiresAt: issuedAt.Add(time.Duration(validSeconds) * time.Second),
	}, nil
}
