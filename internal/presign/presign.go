// Package presign issues time-limited R2 object URLs for the coordination
// endpoints using AWS Signature V4 query presigning.
package presign

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm       = "AWS4-HMAC-SHA256"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	amzDateLayout   = "20060102T150405Z"
)

// Config holds the R2/S3 credentials and bucket for a Presigner.
type Config struct {
	// Endpoint is the account endpoint, e.g. https://<account>.r2.cloudflarestorage.com.
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	// Clock overrides time.Now (tests).
	Clock func() time.Time
	// HTTPClient overrides the default client used for existence checks.
	HTTPClient *http.Client
}

// Presigner signs object URLs and checks object existence.
type Presigner struct {
	endpoint   *url.URL
	bucket     string
	accessKey  string
	secretKey  string
	region     string
	clock      func() time.Time
	httpClient *http.Client
}

// New validates the configuration and returns a Presigner.
func New(cfg Config) (*Presigner, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("presign: endpoint and bucket are required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("presign: credentials are required")
	}
	endpoint, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("presign: invalid endpoint %q", cfg.Endpoint)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Presigner{
		endpoint:   endpoint,
		bucket:     cfg.Bucket,
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		region:     region,
		clock:      clock,
		httpClient: httpClient,
	}, nil
}

// PresignPut returns a time-limited upload URL for the object.
func (p *Presigner) PresignPut(filename string, expires time.Duration) (string, error) {
	return p.presign(http.MethodPut, filename, expires)
}

// PresignGet returns a time-limited download URL for the object.
func (p *Presigner) PresignGet(filename string, expires time.Duration) (string, error) {
	return p.presign(http.MethodGet, filename, expires)
}

// Exists performs a signed HEAD against the object. A 404 reports false
// without error; any other non-success response is an error.
func (p *Presigner) Exists(ctx context.Context, filename string) (bool, error) {
	objectPath := p.objectPath(filename)
	now := p.clock().UTC()
	amzDate := now.Format(amzDateLayout)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.endpoint.Scheme+"://"+p.endpoint.Host+objectPath, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Host", p.endpoint.Host)
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", unsignedPayload)

	canonicalHeaders := "host:" + p.endpoint.Host + "\nx-amz-content-sha256:" + unsignedPayload + "\nx-amz-date:" + amzDate + "\n"
	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalRequest := strings.Join([]string{
		http.MethodHead,
		objectPath,
		"",
		canonicalHeaders,
		signedHeaders,
		unsignedPayload,
	}, "\n")

	scope := p.scope(amzDate)
	signature := p.sign(amzDate, scope, canonicalRequest)
	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, p.accessKey, scope, signedHeaders, signature))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("presign: head request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return true, nil
	default:
		return false, fmt.Errorf("presign: head returned status %d", resp.StatusCode)
	}
}

func (p *Presigner) presign(method, filename string, expires time.Duration) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", errors.New("presign: filename is required")
	}
	if expires <= 0 {
		return "", errors.New("presign: expiry must be positive")
	}

	objectPath := p.objectPath(filename)
	now := p.clock().UTC()
	amzDate := now.Format(amzDateLayout)
	scope := p.scope(amzDate)

	query := url.Values{}
	query.Set("X-Amz-Algorithm", algorithm)
	query.Set("X-Amz-Credential", p.accessKey+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.Itoa(int(expires/time.Second)))
	query.Set("X-Amz-SignedHeaders", "host")

	canonicalRequest := strings.Join([]string{
		method,
		objectPath,
		query.Encode(),
		"host:" + p.endpoint.Host + "\n",
		"host",
		unsignedPayload,
	}, "\n")

	signature := p.sign(amzDate, scope, canonicalRequest)
	query.Set("X-Amz-Signature", signature)

	return p.endpoint.Scheme + "://" + p.endpoint.Host + objectPath + "?" + query.Encode(), nil
}

func (p *Presigner) objectPath(filename string) string {
	return "/" + p.bucket + "/" + url.PathEscape(filename)
}

func (p *Presigner) scope(amzDate string) string {
	return amzDate[:8] + "/" + p.region + "/s3/aws4_request"
}

func (p *Presigner) sign(amzDate, scope, canonicalRequest string) string {
	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hex.EncodeToString(requestHash[:]),
	}, "\n")

	dateKey := hmacSHA256([]byte("AWS4"+p.secretKey), amzDate[:8])
	regionKey := hmacSHA256(dateKey, p.region)
	serviceKey := hmacSHA256(regionKey, "s3")
	signingKey := hmacSHA256(serviceKey, "aws4_request")
	return hex.EncodeToString(hmacSHA256(signingKey, stringToSign))
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
