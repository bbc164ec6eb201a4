package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SupabaseStore talks to Supabase Storage over its REST API.
type SupabaseStore struct {
	endpoint   string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

// SupabaseConfig holds the connection settings for Supabase Storage.
type SupabaseConfig struct {
	Endpoint   string
	ServiceKey string
	Bucket     string
}

func NewSupabaseStore(cfg SupabaseConfig) *SupabaseStore {
	return &SupabaseStore{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		serviceKey: cfg.ServiceKey,
		bucket:     cfg.Bucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *SupabaseStore) objectURL(path string) (string, error) {
	if path == "" || strings.Contains(path, "..") {
		return "", ErrInvalidPath
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.endpoint, s.bucket, escapePath(path)), nil
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func (s *SupabaseStore) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	return s.httpClient.Do(req)
}

func (s *SupabaseStore) Upload(ctx context.Context, path string, content []byte, contentType string) error {
	u, err := s.objectURL(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	// Allow resubmission of a sheet under the same path.
	req.Header.Set("x-upsert", "true")

	resp, err := s.do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *SupabaseStore) Download(ctx context.Context, path string) ([]byte, error) {
	u, err := s.objectURL(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (s *SupabaseStore) SignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	if path == "" || strings.Contains(path, "..") {
		return "", ErrInvalidPath
	}

	u := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.endpoint, s.bucket, escapePath(path))
	payload, err := json.Marshal(map[string]int{"expiresIn": int(expiresIn.Seconds())})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return "", fmt.Errorf("sign request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrObjectNotFound
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("sign request failed with status %d", resp.StatusCode)
	}

	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", fmt.Errorf("failed to decode sign response: %w", err)
	}

	return s.endpoint + "/storage/v1" + signed.SignedURL, nil
}

func (s *SupabaseStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	u := fmt.Sprintf("%s/storage/v1/object/list/%s", s.endpoint, s.bucket)
	payload, err := json.Marshal(map[string]string{"prefix": prefix})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list request failed with status %d", resp.StatusCode)
	}

	var raw []struct {
		Name      string    `json:"name"`
		UpdatedAt time.Time `json:"updated_at"`
		Metadata  struct {
			Size int64 `json:"size"`
		} `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}

	objects := make([]ObjectInfo, 0, len(raw))
	for _, o := range raw {
		objects = append(objects, ObjectInfo{
			Name:      o.Name,
			Size:      o.Metadata.Size,
			UpdatedAt: o.UpdatedAt,
		})
	}

	return objects, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, path string) error {
	u, err := s.objectURL(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := s.do(req)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrObjectNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}

	return nil
}
