package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pantrylab/pantryd/internal/domain"
)

const (
	healthTimeout = 5 * time.Second
	listTimeout   = 10 * time.Second
)

var errCameraDown = errors.New("camera unreachable")

// HealthStatus is the camera service's own view of its components.
type HealthStatus struct {
	Status     string           `json:"status"`
	Components HealthComponents `json:"components"`
	Timestamp  string           `json:"timestamp"`
}

type HealthComponents struct {
	Database    string  `json:"database"`
	Camera      string  `json:"camera"`
	DiskSpaceGB float64 `json:"disk_space_gb"`
}

// CaptureResult is the camera's answer to a capture request.
type CaptureResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ImageID   string `json:"image_id"`
	ImagePath string `json:"image_path"`
	Timestamp string `json:"timestamp"`
}

// ImageInfo is one entry from the camera's image index.
type ImageInfo struct {
	ID         string `json:"_id"`
	Filename   string `json:"filename"`
	Path       string `json:"path"`
	Timestamp  string `json:"timestamp"`
	Size       int64  `json:"size"`
	Resolution string `json:"resolution"`
	Device     string `json:"device"`
}

type imageListResponse struct {
	Status      string      `json:"status"`
	TotalImages int         `json:"total_images"`
	Images      []ImageInfo `json:"images"`
}

// RetryMeta reports how a retried fetch went, successful or not.
type RetryMeta struct {
	Success    bool            `json:"success"`
	Attempts   int             `json:"attempts"`
	TotalTime  time.Duration   `json:"total_time"`
	DelaysUsed []time.Duration `json:"delays_used"`
}

// Liveness reports whether the camera answers at all. The availability
// cache answers first; on a cache miss the /test endpoint is probed
// directly, bypassing the breaker so a routine availability check never
// advances it.
func (c *Client) Liveness(ctx context.Context) bool {
	if up, known := c.avail.Get(ctx, availabilityKey); known {
		return up
	}

	start := time.Now()
	ok := c.probe(ctx)
	if ok {
		c.record("liveness", start, nil)
	} else {
		c.record("liveness", start, errCameraDown)
	}
	c.avail.Set(ctx, availabilityKey, ok)
	return ok
}

func (c *Client) probe(ctx context.Context) bool {
	c.mu.Lock()
	base := c.baseURL
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/test", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set(headerAPIKey, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// HealthCheck fetches the camera's component health. One attempt, no
// retries: the caller is usually a health endpoint with its own budget.
func (c *Client) HealthCheck(ctx context.Context) (st HealthStatus, err error) {
	start := time.Now()
	defer func() { c.record("health", start, err) }()

	resp, err := c.call(ctx, "/health", healthTimeout)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthStatus{}, fmt.Errorf("camera health returned status %d", resp.StatusCode)
	}
	if err = json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return HealthStatus{}, fmt.Errorf("decode camera health: %w", err)
	}
	return st, nil
}

// Capture asks the camera to take a picture, retrying with backoff.
// An open breaker aborts the loop immediately; waiting out the retry
// schedule cannot outlast the cooldown anyway.
func (c *Client) Capture(ctx context.Context, maxAttempts int) (CaptureResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, retryDelay(attempt-1)); err != nil {
				return CaptureResult{}, domain.ErrTimeout("camera capture", err)
			}
		}

		if !c.Liveness(ctx) {
			lastErr = errCameraDown
			continue
		}

		res, err := c.captureOnce(ctx, attempt)
		if err == nil {
			return res, nil
		}
		if domain.Is(err, "circuit_open") {
			return CaptureResult{}, err
		}
		lastErr = err
	}
	return CaptureResult{}, domain.ErrServiceUnavailable("camera", lastErr)
}

func (c *Client) captureOnce(ctx context.Context, attempt int) (res CaptureResult, err error) {
	start := time.Now()
	defer func() { c.record("capture", start, err) }()

	resp, err := c.call(ctx, "/capture", attemptTimeout(attempt))
	if err != nil {
		return CaptureResult{}, err
	}
	defer resp.Body.Close()

	// 207 means the image exists but its index entry failed; still a
	// usable capture.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return CaptureResult{}, fmt.Errorf("camera capture returned status %d", resp.StatusCode)
	}
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return CaptureResult{}, fmt.Errorf("decode capture response: %w", err)
	}
	return res, nil
}

// FetchLatestImage downloads the most recent picture into savePath
// (generated under the image dir when empty). The loop is iterative
// and returns its full retry record alongside the path, so callers can
// report how hard the fetch had to work even on success.
func (c *Client) FetchLatestImage(ctx context.Context, maxAttempts int, savePath string) (string, RetryMeta, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	start := time.Now()
	meta := RetryMeta{}
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		meta.Attempts = attempt + 1

		var err error
		if !c.Liveness(ctx) {
			err = errCameraDown
		} else {
			var path string
			path, err = c.fetchImageOnce(ctx, attempt, savePath)
			if err == nil {
				meta.Success = true
				meta.TotalTime = time.Since(start)
				return path, meta, nil
			}
			if domain.Is(err, "circuit_open") {
				meta.TotalTime = time.Since(start)
				return "", meta, err
			}
		}
		lastErr = err

		if attempt < maxAttempts-1 {
			d := retryDelay(attempt)
			meta.DelaysUsed = append(meta.DelaysUsed, d)
			if err := c.sleep(ctx, d); err != nil {
				meta.TotalTime = time.Since(start)
				return "", meta, domain.ErrTimeout("latest image fetch", err)
			}
		}
	}

	meta.TotalTime = time.Since(start)
	return "", meta, domain.ErrServiceUnavailable("camera", lastErr)
}

func (c *Client) fetchImageOnce(ctx context.Context, attempt int, savePath string) (path string, err error) {
	start := time.Now()
	defer func() { c.record("latest_image", start, err) }()

	resp, err := c.call(ctx, "/latest_image", attemptTimeout(attempt))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("latest image returned status %d", resp.StatusCode)
	}

	if savePath == "" {
		name := fmt.Sprintf("latest_img_%s.jpg", time.Now().Format("20060102_150405"))
		savePath = filepath.Join(c.cfg.ImageDir, name)
	}
	if err = c.saveImage(resp.Body, savePath); err != nil {
		return "", err
	}
	return savePath, nil
}

// ListImages returns the camera's image index, newest first.
func (c *Client) ListImages(ctx context.Context) (infos []ImageInfo, err error) {
	start := time.Now()
	defer func() { c.record("list_images", start, err) }()

	resp, err := c.call(ctx, "/images", listTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image list returned status %d", resp.StatusCode)
	}
	var out imageListResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode image list: %w", err)
	}
	return out.Images, nil
}

// GetImage downloads one image by id into savePath (generated under
// the image dir when empty) and returns the written path.
func (c *Client) GetImage(ctx context.Context, id, savePath string) (path string, err error) {
	if id == "" {
		return "", domain.ErrMissingField("image_id")
	}

	start := time.Now()
	defer func() { c.record("get_image", start, err) }()

	resp, err := c.call(ctx, "/image/"+id, listTimeout)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", domain.ErrImageNotFound(id)
	default:
		return "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	if savePath == "" {
		savePath = filepath.Join(c.cfg.ImageDir, fmt.Sprintf("img_%s.jpg", id))
	}
	if err = c.saveImage(resp.Body, savePath); err != nil {
		return "", err
	}
	return savePath, nil
}

func (c *Client) saveImage(r io.Reader, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create image file %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write image file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close image file %s: %w", path, err)
	}
	return nil
}
