package faceverify

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var fetchClient = &http.Client{Timeout: 15 * time.Second}

// FetchImage resolves a stored reference image into raw bytes. Accepts both
// hosted URLs and data URLs, since older records may embed the photo inline.
func FetchImage(ctx context.Context, url string) (Image, error) {
	if strings.HasPrefix(url, "data:") {
		return decodeDataURL(url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, err
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("fetch reference image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Image{}, fmt.Errorf("fetch reference image: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, fmt.Errorf("read reference image: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}
	return Image{Data: data, MIME: mime}, nil
}

func decodeDataURL(url string) (Image, error) {
	head, payload, ok := strings.Cut(url, ",")
	if !ok {
		return Image{}, fmt.Errorf("malformed data URL")
	}
	mime := strings.TrimPrefix(head, "data:")
	mime = strings.TrimSuffix(mime, ";base64")
	if mime == "" {
		mime = "image/jpeg"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode data URL: %w", err)
	}
	return Image{Data: data, MIME: mime}, nil
}
