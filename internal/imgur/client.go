package imgur

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

const defaultBaseURL = "https://api.imgur.com/3"

// Client uploads images anonymously to Imgur and deletes them by their
// deletehash. It implements both domain.ImageHost and domain.Deleter.
type Client struct {
	logger   *zap.Logger
	http     *http.Client
	clientID string
	baseURL  string
}

// New creates an Imgur client authenticated by application client id
func New(logger *zap.Logger, clientID string) *Client {
	return &Client{
		logger:   logger,
		clientID: clientID,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second, // Uploads are slow on large images
		},
	}
}

type imageResponse struct {
	Data struct {
		Link       string `json:"link"`
		DeleteHash string `json:"deletehash"`
	} `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// Upload pushes the file at path and returns its public URL and deletehash
func (c *Client) Upload(ctx context.Context, path string) (domain.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("failed to read image file: %w", err)
	}

	form := url.Values{
		"image": {base64.StdEncoding.EncodeToString(data)},
		"type":  {"base64"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image",
		strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Upload{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.clientID)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Upload{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var parsed imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Upload{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if !parsed.Success || parsed.Data.Link == "" {
		return domain.Upload{}, fmt.Errorf("upload rejected with status %d", parsed.Status)
	}

	c.logger.Debug("Image uploaded",
		zap.String("url", parsed.Data.Link),
		zap.Int("bytes", len(data)))

	return domain.Upload{
		URL:        parsed.Data.Link,
		DeleteHash: parsed.Data.DeleteHash,
	}, nil
}

// Delete removes a previous upload by its deletehash
func (c *Client) Delete(ctx context.Context, deleteHash string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/image/"+deleteHash, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.clientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.logger.Debug("Image deleted", zap.String("deleteHash", deleteHash))
	return nil
}
