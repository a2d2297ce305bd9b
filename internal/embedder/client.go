// Package embedder turns a face image into an embedding by calling the
// external face embedding server.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/blob"
	"github.com/kozaktomas/face-gate/internal/facematch"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	faceEndpoint        = "/embed/face"
	maxErrorBody        = 512
)

// Provider extracts a single face embedding from an image.
// It fails with apperr.ErrFaceNotFound when no face is usable and with
// apperr.ErrExtraction for any other provider failure.
type Provider interface {
	Extract(ctx context.Context, image []byte) (facematch.Embedding, error)
}

// Client calls the embedding server over HTTP.
type Client struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewClient creates a client. dim > 0 enforces the embedding length.
func NewClient(baseURL, model string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Model returns the model name requested from the server.
func (c *Client) Model() string {
	return c.model
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float64 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage posts the image as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	info, _ := blob.Sniff(imageData)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="face%s"`, info.Ext))
	h.Set("Content-Type", info.ContentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, 0, fmt.Errorf("failed to write image data: %w", err)
	}
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return nil, 0, fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// ComputeFaceEmbeddings detects faces and returns all of them.
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, status, err := c.postMultipartImage(ctx, faceEndpoint, imageData)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrTimeout, ctxErr)
		}
		return nil, apperr.Extraction("embedding server", err)
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		// The server rejects images in which it cannot detect a face.
		return nil, fmt.Errorf("%w: %s", apperr.ErrFaceNotFound, truncate(body))
	default:
		return nil, apperr.Extraction("embedding server",
			fmt.Errorf("API error (status %d): %s", status, truncate(body)))
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, apperr.Extraction("embedding server", fmt.Errorf("failed to parse response: %w", err))
	}
	return &faceResp, nil
}

// Extract returns the embedding of the most confidently detected face.
func (c *Client) Extract(ctx context.Context, imageData []byte) (facematch.Embedding, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}

	best := -1
	for i, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if best < 0 || f.DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, apperr.ErrFaceNotFound
	}

	emb := facematch.Embedding(resp.Faces[best].Embedding)
	if err := emb.Validate(); err != nil {
		return nil, apperr.Extraction("embedding server", err)
	}
	if c.dim > 0 && len(emb) != c.dim {
		return nil, fmt.Errorf("embedding server returned %d dims, expected %d: %w",
			len(emb), c.dim, facematch.ErrDimensionMismatch)
	}
	return emb, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

var _ Provider = (*Client)(nil)
