package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

const (
	defaultAnalyzerURL   = "http://localhost:8000"
	defaultAnalyzerModel = "buffalo_l"
)

// HTTPAnalyzer talks to an InsightFace style embedding server. POST
// /embed/face takes a multipart image and returns every face with its pixel
// box, detection score and embedding.
type HTTPAnalyzer struct {
	baseURL string
	model   string
	origin  facematch.Origin
	client  *http.Client
}

// NewHTTPAnalyzer returns an analyzer reporting boxes with the given origin.
func NewHTTPAnalyzer(baseURL, model string, origin facematch.Origin) *HTTPAnalyzer {
	if baseURL == "" {
		baseURL = defaultAnalyzerURL
	}
	if model == "" {
		model = defaultAnalyzerModel
	}
	return &HTTPAnalyzer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		origin:  origin,
		client:  &http.Client{},
	}
}

// faceDetection is a single face returned by the server.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2] pixels, top-left origin
	DetScore  float64   `json:"det_score"`
	Pose      []float64 `json:"pose,omitempty"` // [pitch, yaw, roll] degrees
	Quality   *float64  `json:"quality,omitempty"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// DetectFaces returns the server's faces with boxes converted to normalized
// coordinates in the analyzer's origin. The whole-image embeddings the
// server sends along are ignored; vectors come from FeatureVector on the
// padded crop.
func (a *HTTPAnalyzer) DetectFaces(ctx context.Context, img image.Image) ([]facematch.Detection, error) {
	resp, err := a.embedFaces(ctx, img)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	detections := make([]facematch.Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		d := facematch.Detection{
			BBox:       facematch.ConvertPixelBBoxToRelative(f.BBox, b.Dx(), b.Dy(), a.origin),
			Confidence: f.DetScore,
			Quality:    f.Quality,
		}
		if len(f.Pose) == 3 {
			d.Pose = facematch.Pose{Pitch: f.Pose[0], Yaw: f.Pose[1], Roll: f.Pose[2]}
		}
		detections = append(detections, d)
	}
	return detections, nil
}

// FeatureVector embeds an already cropped face, taking the most confident
// face the server finds in the crop.
func (a *HTTPAnalyzer) FeatureVector(ctx context.Context, face image.Image) ([]float32, error) {
	resp, err := a.embedFaces(ctx, face)
	if err != nil {
		return nil, err
	}

	var best *faceDetection
	for i := range resp.Faces {
		if len(resp.Faces[i].Embedding) == 0 {
			continue
		}
		if best == nil || resp.Faces[i].DetScore > best.DetScore {
			best = &resp.Faces[i]
		}
	}
	if best == nil {
		return nil, errors.New("no face found in crop")
	}
	return best.Embedding, nil
}

// Distance is the Euclidean distance between L2-normalized embeddings,
// the native metric of ArcFace style models.
func (a *HTTPAnalyzer) Distance(x, y []float32) (float64, error) {
	if len(x) == 0 || len(x) != len(y) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(x), len(y))
	}
	return facematch.EuclideanDistance(x, y), nil
}

func (a *HTTPAnalyzer) Model() string {
	return a.model
}

func (a *HTTPAnalyzer) embedFaces(ctx context.Context, img image.Image) (*faceResponse, error) {
	var data bytes.Buffer
	if err := jpeg.Encode(&data, img, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	body, err := a.postMultipartImage(ctx, "/embed/face", data.Bytes())
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

func (a *HTTPAnalyzer) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
