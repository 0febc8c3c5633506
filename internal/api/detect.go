package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/orthovision/orthovision/internal/cascade"
	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/telemetry"
)

// UploadField is the multipart form field carrying the radiograph.
const UploadField = "image"

// DetectionResponse is one box in a detect response.
type DetectionResponse struct {
	ID         int        `json:"id"`
	Label      string     `json:"label"`
	Box        [4]float64 `json:"box"`
	Confidence *float64   `json:"confidence,omitempty"`
	Type       string     `json:"type,omitempty"`
}

// DetectResponse is the body of POST /detect.
type DetectResponse struct {
	Class          string              `json:"class"`
	Confidence     string              `json:"confidence"` // percent, two decimals
	Recommendation string              `json:"recommendation"`
	ImageWidth     int                 `json:"imageWidth"`
	ImageHeight    int                 `json:"imageHeight"`
	Detections     []DetectionResponse `json:"detections"`
	Stage          string              `json:"stage,omitempty"`
	Warning        *string             `json:"warning"`
	Case           string              `json:"case"`
}

// detect accepts one image upload and returns the cascade outcome.
func (s *Server) detect(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile(UploadField)
	if err != nil {
		return s.HandleError(c, err, "missing image upload in field \""+UploadField+"\"", http.StatusBadRequest)
	}
	if fh.Size == 0 {
		return s.HandleError(c, nil, "uploaded image is empty", http.StatusBadRequest)
	}
	f, err := fh.Open()
	if err != nil {
		return s.HandleError(c, err, "failed to read upload", http.StatusBadRequest)
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return s.HandleError(c, err, "failed to read upload", http.StatusBadRequest)
	}
	if len(data) == 0 {
		return s.HandleError(c, nil, "uploaded image is empty", http.StatusBadRequest)
	}
	if s.metrics != nil {
		s.metrics.HTTP.RecordUpload(len(data))
	}

	key := uploadKey(data)
	if resp, ok := s.cachedResponse(key); ok {
		return c.JSON(http.StatusOK, resp)
	}

	img, err := s.decodeImage(data)
	if err != nil {
		s.recordError(err)
		return s.HandleError(c, err, "invalid image", http.StatusBadRequest)
	}

	start := time.Now()
	outcome, err := s.engine.Infer(ctx, img)
	if err != nil {
		s.recordError(err)
		telemetry.CaptureError(err, "api")
		return s.HandleError(c, err, "inference failed", http.StatusInternalServerError)
	}

	bounds := img.Bounds()
	resp := s.buildResponse(outcome, bounds.Dx(), bounds.Dy())
	if s.results != nil {
		s.results.SetDefault(key, resp)
	}

	s.log.WithContext(ctx).Info("detect completed",
		logger.String("case", resp.Case),
		logger.String("stage", resp.Stage),
		logger.Int("detections", len(resp.Detections)),
		logger.Duration("elapsed", time.Since(start)))
	return c.JSON(http.StatusOK, resp)
}

// decodeImage checks the declared dimensions before decoding pixels.
func (s *Server) decodeImage(data []byte) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode image header: %w", err)).
			Component("api").
			Category(errors.CategoryImageDecode).
			Build()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > s.config.MaxPixels {
		return nil, errors.Newf("image %dx%d exceeds the %d pixel limit", cfg.Width, cfg.Height, s.config.MaxPixels).
			Component("api").
			Category(errors.CategoryLimit).
			Context("format", format).
			Build()
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode %s image: %w", format, err)).
			Component("api").
			Category(errors.CategoryImageDecode).
			Context("format", format).
			Build()
	}
	return img, nil
}

func (s *Server) buildResponse(o *cascade.Outcome, width, height int) *DetectResponse {
	resp := &DetectResponse{
		Class:          o.Classification.Label.String(),
		Confidence:     fmt.Sprintf("%.2f%%", o.Classification.Confidence*100),
		Recommendation: o.Recommendation,
		ImageWidth:     width,
		ImageHeight:    height,
		Detections:     make([]DetectionResponse, 0, len(o.Detections)),
		Stage:          o.Stage,
		Case:           o.Case.String(),
	}
	if o.Warning != "" {
		w := o.Warning
		resp.Warning = &w
	}
	for _, d := range o.Detections {
		dr := DetectionResponse{
			ID:    d.ID,
			Label: d.Label,
			Box:   d.Box,
			Type:  d.Type,
		}
		if s.config.IncludeBoxConfidence {
			conf := d.Confidence
			dr.Confidence = &conf
		}
		resp.Detections = append(resp.Detections, dr)
	}
	return resp
}

func (s *Server) cachedResponse(key string) (*DetectResponse, bool) {
	if s.results == nil {
		return nil, false
	}
	v, ok := s.results.Get(key)
	if s.metrics != nil {
		s.metrics.HTTP.RecordCacheLookup(ok)
	}
	if !ok {
		return nil, false
	}
	return v.(*DetectResponse), true
}

func (s *Server) recordError(err error) {
	if s.metrics == nil {
		return
	}
	category := string(errors.CategoryGeneric)
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Category != "" {
		category = string(ee.Category)
	}
	s.metrics.Inference.RecordError(category)
}

func uploadKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
