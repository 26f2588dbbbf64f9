package extract

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// VisionOCR recognises printed and handwritten Sinhala in images using
// Cloud Vision document text detection.
type VisionOCR struct {
	annotate annotateFunc
	close    func() error
	logger   *zap.Logger
}

// NewVisionOCR dials Cloud Vision.
func NewVisionOCR(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*VisionOCR, error) {
	c, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	annotate := func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		return c.BatchAnnotateImages(ctx, req)
	}
	return newVisionOCR(annotate, c.Close, logger), nil
}

func newVisionOCR(annotate annotateFunc, closeFn func() error, logger *zap.Logger) *VisionOCR {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisionOCR{annotate: annotate, close: closeFn, logger: logger}
}

// Close releases the underlying client.
func (v *VisionOCR) Close() error {
	if v == nil || v.close == nil {
		return nil
	}
	return v.close()
}

func (v *VisionOCR) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if len(data) == 0 {
		return &Result{}, nil
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:        &visionpb.Image{Content: data},
			Features:     []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
			ImageContext: &visionpb.ImageContext{LanguageHints: []string{"si", "en"}},
		}},
	}

	var resp *visionpb.BatchAnnotateImagesResponse
	err := withRetry(ctx, v.logger, "vision.annotate", func() error {
		var err error
		resp, err = v.annotate(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return &Result{}, nil
	}

	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate: %s", r0.Error.Message)
	}
	fta := r0.FullTextAnnotation
	if fta == nil || strings.TrimSpace(fta.Text) == "" {
		return &Result{}, nil
	}

	v.logger.Debug("OCR complete",
		zap.String("mime", mimeType),
		zap.Int("pages", len(fta.Pages)),
		zap.Int("chars", len(fta.Text)))

	pages := []Page{{Number: 1, Text: fta.Text}}
	return &Result{RawText: strings.TrimSpace(fta.Text), Pages: pages}, nil
}
