package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	newCloudBackOff = func(ctx context.Context) backoff.BackOff {
		return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3), ctx)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	var gotMIME string
	r.Register("image/*", ExtractorFunc(func(ctx context.Context, data []byte, mimeType string) (*Result, error) {
		gotMIME = mimeType
		return &Result{RawText: "ocr"}, nil
	}))

	res, err := r.Extract(context.Background(), []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "ocr", res.RawText)
	assert.Equal(t, "image/png", gotMIME)

	res, err = r.Extract(context.Background(), []byte("සිංහල පාඩම"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "සිංහල පාඩම", res.RawText)

	_, err = r.Extract(context.Background(), []byte("x"), "application/zip")
	assert.ErrorIs(t, err, ErrUnsupportedMIME)
}

func TestRegistryEmptyText(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), []byte(" \n\t "), "text/plain")
	assert.ErrorIs(t, err, ErrNoTextExtracted)
}

func TestTextExtractorPages(t *testing.T) {
	res, err := TextExtractor{}.Extract(context.Background(), []byte("\uFEFFපළමු පිටුව\fදෙවන පිටුව"), "text/plain")
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, 2, res.Pages[1].Number)
	assert.Equal(t, "පළමු පිටුව\n\nදෙවන පිටුව", res.RawText)
}

func TestMarkdownSections(t *testing.T) {
	src := "Intro line.\n\n# Water\n\nWater is life.\n\n## Cycle\n\nEvaporation happens.\n\n# Air\n\nAir moves.\n"

	pages, err := NewMarkdownExtractor().Sections([]byte(src))
	require.NoError(t, err)
	require.Len(t, pages, 4)

	assert.Equal(t, "Intro line.", pages[0].Text)
	assert.Equal(t, "Water\n\nWater is life.", pages[1].Text)
	assert.Equal(t, "Water : Cycle\n\nEvaporation happens.", pages[2].Text)
	assert.Equal(t, "Air\n\nAir moves.", pages[3].Text)
	for i, p := range pages {
		assert.Equal(t, i+1, p.Number)
	}
}

func TestMarkdownWithoutHeadings(t *testing.T) {
	res, err := NewMarkdownExtractor().Extract(context.Background(), []byte("just text\n"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, "just text", res.RawText)
}

func TestPDFRejectsGarbage(t *testing.T) {
	_, err := PDFExtractor{}.Extract(context.Background(), []byte("not a pdf"), "application/pdf")
	assert.Error(t, err)
}

func TestVisionOCR(t *testing.T) {
	calls := 0
	ocr := newVisionOCR(func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		calls++
		require.Len(t, req.Requests, 1)
		assert.Equal(t, visionpb.Feature_DOCUMENT_TEXT_DETECTION, req.Requests[0].Features[0].Type)
		if calls == 1 {
			return nil, status.Error(codes.Unavailable, "try again")
		}
		return &visionpb.BatchAnnotateImagesResponse{
			Responses: []*visionpb.AnnotateImageResponse{{
				FullTextAnnotation: &visionpb.TextAnnotation{Text: "ප්‍රභාසංශ්ලේෂණය\n"},
			}},
		}, nil
	}, nil, nil)

	res, err := ocr.Extract(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "ප්‍රභාසංශ්ලේෂණය", res.RawText)
	assert.NoError(t, ocr.Close())
}

func TestVisionOCRPermanentError(t *testing.T) {
	calls := 0
	ocr := newVisionOCR(func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		calls++
		return nil, status.Error(codes.PermissionDenied, "no")
	}, nil, nil)

	_, err := ocr.Extract(context.Background(), []byte("img"), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, codes.PermissionDenied, status.Code(errors.Unwrap(err)))
}

func TestSpeechASR(t *testing.T) {
	asr := newSpeechASR(func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
		assert.Equal(t, "si-LK", req.Config.LanguageCode)
		assert.Equal(t, speechpb.RecognitionConfig_FLAC, req.Config.Encoding)
		return &speechpb.LongRunningRecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " පළමු කොටස "}}},
				{Alternatives: nil},
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "දෙවන කොටස"}}},
			},
		}, nil
	}, nil, "", nil)

	res, err := asr.Extract(context.Background(), []byte("fLaC"), "audio/flac")
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, 2, res.Pages[1].Number)
	assert.Equal(t, "පළමු කොටස\n\nදෙවන කොටස", res.RawText)
}

func TestInferEncoding(t *testing.T) {
	tests := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"audio/wav":  speechpb.RecognitionConfig_LINEAR16,
		"audio/mpeg": speechpb.RecognitionConfig_MP3,
		"audio/ogg":  speechpb.RecognitionConfig_OGG_OPUS,
		"audio/webm": speechpb.RecognitionConfig_WEBM_OPUS,
		"audio/aac":  speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
	}
	for mimeType, want := range tests {
		assert.Equal(t, want, inferEncoding(mimeType), mimeType)
	}
}

func TestGoogleOptions(t *testing.T) {
	assert.Empty(t, GoogleOptions(""))
	assert.Len(t, GoogleOptions("/etc/creds.json"), 1)
	assert.Len(t, GoogleOptions(`{"type":"service_account"}`), 1)
}

func TestFileStoreAndMux(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("දත්ත"), 0o644))

	mux := NewMux(FileStore{Root: dir})
	mux.Handle("file", FileStore{Root: dir})
	mux.Handle("mem", blobFunc(func(ctx context.Context, path string) ([]byte, error) {
		return []byte(path), nil
	}))

	data, err := mux.Read(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "දත්ත", string(data))

	data, err = mux.Read(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "a.txt")))
	require.NoError(t, err)
	assert.Equal(t, "දත්ත", string(data))

	data, err = mux.Read(context.Background(), "MEM://x")
	require.NoError(t, err)
	assert.Equal(t, "MEM://x", string(data))

	_, err = mux.Read(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = mux.Read(context.Background(), "s3://bucket/key")
	assert.Error(t, err)
}

type blobFunc func(ctx context.Context, path string) ([]byte, error)

func (f blobFunc) Read(ctx context.Context, path string) ([]byte, error) { return f(ctx, path) }
