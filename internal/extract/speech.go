package extract

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// DefaultSpeechLanguage is the BCP-47 tag sent to Cloud Speech.
const DefaultSpeechLanguage = "si-LK"

type recognizeFunc func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)

// SpeechASR transcribes recorded lessons with Cloud Speech long-running
// recognition. Each recognition result becomes one page.
type SpeechASR struct {
	recognize recognizeFunc
	close     func() error
	language  string
	logger    *zap.Logger
}

// NewSpeechASR dials Cloud Speech. An empty language uses si-LK.
func NewSpeechASR(ctx context.Context, language string, logger *zap.Logger, opts ...option.ClientOption) (*SpeechASR, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	recognize := func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := c.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	}
	return newSpeechASR(recognize, c.Close, language, logger), nil
}

func newSpeechASR(recognize recognizeFunc, closeFn func() error, language string, logger *zap.Logger) *SpeechASR {
	if logger == nil {
		logger = zap.NewNop()
	}
	if language == "" {
		language = DefaultSpeechLanguage
	}
	return &SpeechASR{recognize: recognize, close: closeFn, language: language, logger: logger}
}

// Close releases the underlying client.
func (s *SpeechASR) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

func (s *SpeechASR) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if len(data) == 0 {
		return &Result{}, nil
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               s.language,
			Encoding:                   inferEncoding(mimeType),
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	}

	var resp *speechpb.LongRunningRecognizeResponse
	err := withRetry(ctx, s.logger, "speech.recognize", func() error {
		var err error
		resp, err = s.recognize(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("speech recognize: %w", err)
	}
	if resp == nil {
		return &Result{}, nil
	}

	var pages []Page
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		t := strings.TrimSpace(r.Alternatives[0].Transcript)
		if t == "" {
			continue
		}
		pages = append(pages, Page{Number: len(pages) + 1, Text: t})
	}

	s.logger.Debug("Transcription complete",
		zap.String("mime", mimeType),
		zap.String("language", s.language),
		zap.Int("segments", len(pages)))

	return &Result{RawText: joinPages(pages), Pages: pages}, nil
}

func inferEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3"), strings.Contains(m, "mpeg"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg"), strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
