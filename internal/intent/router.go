package intent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/embedding"
)

// DefaultThreshold is the minimum anchor cosine for a semantic match.
const DefaultThreshold = 0.65

// Method records how an intent was chosen.
type Method string

const (
	MethodHint     Method = "hint"
	MethodRule     Method = "rule"
	MethodSemantic Method = "semantic"
	MethodDefault  Method = "default"
)

// Anchor is a short example sentence for one intent.
type Anchor struct {
	Intent Intent
	Text   string
}

// DefaultAnchors has one Sinhala sentence per intent.
var DefaultAnchors = []Anchor{
	{Greeting, "ආයුබෝවන්, ඔබට කොහොමද?"},
	{Summary, "මෙම පාඩමේ ප්‍රධාන කරුණු කෙටියෙන් සාරාංශ කරන්න."},
	{QAGenerate, "මෙම පාඩමෙන් පුහුණු ප්‍රශ්න සහ පිළිතුරු සාදන්න."},
	{QAAnswer, "මෙම ප්‍රශ්නයට පිළිතුර කුමක්ද?"},
	{Explanation, "මෙම සංකල්පය පියවරෙන් පියවර පැහැදිලි කරන්න."},
}

// Classification is the router's decision.
type Classification struct {
	Intent Intent
	Method Method
	// Score is the best anchor cosine when the semantic pass ran.
	Score float64
}

// Router classifies queries by keyword rules, then by anchor similarity.
type Router struct {
	embedder  embedding.Provider
	threshold float64
	anchors   []Anchor
	logger    *zap.Logger

	mu         sync.Mutex
	anchorVecs [][]float32
}

// NewRouter creates a router. A nil embedder disables the semantic pass;
// nil or empty anchors select DefaultAnchors.
func NewRouter(embedder embedding.Provider, threshold float64, anchors []Anchor, logger *zap.Logger) *Router {
	if len(anchors) == 0 {
		anchors = DefaultAnchors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{embedder: embedder, threshold: threshold, anchors: anchors, logger: logger}
}

// Classify picks the intent of query. A valid hint wins outright. Embedding
// failures degrade to the qa_answer default rather than failing the query.
func (r *Router) Classify(ctx context.Context, query string, hint Intent) Classification {
	if hint.Valid() {
		return Classification{Intent: hint, Method: MethodHint}
	}
	if in, ok := MatchRules(query); ok {
		return Classification{Intent: in, Method: MethodRule}
	}
	if r.embedder == nil {
		return Classification{Intent: QAAnswer, Method: MethodDefault}
	}

	anchors, err := r.anchorVectors(ctx)
	if err != nil {
		r.logger.Warn("Intent anchors unavailable, using default", zap.Error(err))
		return Classification{Intent: QAAnswer, Method: MethodDefault}
	}
	qv, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		r.logger.Warn("Query embedding for intent failed, using default", zap.Error(err))
		return Classification{Intent: QAAnswer, Method: MethodDefault}
	}

	best, bestScore := -1, 0.0
	for i, av := range anchors {
		if s := embedding.Cosine(qv, av); best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	if best >= 0 && bestScore >= r.threshold {
		return Classification{Intent: r.anchors[best].Intent, Method: MethodSemantic, Score: bestScore}
	}
	return Classification{Intent: QAAnswer, Method: MethodDefault, Score: bestScore}
}

// anchorVectors embeds the anchors on first use and keeps them.
func (r *Router) anchorVectors(ctx context.Context) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.anchorVecs != nil {
		return r.anchorVecs, nil
	}
	texts := make([]string, len(r.anchors))
	for i, a := range r.anchors {
		texts[i] = a.Text
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err := embedding.CheckDimension(vecs, r.embedder.Dimension()); err != nil {
		return nil, err
	}
	r.anchorVecs = vecs
	return vecs, nil
}
