package retrieval

import (
	"math"
	"sort"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25 is an in-memory Okapi BM25 index over pre-tokenized documents.
// Document positions are their indices in the slice given to NewBM25.
type BM25 struct {
	termFreqs []map[string]int
	docLens   []int
	docFreq   map[string]int
	avgDocLen float64
}

// NewBM25 indexes docs.
func NewBM25(docs [][]string) *BM25 {
	idx := &BM25{
		termFreqs: make([]map[string]int, len(docs)),
		docLens:   make([]int, len(docs)),
		docFreq:   make(map[string]int),
	}
	total := 0
	for i, tokens := range docs {
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t := range tf {
			idx.docFreq[t]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(tokens)
		total += len(tokens)
	}
	if len(docs) > 0 {
		idx.avgDocLen = float64(total) / float64(len(docs))
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *BM25) Len() int { return len(idx.docLens) }

func (idx *BM25) idf(term string) float64 {
	n := float64(idx.Len())
	df := float64(idx.docFreq[term])
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// Score returns the BM25 score of every document for query. Repeated query
// terms count once.
func (idx *BM25) Score(query []string) []float64 {
	scores := make([]float64, idx.Len())
	if idx.Len() == 0 || idx.avgDocLen == 0 {
		return scores
	}
	seen := make(map[string]struct{}, len(query))
	for _, term := range query {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		if idx.docFreq[term] == 0 {
			continue
		}
		idf := idx.idf(term)
		for i, tf := range idx.termFreqs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(idx.docLens[i])/idx.avgDocLen
			scores[i] += idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
		}
	}
	return scores
}

// ScoredDoc is a document position with its BM25 score.
type ScoredDoc struct {
	Index int
	Score float64
}

// TopK returns up to k documents with a positive score, best first. Equal
// scores keep index order.
func (idx *BM25) TopK(query []string, k int) []ScoredDoc {
	if k <= 0 {
		return nil
	}
	scores := idx.Score(query)
	var out []ScoredDoc
	for i, s := range scores {
		if s > 0 {
			out = append(out, ScoredDoc{Index: i, Score: s})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}
