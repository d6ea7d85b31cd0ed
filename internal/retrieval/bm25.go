package retrieval

import "math"

// BM25 is an Okapi BM25 index over pre-tokenized documents.
// Terms with a negative idf get a floor of Epsilon times the average idf.
type BM25 struct {
	K1      float64
	B       float64
	Epsilon float64

	docFreqs []map[string]int
	docLens  []int
	avgdl    float64
	idf      map[string]float64
}

// NewBM25 indexes docs with k1=1.5, b=0.75, epsilon=0.25.
func NewBM25(docs [][]string) *BM25 {
	idx := &BM25{K1: 1.5, B: 0.75, Epsilon: 0.25, idf: map[string]float64{}}
	idx.build(docs)
	return idx
}

func (m *BM25) build(docs [][]string) {
	nd := map[string]int{}
	total := 0
	for _, doc := range docs {
		freqs := make(map[string]int, len(doc))
		for _, tok := range doc {
			freqs[tok]++
		}
		for tok := range freqs {
			nd[tok]++
		}
		m.docFreqs = append(m.docFreqs, freqs)
		m.docLens = append(m.docLens, len(doc))
		total += len(doc)
	}
	if len(docs) == 0 {
		return
	}
	m.avgdl = float64(total) / float64(len(docs))

	n := float64(len(docs))
	sum := 0.0
	var negative []string
	for tok, freq := range nd {
		f := float64(freq)
		idf := math.Log(n-f+0.5) - math.Log(f+0.5)
		m.idf[tok] = idf
		sum += idf
		if idf < 0 {
			negative = append(negative, tok)
		}
	}
	eps := m.Epsilon * sum / float64(len(nd))
	for _, tok := range negative {
		m.idf[tok] = eps
	}
}

// Len returns the number of indexed documents.
func (m *BM25) Len() int {
	return len(m.docFreqs)
}

// Scores returns one score per document, in index order. Repeated query
// tokens count once per occurrence.
func (m *BM25) Scores(query []string) []float64 {
	scores := make([]float64, len(m.docFreqs))
	if m.avgdl == 0 {
		return scores
	}
	for _, q := range query {
		idf, ok := m.idf[q]
		if !ok {
			continue
		}
		for i, freqs := range m.docFreqs {
			f := float64(freqs[q])
			if f == 0 {
				continue
			}
			norm := 1 - m.B + m.B*float64(m.docLens[i])/m.avgdl
			scores[i] += idf * (f * (m.K1 + 1) / (f + m.K1*norm))
		}
	}
	return scores
}
