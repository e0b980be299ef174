package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind distinguishes graph-derived from passage-derived evidence.
type Kind string

const (
	KindGraph  Kind = "graph"
	KindVector Kind = "vector"
)

// GraphHit is one (subject, predicate, object) relation from the graph store.
type GraphHit struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// String renders the hit as "(subject) -[predicate]-> (object)".
func (h GraphHit) String() string {
	return fmt.Sprintf("(%s) -[%s]-> (%s)", h.Subject, h.Predicate, h.Object)
}

// VectorHit is one passage with its caller-supplied similarity or distance.
type VectorHit struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Evidence is a uniform, rankable unit of retrieved information.
type Evidence struct {
	ID            string  `json:"id"`
	Kind          Kind    `json:"kind"`
	Source        string  `json:"source"`
	Content       string  `json:"content"`
	RawScore      float64 `json:"raw_score"`
	AdjustedScore float64 `json:"adjusted_score"`
	Tokens        int     `json:"approx_token_count"`
}

// Stats summarizes budget use for an assembled context.
type Stats struct {
	RequestedTokenBudget int `json:"requested_token_budget"`
	ConsumedTokens       int `json:"consumed_tokens"`
	ItemCount            int `json:"item_count"`
}

// AssembledContext is the bounded evidence set handed to answer generation.
type AssembledContext struct {
	Question string     `json:"question"`
	Evidence []Evidence `json:"evidence"`
	Stats    Stats      `json:"stats"`
}

// FromGraph converts graph hits to evidence with raw score 1.0.
func FromGraph(hits []GraphHit, source string, tok Tokenizer) []Evidence {
	out := make([]Evidence, 0, len(hits))
	for i, h := range hits {
		content := h.String()
		out = append(out, Evidence{
			ID:       makeID("KG#", content, source, i),
			Kind:     KindGraph,
			Source:   source,
			Content:  content,
			RawScore: 1.0,
			Tokens:   tok.Count(content),
		})
	}
	return out
}

// FromVector converts vector hits to evidence. The score is carried over as
// the raw score without inversion or normalization.
func FromVector(hits []VectorHit, source string, tok Tokenizer) []Evidence {
	out := make([]Evidence, 0, len(hits))
	for i, h := range hits {
		out = append(out, Evidence{
			ID:       makeID("VDB#", h.Text, source, i),
			Kind:     KindVector,
			Source:   source,
			Content:  h.Text,
			RawScore: h.Score,
			Tokens:   tok.Count(h.Text),
		})
	}
	return out
}

// Dedupe keeps one item per normalized content. The survivor has the highest
// raw score and occupies the position where that content was first seen.
func Dedupe(items []Evidence) []Evidence {
	index := make(map[string]int, len(items))
	out := make([]Evidence, 0, len(items))
	for _, it := range items {
		key := normalize(it.Content)
		if pos, ok := index[key]; ok {
			if it.RawScore > out[pos].RawScore {
				out[pos] = it
			}
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	return out
}

// Rank sets adjusted scores and orders items by (adjusted score, tokens)
// descending. Remaining ties keep their input order.
func Rank(items []Evidence, graphBoost float64) []Evidence {
	out := make([]Evidence, len(items))
	copy(out, items)
	for i := range out {
		out[i].AdjustedScore = out[i].RawScore
		if out[i].Kind == KindGraph {
			out[i].AdjustedScore = out[i].RawScore * graphBoost
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AdjustedScore != out[j].AdjustedScore {
			return out[i].AdjustedScore > out[j].AdjustedScore
		}
		return out[i].Tokens > out[j].Tokens
	})
	return out
}

// Select admits ranked items while the running total, which starts at
// startTokens, stays within maxTokens. The first item is always admitted.
// Selection stops at the first item that does not fit or at maxItems.
func Select(ranked []Evidence, startTokens, maxTokens, maxItems int) ([]Evidence, int) {
	total := startTokens
	selected := make([]Evidence, 0, min(len(ranked), max(maxItems, 0)))
	for _, it := range ranked {
		if len(selected) >= maxItems {
			break
		}
		if total+it.Tokens > maxTokens && len(selected) > 0 {
			break
		}
		selected = append(selected, it)
		total += it.Tokens
	}
	return selected, total
}

func normalize(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}

func makeID(prefix, content, source string, index int) string {
	sum := sha256.Sum256([]byte(content + source + strconv.Itoa(index)))
	return prefix + hex.EncodeToString(sum[:])[:12]
}
