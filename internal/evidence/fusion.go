package evidence

const (
	DefaultMaxTokens    = 1600
	DefaultMaxItems     = 16
	DefaultGraphBoost   = 1.2
	DefaultGraphSource  = "neo4j"
	DefaultVectorSource = "qdrant"
)

// Options configures an Engine.
type Options struct {
	MaxTokens    int
	MaxItems     int
	GraphBoost   float64
	GraphSource  string
	VectorSource string
}

// DefaultOptions returns the standard fusion limits.
func DefaultOptions() Options {
	return Options{
		MaxTokens:    DefaultMaxTokens,
		MaxItems:     DefaultMaxItems,
		GraphBoost:   DefaultGraphBoost,
		GraphSource:  DefaultGraphSource,
		VectorSource: DefaultVectorSource,
	}
}

// Engine fuses graph and vector hits into an AssembledContext.
type Engine struct {
	tok  Tokenizer
	opts Options
}

// NewEngine returns an engine. Zero-valued options fall back to defaults.
func NewEngine(tok Tokenizer, opts Options) *Engine {
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = def.MaxItems
	}
	if opts.GraphBoost <= 0 {
		opts.GraphBoost = def.GraphBoost
	}
	if opts.GraphSource == "" {
		opts.GraphSource = def.GraphSource
	}
	if opts.VectorSource == "" {
		opts.VectorSource = def.VectorSource
	}
	if tok == nil {
		tok = CharEstimator{}
	}
	return &Engine{tok: tok, opts: opts}
}

// Assemble fuses hits using the engine's configured limits.
func (e *Engine) Assemble(question string, graphHits []GraphHit, vectorHits []VectorHit) AssembledContext {
	return e.Fuse(graphHits, vectorHits, question, e.opts.MaxTokens, e.opts.MaxItems, e.opts.GraphBoost)
}

// Fuse converts, deduplicates, ranks and budget-selects evidence. Vector
// items precede graph items before ranking, so equal-score ties resolve in
// that order. Empty inputs yield an empty context whose consumed tokens
// equal the question's own estimate.
func (e *Engine) Fuse(graphHits []GraphHit, vectorHits []VectorHit, question string, maxTokens, maxItems int, kgBoost float64) AssembledContext {
	items := FromVector(vectorHits, e.opts.VectorSource, e.tok)
	items = append(items, FromGraph(graphHits, e.opts.GraphSource, e.tok)...)

	ranked := Rank(Dedupe(items), kgBoost)
	selected, consumed := Select(ranked, e.tok.Count(question), maxTokens, maxItems)

	return AssembledContext{
		Question: question,
		Evidence: selected,
		Stats: Stats{
			RequestedTokenBudget: maxTokens,
			ConsumedTokens:       consumed,
			ItemCount:            len(selected),
		},
	}
}
