package vectordb

import "time"

// Config controls the Qdrant client.
type Config struct {
	URL        string        `mapstructure:"url"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	TopK       int           `mapstructure:"top_k"`
	Threshold  float64       `mapstructure:"threshold"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Expected embedding dimension; 0 skips validation.
	ExpectedEmbeddingDim int `mapstructure:"expected_dim"`
}

// UpsertItem is a single point to insert into Qdrant.
type UpsertItem struct {
	ID      interface{}            `json:"id,omitempty"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertResponse captures the basic Qdrant upsert response.
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}
