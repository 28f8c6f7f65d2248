package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kura/data/db/knowledge.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/kura/data/indices/vector"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kura/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kura/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Vector.QdrantHost == "" {
		cfg.Vector.QdrantHost = "localhost"
	}
	if cfg.Vector.QdrantPort == 0 {
		cfg.Vector.QdrantPort = 6334
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "none"
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = 60 * time.Second
	}
	if cfg.Oracle.Burst == 0 {
		cfg.Oracle.Burst = 1
	}
	if cfg.Knowledge.Collection == "" {
		cfg.Knowledge.Collection = "knowledge"
	}
	if cfg.Knowledge.PatternsCollection == "" {
		cfg.Knowledge.PatternsCollection = "success_patterns"
	}
	if cfg.Knowledge.ExtractMaxLen == 0 {
		cfg.Knowledge.ExtractMaxLen = 2000
	}
	if cfg.Knowledge.PatternMaxLen == 0 {
		cfg.Knowledge.PatternMaxLen = 3000
	}
	if cfg.Knowledge.CorrelationScore == 0 {
		cfg.Knowledge.CorrelationScore = 0.7
	}
	if cfg.Knowledge.PatternSearchK == 0 {
		cfg.Knowledge.PatternSearchK = 5
	}
	if cfg.Knowledge.TopElements == 0 {
		cfg.Knowledge.TopElements = 20
	}
	if cfg.Knowledge.TopStrategies == 0 {
		cfg.Knowledge.TopStrategies = 15
	}
	if cfg.Knowledge.Workers == 0 {
		cfg.Knowledge.Workers = 2
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"}
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
