package model

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"icdcode/embedding"
	"icdcode/vocab"
)

// Pool selects the bag-of-words reduction over time.
type Pool string

const (
	PoolMean Pool = "mean"
	PoolMax  Pool = "max"
)

// Cell selects the recurrent unit.
type Cell string

const (
	CellLSTM Cell = "lstm"
	CellGRU  Cell = "gru"
)

// Config carries every knob of the classifier family. Fields a given
// architecture does not use are ignored by it.
type Config struct {
	// Labels is the number of output codes (Y).
	Labels int
	// VocabRows is the embedding row count when no pretrained table is given:
	// vocabulary size plus padding and unknown.
	VocabRows int
	EmbedDim  int
	// Embeddings, when set, replaces the random table.
	Embeddings *embedding.Table
	Dropout    float64
	Seed       uint64

	// Lambda weights the description regularizer; LambdaSim and LambdaSub
	// weight caller-supplied similarity and substructure terms.
	Lambda    float64
	LambdaSim float64
	LambdaSub float64

	KernelSize int
	FilterMaps int

	Pool Pool

	Cell          Cell
	RNNDim        int
	Layers        int
	Bidirectional bool

	// CodeVectors initializes per-label output rows, matched by code through
	// LabelSet.
	CodeVectors *embedding.KeyedVectors
	LabelSet    *vocab.LabelSet

	// DescriptionEmbeddings gives the description encoder its own table.
	// When nil it shares the main table.
	DescriptionEmbeddings *embedding.Table

	Logger *zerolog.Logger
}

// DefaultConfig returns the settings used for MIMIC-III experiments.
func DefaultConfig(labels, vocabRows int) Config {
	return Config{
		Labels:     labels,
		VocabRows:  vocabRows,
		EmbedDim:   100,
		Dropout:    0.5,
		Seed:       1337,
		KernelSize: 10,
		FilterMaps: 50,
		Pool:       PoolMean,
		Cell:       CellGRU,
		RNNDim:     128,
		Layers:     1,
	}
}

func (c Config) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &log.Logger
}

// validate checks the fields shared by every classifier.
func (c Config) validate() error {
	if c.Labels <= 0 {
		return mismatch("label count must be positive, got %d", c.Labels)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return mismatch("dropout must be in [0, 1), got %g", c.Dropout)
	}
	if c.Embeddings != nil {
		if c.EmbedDim != 0 && c.EmbedDim != c.Embeddings.Dim {
			return mismatch("embedding dimension: config %d, table %d", c.EmbedDim, c.Embeddings.Dim)
		}
		if c.VocabRows != 0 && c.VocabRows != c.Embeddings.Rows {
			return mismatch("vocabulary rows: config %d, table %d", c.VocabRows, c.Embeddings.Rows)
		}
	} else {
		if c.VocabRows < 2 {
			return mismatch("vocabulary needs at least padding and one token, got %d rows", c.VocabRows)
		}
		if c.EmbedDim <= 0 {
			return mismatch("embedding dimension must be positive, got %d", c.EmbedDim)
		}
	}
	if c.CodeVectors != nil {
		if c.LabelSet == nil {
			return mismatch("code vectors need a label set")
		}
		if c.LabelSet.Len() != c.Labels {
			return mismatch("label set has %d codes, want %d", c.LabelSet.Len(), c.Labels)
		}
	}
	return nil
}

func (c Config) validateConv() error {
	if c.KernelSize < 1 {
		return mismatch("kernel size must be positive, got %d", c.KernelSize)
	}
	if c.FilterMaps < 1 {
		return mismatch("filter maps must be positive, got %d", c.FilterMaps)
	}
	return nil
}
