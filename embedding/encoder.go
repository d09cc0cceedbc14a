package embedding

import (
	"context"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textencoding"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultEncoderModel is used when no model name is configured.
const DefaultEncoderModel = "sentence-transformers/all-MiniLM-L6-v2"

// DescriptionEncoder turns code description text into code vectors with a
// Cybertron sentence encoder. The result can seed classifier output rows in
// place of a separately trained code embedding.
type DescriptionEncoder struct {
	Interface textencoding.Interface
}

// NewDescriptionEncoder loads modelName (or DefaultEncoderModel) from
// modelsDir, downloading it on first use.
func NewDescriptionEncoder(modelsDir, modelName string) (*DescriptionEncoder, error) {
	if modelName == "" {
		modelName = DefaultEncoderModel
	}
	log.Info().Str("model", modelName).Msg("loading description encoder (this may take time on first run)")

	m, err := tasks.Load[textencoding.Interface](&tasks.Config{
		ModelsDir: modelsDir,
		ModelName: modelName,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load encoder %s", modelName)
	}
	return &DescriptionEncoder{Interface: m}, nil
}

// Encode embeds every description and returns the vectors keyed by code.
func (e *DescriptionEncoder) Encode(ctx context.Context, descriptions map[string]string) (*KeyedVectors, error) {
	var kv *KeyedVectors
	for code, text := range descriptions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := e.Interface.Encode(ctx, text, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "encode description of %s", code)
		}
		vec := result.Vector.Data().F64()
		if kv == nil {
			kv = NewKeyedVectors(len(vec))
		}
		if err := kv.Set(code, vec); err != nil {
			return nil, err
		}
	}
	if kv == nil {
		return nil, errors.New("embedding: no descriptions to encode")
	}
	log.Info().Int("codes", kv.Len()).Int("dim", kv.Dim()).Msg("descriptions encoded")
	return kv, nil
}
