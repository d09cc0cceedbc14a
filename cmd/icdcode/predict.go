package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"icdcode/dataset"
	"icdcode/embedding"
	"icdcode/model"
	"icdcode/vocab"
)

func NewPredictCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a classifier over a notes file and print the top codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return predictHandler(cmd, v)
		},
	}

	f := cmd.Flags()
	f.String("data", "", "Notes CSV with TEXT and LABELS columns")
	f.String("vocab", "", "Vocabulary file, one token per line")
	f.String("labels", "", "Label file, one code per line")
	f.String("embeddings", "", "Pretrained word vectors, row-aligned with the vocabulary")
	f.String("code-vectors", "", "word2vec file with one vector per code")
	f.Bool("code-vectors-binary", false, "code vectors are in binary word2vec format")
	f.String("descriptions", "", "Code descriptions, code<TAB>text per line")
	f.Bool("encode-descriptions", false, "Derive code vectors from descriptions with a sentence encoder")
	f.String("models-dir", "models", "Directory for downloaded encoder models")
	f.String("encoder-model", embedding.DefaultEncoderModel, "Sentence encoder model name")

	f.String("model", "conv_attn", "Architecture: bow, conv_attn, conv or rnn")
	f.Int("batch-size", 16, "Documents per forward pass")
	f.Int("max-length", 2500, "Truncate documents to this many tokens (0 keeps all)")
	f.Int("top-k", 5, "Codes to print per document")
	f.Bool("explain", false, "Print the most attended window for each predicted code")

	defaults := model.DefaultConfig(0, 0)
	f.Int("embed-dim", defaults.EmbedDim, "Embedding dimension for random tables")
	f.Int("kernel-size", defaults.KernelSize, "Convolution kernel size")
	f.Int("filter-maps", defaults.FilterMaps, "Convolution filter maps")
	f.String("pool", string(defaults.Pool), "Bag-of-words pooling: mean or max")
	f.String("cell", string(defaults.Cell), "Recurrent cell: lstm or gru")
	f.Int("rnn-dim", defaults.RNNDim, "Recurrent output width")
	f.Int("layers", defaults.Layers, "Recurrent layers")
	f.Bool("bidirectional", false, "Run the recurrent encoder in both directions")
	f.Float64("lambda", 0, "Description regularization weight (conv_attn)")
	f.Uint64("seed", defaults.Seed, "Parameter initialization seed")

	return cmd
}

func predictHandler(cmd *cobra.Command, v *viper.Viper) error {
	for _, name := range []string{"data", "vocab", "labels"} {
		if v.GetString(name) == "" {
			return errors.Errorf("--%s is required", name)
		}
	}

	voc, err := vocab.Load(v.GetString("vocab"))
	if err != nil {
		return err
	}
	ls, err := vocab.LoadLabels(v.GetString("labels"))
	if err != nil {
		return err
	}
	log.Info().Int("vocab", voc.Len()).Int("labels", ls.Len()).Msg("lookups loaded")

	cfg, descTokens, err := buildConfig(cmd, v, voc, ls)
	if err != nil {
		return err
	}
	m, err := newClassifier(v.GetString("model"), cfg)
	if err != nil {
		return err
	}

	reader := dataset.NewReader(voc, ls, &log.Logger)
	reader.MaxLength = v.GetInt("max-length")
	docs, err := reader.Load(v.GetString("data"))
	if err != nil {
		return err
	}

	minLen := 1
	if v.GetString("model") == "conv" {
		minLen = cfg.KernelSize
	}
	batches := dataset.Batches(docs, v.GetInt("batch-size"), ls.Len(), minLen)

	k := v.GetInt("top-k")
	explain := v.GetBool("explain")
	var opts []model.ForwardOption
	if explain {
		opts = append(opts, model.WithAttention())
	}

	var (
		rows     [][]string
		hits     int
		possible int
		total    float64
		next     int
	)
	for i, batch := range batches {
		batch.Descriptions = descTokens
		out, err := m.Forward(batch, opts...)
		if err != nil {
			return errors.Wrapf(err, "batch %d", i)
		}
		log.Info().Int("batch", i).Int("docs", batch.Size()).Float64("loss", out.Loss).Msg("forward pass")
		total += out.Loss * float64(batch.Size())

		probs := out.Probabilities()
		for j := 0; j < batch.Size(); j++ {
			doc := docs[next]
			next++
			top := out.TopK(j, k)
			hits += countHits(top, doc.Labels)
			possible += min(k, len(doc.Labels))

			for rank, label := range top {
				row := []string{
					doc.ID,
					strconv.Itoa(rank + 1),
					ls.Code(label),
					strconv.FormatFloat(probs[j][label], 'f', 4, 64),
					strconv.FormatBool(slices.Contains(doc.Labels, label)),
				}
				if explain {
					row = append(row, window(out, batch, voc, j, label, cfg.KernelSize, v.GetString("model")))
				}
				rows = append(rows, row)
			}
		}
	}

	header := []string{"DOCUMENT", "RANK", "CODE", "PROBABILITY", "ASSIGNED"}
	if explain {
		header = append(header, "EVIDENCE")
	}
	render(cmd.OutOrStdout(), header, rows)

	if len(docs) > 0 {
		log.Info().Float64("loss", total/float64(len(docs))).Msg("mean loss")
	}
	if possible > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\nprecision@%d: %.4f\n", k, float64(hits)/float64(possible))
	}
	return nil
}

// buildConfig assembles the classifier configuration from flags and loads the
// optional tables it names.
func buildConfig(cmd *cobra.Command, v *viper.Viper, voc *vocab.Vocabulary, ls *vocab.LabelSet) (model.Config, map[int][]int, error) {
	cfg := model.DefaultConfig(ls.Len(), voc.Rows())
	cfg.EmbedDim = v.GetInt("embed-dim")
	cfg.KernelSize = v.GetInt("kernel-size")
	cfg.FilterMaps = v.GetInt("filter-maps")
	cfg.Pool = model.Pool(v.GetString("pool"))
	cfg.Cell = model.Cell(v.GetString("cell"))
	cfg.RNNDim = v.GetInt("rnn-dim")
	cfg.Layers = v.GetInt("layers")
	cfg.Bidirectional = v.GetBool("bidirectional")
	cfg.Lambda = v.GetFloat64("lambda")
	cfg.Seed = v.GetUint64("seed")
	cfg.LabelSet = ls
	cfg.Logger = &log.Logger

	if path := v.GetString("embeddings"); path != "" {
		table, err := embedding.LoadTable(path, cfg.Seed)
		if err != nil {
			return cfg, nil, err
		}
		cfg.Embeddings = table
		cfg.EmbedDim = 0
	}

	var descs map[string]string
	if path := v.GetString("descriptions"); path != "" {
		var err error
		if descs, err = dataset.LoadDescriptions(path); err != nil {
			return cfg, nil, err
		}
	}

	switch {
	case v.GetString("code-vectors") != "":
		kv, err := embedding.LoadWord2Vec(v.GetString("code-vectors"), v.GetBool("code-vectors-binary"))
		if err != nil {
			return cfg, nil, err
		}
		cfg.CodeVectors = kv
	case v.GetBool("encode-descriptions"):
		if descs == nil {
			return cfg, nil, errors.Errorf("--encode-descriptions needs --descriptions")
		}
		enc, err := embedding.NewDescriptionEncoder(v.GetString("models-dir"), v.GetString("encoder-model"))
		if err != nil {
			return cfg, nil, err
		}
		if cfg.CodeVectors, err = enc.Encode(cmd.Context(), descs); err != nil {
			return cfg, nil, err
		}
	}

	var descTokens map[int][]int
	if cfg.Lambda > 0 {
		if descs == nil {
			return cfg, nil, errors.Errorf("--lambda needs --descriptions")
		}
		descTokens = dataset.EncodeDescriptions(descs, voc, ls)
		log.Info().Int("codes", len(descTokens)).Msg("descriptions tokenized")
	}
	return cfg, descTokens, nil
}

func newClassifier(name string, cfg model.Config) (model.Classifier, error) {
	switch name {
	case "bow":
		return model.NewBOWPool(cfg)
	case "conv_attn":
		return model.NewConvAttnPool(cfg)
	case "conv":
		return model.NewVanillaConv(cfg)
	case "rnn":
		return model.NewVanillaRNN(cfg)
	}
	return nil, errors.Errorf("unknown model %q", name)
}

// window renders the tokens under the most attended position of label for
// document j. conv_attn positions are centered on their token; conv windows
// start at theirs.
func window(out *model.Output, batch *model.Batch, voc *vocab.Vocabulary, j, label, kernel int, arch string) string {
	if out.Attention == nil {
		return ""
	}
	shape := out.Attention.Shape()
	labels, positions := shape[1], shape[2]
	attn := out.Attention.Data().([]float64)[(j*labels+label)*positions : (j*labels+label+1)*positions]

	best := 0
	for p := range attn {
		if attn[p] > attn[best] {
			best = p
		}
	}
	start := best
	if arch == "conv_attn" {
		start -= kernel / 2
	}

	var words []string
	tokens := batch.Tokens[j]
	for t := max(start, 0); t < start+kernel && t < len(tokens); t++ {
		if tokens[t] == vocab.Pad {
			continue
		}
		words = append(words, voc.Word(tokens[t]))
	}
	return strings.Join(words, " ")
}

func countHits(top, gold []int) int {
	n := 0
	for _, l := range top {
		if slices.Contains(gold, l) {
			n++
		}
	}
	return n
}

func render(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}
