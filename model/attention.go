package model

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LabelAttention scores every label against its own summary of the document.
// Each label has an attention vector (a row of U) and a classification vector
// (a row of Final). The label's attention over positions is a softmax of U·h_t;
// its document vector is the attention-weighted sum of the h_t; its score is
// Final·m + bias.
type LabelAttention struct {
	U     *gorgonia.Node // (Y, F)
	Final *gorgonia.Node // (Y, F)
	Bias  *gorgonia.Node // (1, Y)
}

// Forward takes convolution features h (B, L, F) and returns the scores
// (B, Y) and the attention weights (B, Y, L).
func (a *LabelAttention) Forward(h *gorgonia.Node) (scores, alpha *gorgonia.Node, err error) {
	b, l, f := h.Shape()[0], h.Shape()[1], h.Shape()[2]
	y := a.U.Shape()[0]

	// 1. Per-position label scores U·h_t: (B*L, F) x (F, Y)
	flat, err := gorgonia.Reshape(h, tensor.Shape{b * l, f})
	if err != nil {
		return nil, nil, err
	}
	uT, err := gorgonia.Transpose(a.U)
	if err != nil {
		return nil, nil, err
	}
	raw, err := gorgonia.Mul(flat, uT)
	if err != nil {
		return nil, nil, err
	}

	// 2. Softmax over positions. (B, L, Y) -> (B, Y, L) -> rows of length L.
	raw3, err := gorgonia.Reshape(raw, tensor.Shape{b, l, y})
	if err != nil {
		return nil, nil, err
	}
	byLabel, err := gorgonia.Transpose(raw3, 0, 2, 1)
	if err != nil {
		return nil, nil, err
	}
	rows, err := gorgonia.Reshape(byLabel, tensor.Shape{b * y, l})
	if err != nil {
		return nil, nil, err
	}
	probs, err := gorgonia.SoftMax(rows)
	if err != nil {
		return nil, nil, err
	}
	alpha, err = gorgonia.Reshape(probs, tensor.Shape{b, y, l})
	if err != nil {
		return nil, nil, err
	}

	// 3. Label-specific document vectors: (B, Y, L) x (B, L, F) -> (B, Y, F)
	m, err := gorgonia.BatchedMatMul(alpha, h)
	if err != nil {
		return nil, nil, err
	}

	// 4. Score = sum_f Final[y, f] * m[b, y, f] + bias[y]
	mFlat, err := gorgonia.Reshape(m, tensor.Shape{b, y * f})
	if err != nil {
		return nil, nil, err
	}
	wFlat, err := gorgonia.Reshape(a.Final, tensor.Shape{1, y * f})
	if err != nil {
		return nil, nil, err
	}
	weighted, err := gorgonia.BroadcastHadamardProd(mFlat, wFlat, nil, []byte{0})
	if err != nil {
		return nil, nil, err
	}
	weighted3, err := gorgonia.Reshape(weighted, tensor.Shape{b, y, f})
	if err != nil {
		return nil, nil, err
	}
	summed, err := gorgonia.Sum(weighted3, 2)
	if err != nil {
		return nil, nil, err
	}
	scores, err = gorgonia.BroadcastAdd(summed, a.Bias, nil, []byte{0})
	if err != nil {
		return nil, nil, err
	}
	return scores, alpha, nil
}
