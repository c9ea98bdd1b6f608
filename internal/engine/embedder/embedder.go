// Package embedder turns record text into fixed-dimension vectors using a
// local ONNX sentence-transformer. Embedding is a pure function of the input
// text: identical text always yields the identical vector, which the caching
// wrapper relies on.
package embedder

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	Close() error
}

// ONNXEmbedder runs local inference: tokenize → BERT-style ONNX session →
// attention-masked mean pooling.
type ONNXEmbedder struct {
	session *onnxSession
	tok     *wordpieceTokenizer
}

// New loads the ONNX model and WordPiece vocabulary.
func New(modelPath, vocabPath string) (*ONNXEmbedder, error) {
	sess, err := newONNXSession(modelPath)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	tok, err := newWordpieceTokenizer(vocabPath)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("embed: %w", err)
	}
	return &ONNXEmbedder{session: sess, tok: tok}, nil
}

// Dim returns the embedding dimensionality.
func (e *ONNXEmbedder) Dim() int {
	return int(e.session.embedDim)
}

// Embed produces the embedding vector for a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch produces embedding vectors for multiple texts in one inference
// call. Sequences are padded to the longest text in the batch.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := e.tok.encodeBatch(texts)
	hidden, err := e.session.infer(batch)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	dim := e.session.embedDim
	pooled := meanPool(hidden, batch.attentionMask, batch.batchSize, batch.seqLen, dim)

	out := make([][]float32, batch.batchSize)
	for i := int64(0); i < batch.batchSize; i++ {
		vec := make([]float32, dim)
		copy(vec, pooled[i*dim:(i+1)*dim])
		out[i] = vec
	}
	return out, nil
}

// Close releases ONNX Runtime resources.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		return e.session.close()
	}
	return nil
}
