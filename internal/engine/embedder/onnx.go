package embedder

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// runtimeInit guards global ONNX Runtime initialization (process-wide).
var runtimeInit struct {
	once sync.Once
	err  error
}

func initRuntime(libPath string) error {
	runtimeInit.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		runtimeInit.err = ort.InitializeEnvironment()
	})
	return runtimeInit.err
}

// onnxSession wraps a DynamicAdvancedSession for BERT-style encoders with
// inputs input_ids / attention_mask / token_type_ids and a single
// [batch, seq, dim] hidden-state output.
type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	embedDim   int64
}

func newONNXSession(modelPath string) (*onnxSession, error) {
	// The runtime shared library ships next to the model file.
	libPath := filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model info: %w", err)
	}

	names := map[string]bool{}
	for _, in := range inputs {
		names[in.Name] = true
	}
	required := []string{"input_ids", "attention_mask", "token_type_ids"}
	for _, n := range required {
		if !names[n] {
			return nil, fmt.Errorf("onnx: model missing input %q", n)
		}
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}
	dims := outputs[0].Dimensions
	if len(dims) != 3 {
		return nil, fmt.Errorf("onnx: expected [batch, seq, dim] output, got %v", dims)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, required, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &onnxSession{
		session:    session,
		inputNames: required,
		outputName: outputs[0].Name,
		embedDim:   dims[2],
	}, nil
}

// infer runs one inference call over an encoded batch and returns the raw
// hidden states as a flat [batch * seq * dim] slice.
func (s *onnxSession) infer(batch encodedBatch) ([]float32, error) {
	shape := ort.NewShape(batch.batchSize, batch.seqLen)

	tIDs, err := ort.NewTensor(shape, batch.inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer tIDs.Destroy()

	tMask, err := ort.NewTensor(shape, batch.attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer tMask.Destroy()

	tTypes, err := ort.NewTensor(shape, batch.tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer tTypes.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(batch.batchSize, batch.seqLen, s.embedDim))
	if err != nil {
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := s.session.Run([]ort.Value{tIDs, tMask, tTypes}, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	// Copy out before the tensor is destroyed.
	src := tOut.GetData()
	hidden := make([]float32, len(src))
	copy(hidden, src)
	return hidden, nil
}

func (s *onnxSession) close() error {
	return s.session.Destroy()
}

// meanPool computes attention-mask-weighted mean pooling over the sequence
// dimension. hidden is flat [batch * seq * dim], mask flat [batch * seq].
// Returns flat [batch * dim], one pooled vector per sample.
func meanPool(hidden []float32, mask []int64, batchSize, seqLen, dim int64) []float32 {
	out := make([]float32, batchSize*dim)
	for b := int64(0); b < batchSize; b++ {
		maskOff := b * seqLen
		hiddenOff := b * seqLen * dim
		outOff := b * dim

		var count float32
		for s := int64(0); s < seqLen; s++ {
			if mask[maskOff+s] != 1 {
				continue
			}
			count++
			tokOff := hiddenOff + s*dim
			for d := int64(0); d < dim; d++ {
				out[outOff+d] += hidden[tokOff+d]
			}
		}
		if count == 0 {
			continue
		}
		inv := 1.0 / count
		for d := int64(0); d < dim; d++ {
			out[outOff+d] *= inv
		}
	}
	return out
}
