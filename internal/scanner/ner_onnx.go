//go:build onnx
// +build onnx

package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// onnxNER runs a token-classification model through ONNX Runtime.
// Labels follow the common BIO scheme for clinical de-identification
// models (PATIENT, DOCTOR, DATE, PHONE, ID, LOCATION).
type onnxNER struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	logger     *zap.Logger
	ready      bool
	mu         sync.RWMutex
}

// NewNERBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewNERBackend(logger *zap.Logger, modelPath string) NERBackend {
	if modelPath == "" {
		return nil
	}

	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	preferredInputs := []string{"input_ids", "attention_mask", "token_type_ids"}
	available := map[string]bool{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = true
	}
	var inputNames []string
	for _, name := range preferredInputs {
		if available[name] {
			inputNames = append(inputNames, name)
		}
	}
	if len(inputNames) == 0 || len(outputsInfo) == 0 {
		logger.Error("ONNX model is not a usable token classifier", zap.String("model", modelPath))
		return nil
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	logger.Info("ONNX NER backend ready", zap.String("model", modelPath), zap.Strings("inputs", inputNames))
	return &onnxNER{session: sess, inputNames: inputNames, outputName: outputName, logger: logger, ready: true}
}

// labelCategories maps model label names onto the taxonomy.
var labelCategories = map[string]taxonomy.IdentifierCategory{
	"PATIENT":  taxonomy.PatientName,
	"DOCTOR":   taxonomy.ProviderName,
	"DATE":     taxonomy.ServiceDate,
	"PHONE":    taxonomy.Phone,
	"ID":       taxonomy.MedicalRecordNumber,
	"LOCATION": taxonomy.Address,
}

// DetectEntities tokenizes the text on whitespace, runs the model, and
// maps argmax labels back onto spans. Whitespace tokenization is crude
// but matches the advisory, best-effort contract of this backend.
func (b *onnxNER) DetectEntities(ctx context.Context, text string) ([]Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready || b.session == nil {
		return nil, fmt.Errorf("onnx ner backend not ready")
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	seqLen := int64(len(tokens))
	ids := make([]int64, seqLen)
	mask := make([]int64, seqLen)
	for i, tok := range tokens {
		ids[i] = hashToken(tok)
		mask[i] = 1
	}

	shape := ort.NewShape(1, seqLen)
	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, name := range b.inputNames {
		var data []int64
		switch strings.ToLower(name) {
		case "attention_mask":
			data = mask
		default:
			data = ids
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to build input tensor %s: %w", name, err)
		}
		defer t.Destroy()
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	defer out.Destroy()

	logits := out.GetData()
	numLabels := len(logits) / len(tokens)
	if numLabels == 0 {
		return nil, nil
	}

	labelNames := orderedLabels()
	var entities []Entity
	for i, tok := range tokens {
		row := logits[i*numLabels : (i+1)*numLabels]
		best, conf := argmaxSoftmax(row)
		if best == 0 || best >= len(labelNames) {
			continue // label 0 is O
		}
		if cat, ok := labelCategories[labelNames[best]]; ok {
			entities = append(entities, Entity{Category: cat, Text: tok, Confidence: conf})
		}
	}
	return entities, nil
}

func (b *onnxNER) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

func orderedLabels() []string {
	return []string{"O", "PATIENT", "DOCTOR", "DATE", "PHONE", "ID", "LOCATION"}
}

func hashToken(tok string) int64 {
	var h int64 = 5381
	for _, r := range tok {
		h = h*33 + int64(r)
	}
	if h < 0 {
		h = -h
	}
	return h % 30522 // BERT vocab size
}

func argmaxSoftmax(row []float32) (int, float64) {
	best := 0
	for i := range row {
		if row[i] > row[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range row {
		sum += float64(v * v)
	}
	if sum == 0 {
		return best, 0
	}
	return best, float64(row[best]*row[best]) / sum
}
