package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mikey/mail-risk/internal/core"
)

// ErrModelConfig marks a missing or structurally invalid model artifact
var ErrModelConfig = errors.New("model configuration error")

// ModelKind discriminates the artifact variants
type ModelKind string

const (
	KindHashedPerceptron ModelKind = "hashed_perceptron"
	KindTFIDFPerceptron  ModelKind = "tfidf_perceptron"
)

// HashedMeta records how a hashed model was trained
type HashedMeta struct {
	TrainedAt          time.Time `json:"trainedAt"`
	Epochs             int       `json:"epochs"`
	LearningRate       float64   `json:"lr"`
	TestSplitMod       uint32    `json:"testSplitMod"`
	TestSplitRemainder uint32    `json:"testSplitRemainder"`
	SeenTrain          int       `json:"seenTrain"`
	SeenTest           int       `json:"seenTest"`
	Skipped            int       `json:"skipped"`
	Accuracy           float64   `json:"accuracy"`
}

// HashedModel is the artifact of the binary hashed perceptron
type HashedModel struct {
	Version   int         `json:"version"`
	Kind      ModelKind   `json:"kind"`
	Dim       int         `json:"dim"`
	Bias      float64     `json:"bias"`
	Weights   []float64   `json:"weights"`
	Threshold float64     `json:"threshold"`
	Meta      *HashedMeta `json:"meta,omitempty"`
}

// Validate checks the structural invariants of the artifact
func (m *HashedModel) Validate() error {
	if m.Dim <= 0 || m.Dim&(m.Dim-1) != 0 {
		return fmt.Errorf("%w: dim %d is not a positive power of two", ErrModelConfig, m.Dim)
	}
	if len(m.Weights) != m.Dim {
		return fmt.Errorf("%w: %d weights for dim %d", ErrModelConfig, len(m.Weights), m.Dim)
	}
	return nil
}

// Thresholds carries the decision thresholds stored with a multiclass model
type Thresholds struct {
	Spam    float64 `json:"spam"`
	Malware float64 `json:"malware"`
}

// TFIDFMeta records how a multiclass model was trained
type TFIDFMeta struct {
	TrainedAt     time.Time      `json:"trainedAt"`
	Epochs        int            `json:"epochs"`
	LearningRate  float64        `json:"lr"`
	VocabSize     int            `json:"vocabSize"`
	TrainExamples int            `json:"trainExamples"`
	TestExamples  int            `json:"testExamples"`
	Skipped       int            `json:"skipped"`
	WeakLabeled   int            `json:"weakLabeled"`
	Accuracy      float64        `json:"accuracy"`
	ClassCounts   map[string]int `json:"classCounts,omitempty"`
}

// TFIDFModel is the artifact of the multiclass one-vs-rest perceptron
type TFIDFModel struct {
	Version           int          `json:"version"`
	Kind              ModelKind    `json:"kind"`
	Vocab             []string     `json:"vocab"`
	IDF               []float64    `json:"idf"`
	Classes           []core.Label `json:"classes"`
	Weights           [][]float64  `json:"weights"`
	Bias              []float64    `json:"bias"`
	ExtraFeatureNames []string     `json:"extraFeatureNames"`
	Thresholds        *Thresholds  `json:"thresholds,omitempty"`
	Meta              *TFIDFMeta   `json:"meta,omitempty"`
}

// Validate checks the structural invariants of the artifact
func (m *TFIDFModel) Validate() error {
	v := len(m.Vocab)
	if v == 0 {
		return fmt.Errorf("%w: empty vocabulary", ErrModelConfig)
	}
	if len(m.IDF) != v {
		return fmt.Errorf("%w: %d idf values for %d tokens", ErrModelConfig, len(m.IDF), v)
	}
	seen := make(map[string]struct{}, v)
	for _, t := range m.Vocab {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: duplicate vocabulary token %q", ErrModelConfig, t)
		}
		seen[t] = struct{}{}
	}
	if len(m.ExtraFeatureNames) != NumAuxFeatures {
		return fmt.Errorf("%w: expected %d extra features, got %d", ErrModelConfig, NumAuxFeatures, len(m.ExtraFeatureNames))
	}
	c := len(m.Classes)
	if c == 0 {
		return fmt.Errorf("%w: no classes", ErrModelConfig)
	}
	if len(m.Weights) != c || len(m.Bias) != c {
		return fmt.Errorf("%w: weights/bias do not match %d classes", ErrModelConfig, c)
	}
	for i, row := range m.Weights {
		if len(row) != v+NumAuxFeatures {
			return fmt.Errorf("%w: class %d has %d weights, expected %d", ErrModelConfig, i, len(row), v+NumAuxFeatures)
		}
	}
	return nil
}

// Artifact is a decoded model of either kind
type Artifact struct {
	Kind   ModelKind
	Hashed *HashedModel
	TFIDF  *TFIDFModel
}

type artifactHeader struct {
	Kind  ModelKind       `json:"kind"`
	Vocab json.RawMessage `json:"vocab"`
}

// DecodeArtifact parses a model artifact, dispatching on its kind.
// Artifacts without a kind but with a vocabulary are read as TF-IDF models.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var header artifactHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to parse artifact: %v", ErrModelConfig, err)
	}

	kind := header.Kind
	if kind == "" && len(header.Vocab) > 0 {
		kind = KindTFIDFPerceptron
	}

	switch kind {
	case KindHashedPerceptron:
		var m HashedModel
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: failed to parse hashed model: %v", ErrModelConfig, err)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return &Artifact{Kind: kind, Hashed: &m}, nil
	case KindTFIDFPerceptron:
		var raw struct {
			TFIDFModel
			Classes []string `json:"classes"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: failed to parse tfidf model: %v", ErrModelConfig, err)
		}
		m := raw.TFIDFModel
		m.Kind = KindTFIDFPerceptron
		m.Classes = make([]core.Label, len(raw.Classes))
		for i, c := range raw.Classes {
			label, ok := core.ParseLabel(c)
			if !ok {
				return nil, fmt.Errorf("%w: unknown class %q", ErrModelConfig, c)
			}
			m.Classes[i] = label
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return &Artifact{Kind: kind, TFIDF: &m}, nil
	default:
		return nil, fmt.Errorf("%w: unknown model kind %q", ErrModelConfig, header.Kind)
	}
}

// LoadModel reads and decodes the artifact at path
func LoadModel(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read model %s: %v", ErrModelConfig, path, err)
	}
	return DecodeArtifact(data)
}

// WriteModel writes a model artifact to path, replacing any previous file atomically
func WriteModel(path string, model any) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move model into place: %w", err)
	}
	return nil
}
