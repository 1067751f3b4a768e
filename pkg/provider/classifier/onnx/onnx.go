// Package onnx provides a classifier.Provider backed by a FER+ style ONNX
// emotion model run through ONNX Runtime.
//
// The native backend is compiled only with the "onnx" build tag, which pulls
// in github.com/yalue/onnxruntime_go and requires the ONNX Runtime shared
// library at run time. Without the tag, [New] returns [ErrNativeUnavailable]
// so the rest of the pipeline still builds and runs with other classifiers.
package onnx

import (
	"math"
	"os"
	"runtime"
)

// Config describes the model and its tensor layout.
type Config struct {
	// ModelPath is the .onnx file to load.
	ModelPath string

	// LibraryPath is the ONNX Runtime shared library. When empty the
	// RESTQUEST_ORT_LIB_PATH environment variable is used, then the platform
	// default file name.
	LibraryPath string

	// InputName and OutputName are the graph tensor names. Defaults match the
	// public FER+ model ("Input3", "Plus692_Output_0").
	InputName  string
	OutputName string

	// Size is the square input edge in pixels. Default 64.
	Size int

	// Labels names the output logits in order. Defaults to the FER+ labels.
	Labels []string
}

// DefaultLabels is the FER+ output order.
var DefaultLabels = []string{"neutral", "happiness", "surprise", "sadness", "anger", "disgust", "fear", "contempt"}

func (c *Config) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "Input3"
	}
	if c.OutputName == "" {
		c.OutputName = "Plus692_Output_0"
	}
	if c.Size <= 0 {
		c.Size = 64
	}
	if len(c.Labels) == 0 {
		c.Labels = DefaultLabels
	}
	if c.LibraryPath == "" {
		c.LibraryPath = os.Getenv("RESTQUEST_ORT_LIB_PATH")
	}
	if c.LibraryPath == "" {
		c.LibraryPath = libraryFilename()
	}
}

func libraryFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// softmax converts logits to probabilities in place-safe fashion.
func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := float64(logits[0])
	for _, v := range logits[1:] {
		maxv = math.Max(maxv, float64(v))
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
