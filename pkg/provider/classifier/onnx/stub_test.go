//go:build !onnx

package onnx_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/restquest/pkg/provider/classifier/onnx"
)

func TestNew_StubUnavailable(t *testing.T) {
	t.Parallel()
	if onnx.NativeAvailable() {
		t.Fatal("NativeAvailable() = true without the onnx tag")
	}
	_, err := onnx.New(onnx.Config{ModelPath: "model.onnx"})
	if !errors.Is(err, onnx.ErrNativeUnavailable) {
		t.Errorf("err = %v, want ErrNativeUnavailable", err)
	}
}
