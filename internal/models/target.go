package models

import (
	"fmt"
	"strings"
)

// Target is the execution backend used to run inference
type Target string

const (
	TargetCPU      Target = "cpu"
	TargetCUDA     Target = "cuda"
	TargetCoreML   Target = "coreml"
	TargetDirectML Target = "directml"
)

// Targets lists every supported execution target
var Targets = []Target{TargetCPU, TargetCUDA, TargetCoreML, TargetDirectML}

// ParseTarget accepts a target name or an ONNX Runtime provider name
// (e.g. "CUDAExecutionProvider")
func ParseTarget(s string) (Target, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "executionprovider")
	for _, t := range Targets {
		if name == string(t) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown execution target %q", s)
}

// IsGPU reports whether the target hands work to a GPU driver
func (t Target) IsGPU() bool {
	return t != TargetCPU
}
