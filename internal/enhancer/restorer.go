// Package enhancer restores detected faces with GFPGAN, GPEN or CodeFormer.
package enhancer

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/detector"
	"github.com/dudu/metalroop/internal/inference"
	"github.com/dudu/metalroop/internal/models"
	"github.com/dudu/metalroop/internal/swapper"
)

// Profile describes how a restoration model is fed
type Profile struct {
	Name     string
	Artifact models.Artifact
	Size     int     // square input size
	Fidelity float64 // CodeFormer weight input, ignored by single-input models
}

// Known restoration models, keyed by config name
var Profiles = map[string]Profile{
	"gfpgan_1.4":   {Name: "gfpgan_1.4", Artifact: models.ArtifactGFPGAN, Size: 512},
	"gpen_bfr_512": {Name: "gpen_bfr_512", Artifact: models.ArtifactGPEN, Size: 512},
	"codeformer":   {Name: "codeformer", Artifact: models.ArtifactCodeFormer, Size: 512, Fidelity: 1.0},
}

// ProfileFor returns the profile of a model name
func ProfileFor(name string) (Profile, error) {
	p, ok := Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown enhancer model %q", name)
	}
	return p, nil
}

// Restorer runs a face restoration model on FFHQ-aligned crops. All three
// supported models take RGB in [-1, 1] and produce RGB in [-1, 1].
type Restorer struct {
	session    *inference.Session
	profile    Profile
	template   detector.Template
	weightType ort.TensorElementDataType
	hasWeight  bool
}

// NewRestorer loads the model for profile from modelPath
func NewRestorer(modelPath string, profile Profile) (*Restorer, error) {
	inputs, _, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s inputs: %w", profile.Name, err)
	}

	session, err := inference.NewSession(modelPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s session: %w", profile.Name, err)
	}

	r := &Restorer{
		session:  session,
		profile:  profile,
		template: detector.FFHQ512.Scaled(profile.Size),
	}
	// CodeFormer exports carry a second, scalar fidelity input
	if len(inputs) > 1 {
		r.hasWeight = true
		r.weightType = inputs[1].DataType
	}
	return r, nil
}

// Profile returns the restorer's model profile
func (r *Restorer) Profile() Profile { return r.profile }

// EnhanceFace restores one face inside frame in place
func (r *Restorer) EnhanceFace(frame *gocv.Mat, face detector.Face, blender *swapper.Blender) error {
	aligned, m := detector.AlignFace(*frame, face.Landmarks, r.template)
	defer aligned.Close()

	restored, err := r.Enhance(aligned)
	if err != nil {
		return err
	}
	defer restored.Close()

	blender.Paste(restored, frame, m)
	return nil
}

// Enhance restores an aligned face crop and returns it at the model size
func (r *Restorer) Enhance(face gocv.Mat) (gocv.Mat, error) {
	size := r.profile.Size

	// (x/255 - 0.5) / 0.5, RGB, NCHW
	blob := gocv.BlobFromImage(face, 1.0/127.5, image.Pt(size, size),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to read %s blob: %w", r.profile.Name, err)
	}

	input, err := inference.CreateTensor([]int64{1, 3, int64(size), int64(size)}, append([]float32(nil), data...))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	inputs := []ort.Value{input}
	if r.hasWeight {
		weight, err := r.weightTensor()
		if err != nil {
			return gocv.NewMat(), err
		}
		defer weight.Destroy()
		inputs = append(inputs, weight)
	}

	outputs, _, err := r.session.RunValues(inputs)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%s inference failed: %w", r.profile.Name, err)
	}

	return swapper.PlanarToBGR(outputs[0], size, denormalize)
}

func (r *Restorer) weightTensor() (ort.Value, error) {
	if r.weightType == ort.TensorElementDataTypeDouble {
		t, err := inference.CreateTensor([]int64{1}, []float64{r.profile.Fidelity})
		if err != nil {
			return nil, fmt.Errorf("failed to create weight tensor: %w", err)
		}
		return t, nil
	}
	t, err := inference.CreateTensor([]int64{1}, []float32{float32(r.profile.Fidelity)})
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	return t, nil
}

// denormalize maps [-1, 1] to [0, 255]
func denormalize(v float32) float32 {
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	return (v + 1) * 127.5
}

// Close releases resources
func (r *Restorer) Close() error {
	return r.session.Destroy()
}
