package models

// Artifact is a model file fetched on first use
type Artifact struct {
	Name   string // file name inside the models directory
	URL    string // https://, http:// or s3:// source
	SHA256 string // optional hex digest
}

const assetsBase = "https://github.com/facefusion/facefusion-assets/releases/download/models/"

// Default artifacts. URLs can be overridden per artifact with
// METALROOP_MODEL_URL_<NAME> and digests pinned with
// METALROOP_MODEL_SHA256_<NAME> (see config.Runtime). The defaults carry no
// digest, so a present file is trusted as is.
var (
	ArtifactDetector = Artifact{
		Name: "scrfd_2.5g.onnx",
		URL:  assetsBase + "scrfd_2.5g.onnx",
	}
	ArtifactRecognizer = Artifact{
		Name: "arcface_w600k_r50.onnx",
		URL:  assetsBase + "arcface_w600k_r50.onnx",
	}
	ArtifactSwapper = Artifact{
		Name: "inswapper_128.onnx",
		URL:  assetsBase + "inswapper_128.onnx",
	}
	ArtifactGFPGAN = Artifact{
		Name: "gfpgan_1.4.onnx",
		URL:  assetsBase + "gfpgan_1.4.onnx",
	}
	ArtifactGPEN = Artifact{
		Name: "gpen_bfr_512.onnx",
		URL:  assetsBase + "gpen_bfr_512.onnx",
	}
	ArtifactCodeFormer = Artifact{
		Name: "codeformer.onnx",
		URL:  assetsBase + "codeformer.onnx",
	}
	ArtifactClassifier = Artifact{
		Name: "open_nsfw.onnx",
		URL:  assetsBase + "open_nsfw.onnx",
	}
)

// WithURL returns a copy of a pointing at url, dropping any pinned digest
func (a Artifact) WithURL(url string) Artifact {
	if url == "" || url == a.URL {
		return a
	}
	a.URL = url
	a.SHA256 = ""
	return a
}
