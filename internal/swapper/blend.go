package swapper

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/metalroop/internal/detector"
)

// Blender pastes aligned face crops back into frames
type Blender struct {
	// ColorTransfer matches the crop's LAB statistics to the frame region
	// before blending
	ColorTransfer bool
}

// NewBlender creates a new face blender
func NewBlender(colorTransfer bool) *Blender {
	return &Blender{ColorTransfer: colorTransfer}
}

// Paste inverse-warps crop (aligned with m) onto frame with a feathered mask.
// frame is modified in place.
func (b *Blender) Paste(crop gocv.Mat, frame *gocv.Mat, m detector.Affine) {
	if crop.Empty() || frame.Empty() {
		return
	}

	roi := pasteRegion(m, crop.Cols(), crop.Rows(), frame.Cols(), frame.Rows())
	if roi.Empty() {
		return
	}

	// Map crop pixels into the region's coordinates
	inv := m.Invert().Translate(-float64(roi.Min.X), -float64(roi.Min.Y))
	invMat := inv.Mat()
	defer invMat.Close()

	size := roi.Size()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpAffine(crop, &warped, invMat, size)

	// White crop-sized mask warped the same way, then eroded and blurred
	// so the seam fades out inside the face
	cropMask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), crop.Rows(), crop.Cols(), gocv.MatTypeCV8U)
	defer cropMask.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.WarpAffine(cropMask, &mask, invMat, size)

	feather := featherSize(m, crop.Cols())
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(feather, feather))
	defer kernel.Close()
	gocv.Erode(mask, &mask, kernel)

	blur := feather*2 + 1
	gocv.GaussianBlur(mask, &mask, image.Pt(blur, blur), 0, 0, gocv.BorderDefault)

	region := frame.Region(roi)
	defer region.Close()

	if b.ColorTransfer {
		applyColorTransfer(&warped, region, mask)
	}

	alphaBlend(warped, &region, mask)
}

// pasteRegion returns the frame rectangle covered by the inverse-warped crop
func pasteRegion(m detector.Affine, cropW, cropH, frameW, frameH int) image.Rectangle {
	inv := m.Invert()
	corners := []detector.Point{
		{X: 0, Y: 0},
		{X: float32(cropW), Y: 0},
		{X: 0, Y: float32(cropH)},
		{X: float32(cropW), Y: float32(cropH)},
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		p := inv.Apply(c)
		minX = math.Min(minX, float64(p.X))
		minY = math.Min(minY, float64(p.Y))
		maxX = math.Max(maxX, float64(p.X))
		maxY = math.Max(maxY, float64(p.Y))
	}

	r := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
	return r.Intersect(image.Rect(0, 0, frameW, frameH))
}

// featherSize scales the erosion kernel with the face size in the frame
func featherSize(m detector.Affine, cropSize int) int {
	scale := m.Scale()
	if scale <= 0 {
		return 1
	}
	faceSize := float64(cropSize) / scale
	return max(1, int(faceSize/16))
}

// alphaBlend writes src*alpha + dst*(1-alpha) into dst
func alphaBlend(src gocv.Mat, dst *gocv.Mat, mask gocv.Mat) {
	srcF := gocv.NewMat()
	defer srcF.Close()
	src.ConvertTo(&srcF, gocv.MatTypeCV32FC3)

	dstF := gocv.NewMat()
	defer dstF.Close()
	dst.ConvertTo(&dstF, gocv.MatTypeCV32FC3)

	alpha := gocv.NewMat()
	defer alpha.Close()
	mask.ConvertToWithParams(&alpha, gocv.MatTypeCV32F, 1.0/255.0, 0)

	alpha3 := gocv.NewMat()
	defer alpha3.Close()
	gocv.Merge([]gocv.Mat{alpha, alpha, alpha}, &alpha3)

	// dst + alpha*(src - dst)
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(srcF, dstF, &diff)
	gocv.Multiply(diff, alpha3, &diff)
	gocv.Add(dstF, diff, &dstF)

	dstF.ConvertTo(dst, gocv.MatTypeCV8UC3)
}

// applyColorTransfer shifts source's LAB mean and std towards target's
// inside mask
func applyColorTransfer(source *gocv.Mat, target gocv.Mat, mask gocv.Mat) {
	sourceLab := gocv.NewMat()
	defer sourceLab.Close()
	targetLab := gocv.NewMat()
	defer targetLab.Close()

	gocv.CvtColor(*source, &sourceLab, gocv.ColorBGRToLab)
	gocv.CvtColor(target, &targetLab, gocv.ColorBGRToLab)

	sourceMean := gocv.NewMat()
	defer sourceMean.Close()
	sourceStd := gocv.NewMat()
	defer sourceStd.Close()
	targetMean := gocv.NewMat()
	defer targetMean.Close()
	targetStd := gocv.NewMat()
	defer targetStd.Close()

	gocv.MeanStdDevWithMask(sourceLab, &sourceMean, &sourceStd, mask)
	gocv.MeanStdDevWithMask(targetLab, &targetMean, &targetStd, mask)

	sourceFloat := gocv.NewMat()
	defer sourceFloat.Close()
	sourceLab.ConvertTo(&sourceFloat, gocv.MatTypeCV32FC3)

	channels := gocv.Split(sourceFloat)
	for i := range channels {
		defer channels[i].Close()

		srcStd := sourceStd.GetDoubleAt(i, 0)
		if srcStd < 1e-6 {
			srcStd = 1e-6
		}
		scale := targetStd.GetDoubleAt(i, 0) / srcStd
		offset := targetMean.GetDoubleAt(i, 0) - sourceMean.GetDoubleAt(i, 0)*scale

		channels[i].ConvertToWithParams(&channels[i], gocv.MatTypeCV32F, float32(scale), float32(offset))
	}

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	resultLab := gocv.NewMat()
	defer resultLab.Close()
	merged.ConvertTo(&resultLab, gocv.MatTypeCV8UC3)

	gocv.CvtColor(resultLab, source, gocv.ColorLabToBGR)
}
