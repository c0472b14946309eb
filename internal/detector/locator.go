package detector

import "gocv.io/x/gocv"

// LocateAll returns every face in detector order. The slice is empty when
// nothing was found.
func LocateAll(img gocv.Mat, d Detector) ([]Face, error) {
	faces, err := d.Detect(img)
	if err != nil {
		return nil, err
	}
	if faces == nil {
		faces = []Face{}
	}
	return faces, nil
}

// LocateOne returns the leftmost face, or false when there is none
func LocateOne(img gocv.Mat, d Detector) (Face, bool, error) {
	faces, err := LocateAll(img, d)
	if err != nil {
		return Face{}, false, err
	}
	i := Leftmost(faces)
	if i < 0 {
		return Face{}, false, nil
	}
	return faces[i], true, nil
}

// Leftmost returns the index of the face with the smallest box X1, the
// earliest one on ties, or -1 for no faces. Confidence is not considered.
func Leftmost(faces []Face) int {
	best := -1
	for i, f := range faces {
		if best < 0 || f.BoundingBox.X1 < faces[best].BoundingBox.X1 {
			best = i
		}
	}
	return best
}
