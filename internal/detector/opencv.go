package detector

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"
)

// Model file names expected in Config.ModelDir.
const (
	LocalizerFile      = "face_detection_yunet_2023mar.onnx"
	RecognizerFile     = "face_recognition_sface_2021dec.onnx"
	ExpressionFile     = "emotion-ferplus-8.onnx"
	AgeProtoFile       = "age_deploy.prototxt"
	AgeWeightsFile     = "age_net.caffemodel"
	GenderProtoFile    = "gender_deploy.prototxt"
	GenderWeightsFile  = "gender_net.caffemodel"
	expressionInput    = 64
	ageGenderInput     = 227
	descriptorFeatures = 128
)

// Mean BGR values the age and gender nets were trained with.
var ageGenderMean = gocv.NewScalar(78.4263377603, 87.7689143744, 114.895847746, 0)

// Midpoints of the age net's eight buckets:
// 0-2, 4-6, 8-12, 15-20, 25-32, 38-43, 48-53, 60-100.
var ageBucketMidpoints = []float64{1, 5, 10, 17.5, 28.5, 40.5, 50.5, 80}

// FER+ output order. Contempt has no label here and is dropped.
var ferPlusLabels = []Expression{Neutral, Happy, Surprised, Sad, Angry, Disgusted, Fearful, ""}

// CVDetector runs YuNet, SFace and the DNN attribute nets through OpenCV.
type CVDetector struct {
	config Config

	mu         sync.Mutex // guards every OpenCV object below
	localizer  *gocv.FaceDetectorYN
	recognizer *gocv.FaceRecognizerSF
	expression *gocv.Net
	age        *gocv.Net
	gender     *gocv.Net
}

// NewCVDetector creates a detector with no models loaded.
func NewCVDetector(config Config) *CVDetector {
	def := DefaultConfig()
	if config.MinConfidence <= 0 {
		config.MinConfidence = def.MinConfidence
	}
	if config.NMSThreshold <= 0 {
		config.NMSThreshold = def.NMSThreshold
	}
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	return &CVDetector{config: config}
}

func (d *CVDetector) path(name string) (string, error) {
	p := filepath.Join(d.config.ModelDir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("model file not found: %s", p)
	}
	return p, nil
}

func (d *CVDetector) readNet(model, config string) (*gocv.Net, error) {
	modelPath, err := d.path(model)
	if err != nil {
		return nil, err
	}

	var net gocv.Net
	if config == "" {
		net = gocv.ReadNetFromONNX(modelPath)
	} else {
		configPath, err := d.path(config)
		if err != nil {
			return nil, err
		}
		net = gocv.ReadNet(modelPath, configPath)
	}
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &net, nil
}

// Load reads model m from disk. It is safe to load different models
// concurrently.
func (d *CVDetector) Load(ctx context.Context, m Model) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.loaded(m) {
		return nil
	}

	switch m {
	case ModelLocalizer:
		p, err := d.path(LocalizerFile)
		if err != nil {
			return err
		}
		det := gocv.NewFaceDetectorYNWithParams(
			p,
			"",
			image.Pt(320, 320), // reset per frame
			float32(d.config.MinConfidence),
			float32(d.config.NMSThreshold),
			d.config.TopK,
			int(gocv.NetBackendDefault),
			int(gocv.NetTargetCPU),
		)
		d.mu.Lock()
		d.localizer = &det
		d.mu.Unlock()

	case ModelRecognizer:
		p, err := d.path(RecognizerFile)
		if err != nil {
			return err
		}
		rec := gocv.NewFaceRecognizerSF(p, "")
		d.mu.Lock()
		d.recognizer = &rec
		d.mu.Unlock()

	case ModelExpression:
		net, err := d.readNet(ExpressionFile, "")
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.expression = net
		d.mu.Unlock()

	case ModelAgeGender:
		age, err := d.readNet(AgeWeightsFile, AgeProtoFile)
		if err != nil {
			return err
		}
		gender, err := d.readNet(GenderWeightsFile, GenderProtoFile)
		if err != nil {
			age.Close()
			return err
		}
		d.mu.Lock()
		d.age, d.gender = age, gender
		d.mu.Unlock()

	default:
		return fmt.Errorf("unknown model %v", m)
	}
	return nil
}

func (d *CVDetector) loaded(m Model) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch m {
	case ModelLocalizer:
		return d.localizer != nil
	case ModelRecognizer:
		return d.recognizer != nil
	case ModelExpression:
		return d.expression != nil
	case ModelAgeGender:
		return d.age != nil && d.gender != nil
	}
	return false
}

// require checks that every model req needs is loaded. Caller holds mu.
func (d *CVDetector) require(req Request) error {
	missing := func(m Model) error { return fmt.Errorf("%w: %v", ErrModelNotLoaded, m) }
	switch {
	case d.localizer == nil:
		return missing(ModelLocalizer)
	case req.Descriptors && d.recognizer == nil:
		return missing(ModelRecognizer)
	case req.Expressions && d.expression == nil:
		return missing(ModelExpression)
	case req.AgeGender && (d.age == nil || d.gender == nil):
		return missing(ModelAgeGender)
	}
	return nil
}

// Detect localizes faces and runs the requested attribute models on each.
func (d *CVDetector) Detect(frame *gocv.Mat, req Request) ([]Face, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.require(req); err != nil {
		return nil, err
	}

	d.localizer.SetInputSize(image.Pt(frame.Cols(), frame.Rows()))

	rows := gocv.NewMat()
	defer rows.Close()
	d.localizer.Detect(*frame, &rows)

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	faces := make([]Face, 0, rows.Rows())
	for r := 0; r < rows.Rows(); r++ {
		// YuNet rows: x, y, w, h, five landmark pairs, score.
		face := Face{
			Box: Box{
				X:      float64(rows.GetFloatAt(r, 0)),
				Y:      float64(rows.GetFloatAt(r, 1)),
				Width:  float64(rows.GetFloatAt(r, 2)),
				Height: float64(rows.GetFloatAt(r, 3)),
			},
			Score: float64(rows.GetFloatAt(r, 14)),
		}
		if req.Landmarks {
			var lm Landmarks
			for i := range lm {
				lm[i] = Point{
					X: float64(rows.GetFloatAt(r, 4+2*i)),
					Y: float64(rows.GetFloatAt(r, 5+2*i)),
				}
			}
			face.Landmarks = &lm
		}

		if err := d.attributes(*frame, rows, r, bounds, req, &face); err != nil {
			return nil, err
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// attributes fills the descriptor, expressions and age/gender of one face.
func (d *CVDetector) attributes(frame, rows gocv.Mat, r int, bounds image.Rectangle, req Request, face *Face) error {
	if req.Descriptors {
		row := rows.RowRange(r, r+1)
		desc, err := d.describe(frame, row)
		row.Close()
		if err != nil {
			return err
		}
		face.Descriptor = desc
	}

	if !req.Expressions && !req.AgeGender {
		return nil
	}
	rect := face.Box.Rect().Intersect(bounds)
	if rect.Empty() {
		return nil
	}
	crop := frame.Region(rect)
	defer crop.Close()

	if req.Expressions {
		exp, err := d.expressions(crop)
		if err != nil {
			return err
		}
		face.Expressions = exp
	}
	if req.AgeGender {
		ag, err := d.ageGender(crop)
		if err != nil {
			return err
		}
		face.AgeGender = ag
	}
	return nil
}

func (d *CVDetector) describe(frame, row gocv.Mat) (Descriptor, error) {
	aligned := gocv.NewMat()
	defer aligned.Close()
	d.recognizer.AlignCrop(frame, row, &aligned)
	if aligned.Empty() {
		return nil, fmt.Errorf("align face crop: empty result")
	}

	feature := gocv.NewMat()
	defer feature.Close()
	d.recognizer.Feature(aligned, &feature)

	values, err := feature.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read face feature: %w", err)
	}
	if len(values) != descriptorFeatures {
		return nil, fmt.Errorf("face feature has %d values, want %d", len(values), descriptorFeatures)
	}
	return normalize(values), nil
}

func (d *CVDetector) expressions(crop gocv.Mat) (Expressions, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)

	blob := gocv.BlobFromImage(gray, 1.0, image.Pt(expressionInput, expressionInput), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	scores, err := forward(d.expression, blob)
	if err != nil {
		return nil, fmt.Errorf("expression net: %w", err)
	}
	return ferPlusExpressions(softmax(scores)), nil
}

func (d *CVDetector) ageGender(crop gocv.Mat) (*AgeGender, error) {
	blob := gocv.BlobFromImage(crop, 1.0, image.Pt(ageGenderInput, ageGenderInput), ageGenderMean, false, false)
	defer blob.Close()

	ageProbs, err := forward(d.age, blob)
	if err != nil {
		return nil, fmt.Errorf("age net: %w", err)
	}
	genderProbs, err := forward(d.gender, blob)
	if err != nil {
		return nil, fmt.Errorf("gender net: %w", err)
	}
	if len(genderProbs) < 2 {
		return nil, fmt.Errorf("gender net: %d outputs", len(genderProbs))
	}

	ag := &AgeGender{Age: expectedAge(ageProbs), Gender: Male, GenderProbability: genderProbs[0]}
	if genderProbs[1] > genderProbs[0] {
		ag.Gender, ag.GenderProbability = Female, genderProbs[1]
	}
	return ag, nil
}

func forward(net *gocv.Net, blob gocv.Mat) ([]float64, error) {
	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(data))
	for i, v := range data {
		values[i] = float64(v)
	}
	return values, nil
}

// Close releases every loaded model.
func (d *CVDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.localizer != nil {
		d.localizer.Close()
		d.localizer = nil
	}
	if d.recognizer != nil {
		d.recognizer.Close()
		d.recognizer = nil
	}
	for _, net := range []**gocv.Net{&d.expression, &d.age, &d.gender} {
		if *net != nil {
			(*net).Close()
			*net = nil
		}
	}
	return nil
}

func softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	peak := scores[0]
	for _, s := range scores[1:] {
		if s > peak {
			peak = s
		}
	}
	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ferPlusExpressions maps FER+ probabilities onto ExpressionOrder.
func ferPlusExpressions(probs []float64) Expressions {
	byLabel := make(map[Expression]float64, len(ExpressionOrder))
	var kept float64
	for i, p := range probs {
		if i < len(ferPlusLabels) && ferPlusLabels[i] != "" {
			byLabel[ferPlusLabels[i]] = p
			kept += p
		}
	}
	// Renormalize over the seven kept labels.
	out := make(Expressions, len(ExpressionOrder))
	for i, label := range ExpressionOrder {
		c := byLabel[label]
		if kept > 0 {
			c /= kept
		}
		out[i] = ExpressionScore{Label: label, Confidence: c}
	}
	return out
}

// expectedAge is the probability-weighted mean of the bucket midpoints.
func expectedAge(probs []float64) float64 {
	var age, total float64
	for i, p := range probs {
		if i >= len(ageBucketMidpoints) {
			break
		}
		age += p * ageBucketMidpoints[i]
		total += p
	}
	if total == 0 {
		return 0
	}
	return age / total
}

func normalize(v []float32) Descriptor {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make(Descriptor, len(v))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
