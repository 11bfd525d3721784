package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/mukha/internal/capture"
	"github.com/ayusman/mukha/internal/catalog"
	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/logging"
	"github.com/ayusman/mukha/internal/movement"
	"github.com/ayusman/mukha/internal/server"
	"github.com/ayusman/mukha/internal/session"
)

// Reference images and live frames are told apart by width.
const (
	widthA        = 100
	widthB        = 120
	widthFaceless = 80
	liveWidth     = 320
)

func writeImage(t *testing.T, path string, width int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := gocv.NewMatWithSize(100, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	if ok := gocv.IMWrite(path, img); !ok {
		t.Fatalf("IMWrite(%s) failed", path)
	}
}

// liveDetector answers reference images by width and places the live face
// at the x coordinate held in faceX.
func liveDetector(faceX *atomic.Int64) *detector.MockDetector {
	d := detector.NewMockDetector()
	d.SetDetectFunc(func(frame *gocv.Mat, req detector.Request) ([]detector.Face, error) {
		var desc detector.Descriptor
		face := detector.Face{Box: detector.Box{X: 10, Y: 10, Width: 50, Height: 50}, Score: 0.9}
		switch frame.Cols() {
		case widthA:
			desc = detector.Descriptor{1, 0, 0}
		case widthB:
			desc = detector.Descriptor{0, 1, 0}
		case liveWidth:
			desc = detector.Descriptor{0.9, 0.1, 0}
			face.Box.X = float64(faceX.Load())
		default:
			return nil, nil
		}
		if req.Descriptors {
			face.Descriptor = desc
		}
		if req.Landmarks {
			lm := detector.Landmarks{}
			face.Landmarks = &lm
		}
		if req.Expressions {
			face.Expressions = detector.Expressions{
				{Label: detector.Neutral, Confidence: 0.1},
				{Label: detector.Happy, Confidence: 0.8},
				{Label: detector.Sad, Confidence: 0.1},
			}
		}
		return []detector.Face{face}, nil
	})
	return d
}

type harness struct {
	url    string
	client *http.Client
}

func (h *harness) status(t *testing.T) session.Snapshot {
	t.Helper()
	resp, err := h.client.Get(h.url + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return snap
}

func (h *harness) post(t *testing.T, path string, want int) {
	t.Helper()
	resp, err := h.client.Post(h.url+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("POST %s = %d, want %d", path, resp.StatusCode, want)
	}
}

func (h *harness) waitFor(t *testing.T, what string, cond func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := h.status(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	refDir := t.TempDir()
	writeImage(t, filepath.Join(refDir, "A", "1.jpeg"), widthA)
	writeImage(t, filepath.Join(refDir, "A", "2.jpeg"), widthFaceless)
	writeImage(t, filepath.Join(refDir, "B", "1.jpeg"), widthFaceless)
	writeImage(t, filepath.Join(refDir, "B", "2.jpeg"), widthB)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 240, liveWidth, gocv.MatTypeCV8UC3)
	defer frame.Close()

	var faceX atomic.Int64
	faceX.Store(100)

	sess := session.New(session.Config{
		Camera:   capture.NewMockCamera([]*gocv.Mat{&frame}, true),
		Detector: liveDetector(&faceX),
		References: catalog.DirSource{
			Dir:      refDir,
			Subjects: []string{"A", "B"},
			PerLabel: 2,
		},
		TickInterval: 5 * time.Millisecond,
		Movement: movement.Config{
			HistorySize: 1,
			Cooldown:    20 * time.Millisecond,
		},
		Logger: logging.Discard(),
	})
	defer sess.Close()

	srv := server.New(server.Config{Session: sess, StreamInterval: 10 * time.Millisecond})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	h := &harness{url: ts.URL, client: ts.Client()}

	t.Run("StartBeforeLoad", func(t *testing.T) {
		h.post(t, "/api/camera/start", http.StatusConflict)
		if snap := h.status(t); snap.Status != session.StatusWaitForModels {
			t.Errorf("status = %q, want %q", snap.Status, session.StatusWaitForModels)
		}
	})

	t.Run("LoadModelsAndCatalog", func(t *testing.T) {
		if err := sess.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		snap := h.waitFor(t, "catalog", func(s session.Snapshot) bool { return len(s.CatalogLabels) == 2 })
		if snap.State != session.ModelsReady {
			t.Errorf("state = %s, want models_ready", snap.State)
		}
	})

	t.Run("StartCameraCountsRight", func(t *testing.T) {
		h.post(t, "/api/camera/start", http.StatusOK)
		// The first observation moves from the origin to x=100.
		h.waitFor(t, "right turn", func(s session.Snapshot) bool { return s.Counters.Right == 1 })
	})

	t.Run("TurnLeft", func(t *testing.T) {
		// Let the right-turn cooldown lapse first.
		h.waitFor(t, "cooldown", func(s session.Snapshot) bool { return !s.CooldownActive })
		faceX.Store(0)
		snap := h.waitFor(t, "left turn", func(s session.Snapshot) bool { return s.Counters.Left == 1 })
		if snap.LastDirection != "left" {
			t.Errorf("last direction = %q, want left", snap.LastDirection)
		}
		if snap.Counters.Right != 1 {
			t.Errorf("right = %d, want 1", snap.Counters.Right)
		}
	})

	t.Run("IdentityAndExpression", func(t *testing.T) {
		h.post(t, "/api/options/expressions/toggle", http.StatusOK)
		snap := h.waitFor(t, "expression summary", func(s session.Snapshot) bool {
			return len(s.Faces) == 1 && s.Faces[0].Expression != ""
		})
		face := snap.Faces[0]
		if face.Label != "A" {
			t.Errorf("label = %q, want A", face.Label)
		}
		if face.Distance == nil || *face.Distance > 0.6 {
			t.Errorf("distance = %v, want <= 0.6", face.Distance)
		}
		if face.Expression != detector.Happy {
			t.Errorf("expression = %q, want happy", face.Expression)
		}
	})

	t.Run("Stream", func(t *testing.T) {
		resp, err := h.client.Get(ts.URL + "/api/stream")
		if err != nil {
			t.Fatalf("GET /api/stream: %v", err)
		}
		defer resp.Body.Close()

		line, err := bufio.NewReader(resp.Body).ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.TrimSpace(line) != "--frame" {
			t.Errorf("first line = %q, want --frame", line)
		}
	})

	t.Run("Events", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		var snap session.Snapshot
		for i := 0; i < 2; i++ {
			if err := conn.ReadJSON(&snap); err != nil {
				t.Fatalf("read snapshot %d: %v", i, err)
			}
		}
		if !snap.CameraActive || snap.Counters.Total() < 2 {
			t.Errorf("event snapshot = %+v", snap)
		}
	})

	t.Run("StopRestartKeepsCounters", func(t *testing.T) {
		before := h.status(t).Counters
		h.post(t, "/api/camera/stop", http.StatusOK)

		snap := h.status(t)
		if snap.State != session.CameraStopped || snap.Status != session.StatusCameraStopped {
			t.Errorf("after stop = %s %q", snap.State, snap.Status)
		}
		if len(snap.Faces) != 0 {
			t.Errorf("faces not cleared on stop: %+v", snap.Faces)
		}

		h.post(t, "/api/camera/start", http.StatusOK)
		after := h.status(t).Counters
		if after.Left < before.Left || after.Right < before.Right {
			t.Errorf("counters went backwards across restart: %+v -> %+v", before, after)
		}
	})
}
