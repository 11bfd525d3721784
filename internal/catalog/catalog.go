// Package catalog builds labeled face descriptors from reference images and
// matches live descriptors against them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/logging"
)

// ErrEmptyCatalog is returned when no reference image produced a descriptor.
var ErrEmptyCatalog = errors.New("reference catalog is empty")

// Identity is one labeled person with the descriptors of their reference
// images.
type Identity struct {
	Label       string
	Descriptors []detector.Descriptor
}

// Source lists reference images per label.
type Source interface {
	Labels() []string
	Paths(label string) []string
}

// DirSource lays reference images out as <Dir>/<label>/<i>.jpeg with
// i = 1..PerLabel.
type DirSource struct {
	Dir      string
	Subjects []string
	PerLabel int
}

func (s DirSource) Labels() []string { return s.Subjects }

func (s DirSource) Paths(label string) []string {
	paths := make([]string, 0, s.PerLabel)
	for i := 1; i <= s.PerLabel; i++ {
		paths = append(paths, filepath.Join(s.Dir, label, fmt.Sprintf("%d.jpeg", i)))
	}
	return paths
}

var referenceRequest = detector.Request{Landmarks: true, Descriptors: true}

// Build computes one descriptor per reference image, labels in parallel.
// Images that cannot be read or contain no face are skipped with a
// warning. Identities left without descriptors are dropped; if none remain
// Build returns ErrEmptyCatalog. A detector error aborts the build.
func Build(ctx context.Context, d detector.Detector, src Source, log logrus.FieldLogger) ([]Identity, error) {
	log = logging.OrDiscard(log)
	labels := src.Labels()
	results := make([]Identity, len(labels))

	g, ctx := errgroup.WithContext(ctx)
	for i, label := range labels {
		g.Go(func() error {
			id, err := buildIdentity(ctx, d, label, src.Paths(label), log)
			if err != nil {
				return err
			}
			results[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	identities := make([]Identity, 0, len(results))
	for _, id := range results {
		if len(id.Descriptors) == 0 {
			log.WithField("label", id.Label).Warn("No usable reference images, identity dropped")
			continue
		}
		identities = append(identities, id)
	}
	if len(identities) == 0 {
		return nil, ErrEmptyCatalog
	}
	return identities, nil
}

func buildIdentity(ctx context.Context, d detector.Detector, label string, paths []string, log logrus.FieldLogger) (Identity, error) {
	id := Identity{Label: label}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return id, err
		}

		desc, err := describeImage(d, path)
		switch {
		case errors.Is(err, errNoFace), errors.Is(err, errUnreadable):
			log.WithFields(logrus.Fields{"label": label, "image": path}).Warnf("Skipping reference image: %v", err)
			continue
		case err != nil:
			return id, fmt.Errorf("reference %s: %w", path, err)
		}
		id.Descriptors = append(id.Descriptors, desc)
	}
	return id, nil
}

var (
	errNoFace     = errors.New("no face detected")
	errUnreadable = errors.New("image could not be read")
)

func describeImage(d detector.Detector, path string) (detector.Descriptor, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return nil, errUnreadable
	}

	face, ok, err := detector.DetectSingle(d, &img, referenceRequest)
	if err != nil {
		return nil, err
	}
	if !ok || len(face.Descriptor) == 0 {
		return nil, errNoFace
	}
	return face.Descriptor, nil
}
