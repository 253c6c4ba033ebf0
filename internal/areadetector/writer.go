package areadetector

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/signal"
	"github.com/danmuck/acqctl/internal/status"
)

const (
	hdfSpec         = "AD_HDF5_SWMR_SLICE"
	hdfDataPath     = "/entry/data/data"
	hdfTimestamps   = "/entry/instrument/NDAttributes/NDArrayTimeStamp"
	hdfFileTemplate = "%s/%s.h5"
)

type hdfDataset struct {
	name       string
	path       string
	shape      []int
	multiplier int
}

// HDFWriter streams frames into an HDF5 file through an NDFileHDF plugin.
// It owns the stream cursor: each index range is emitted once per open.
type HDFWriter struct {
	hdf       *NDFileHDF
	directory detector.DirectoryProvider
	name      detector.NameProvider
	shape     detector.ShapeProvider
	timeout   time.Duration

	mu         sync.Mutex
	info       detector.DirectoryInfo
	datasets   []hdfDataset
	multiplier int
	file       *hdfFile
	capturing  *status.Status
}

var _ detector.Writer = (*HDFWriter)(nil)

func NewHDFWriter(hdf *NDFileHDF, directory detector.DirectoryProvider, name detector.NameProvider, shape detector.ShapeProvider) *HDFWriter {
	return &HDFWriter{
		hdf:        hdf,
		directory:  directory,
		name:       name,
		shape:      shape,
		timeout:    device.DefaultTimeout,
		multiplier: 1,
	}
}

func (w *HDFWriter) HDF() *NDFileHDF {
	return w.hdf
}

// Directory returns the directory captured by the last Open.
func (w *HDFWriter) Directory() detector.DirectoryInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

func (w *HDFWriter) Open(ctx context.Context, multiplier int) (map[string]model.Descriptor, error) {
	if multiplier < 1 {
		multiplier = 1
	}
	info := w.directory.Directory()
	if err := info.Validate(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.file = nil
	w.info = info
	w.mu.Unlock()

	h := w.hdf
	err := status.WaitAll(ctx,
		h.NumExtraDims.Set(ctx, 0),
		h.LazyOpen.Set(ctx, true),
		h.SWMRMode.Set(ctx, true),
		h.FilePath.Set(ctx, info.Path),
		h.FileName.Set(ctx, info.FilenamePrefix+h.Name()),
		h.FileTemplate.Set(ctx, hdfFileTemplate),
		h.FileWriteMode.Set(ctx, FileWriteStream),
	)
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", h.Name(), err)
	}
	exists, err := h.FilePathExists.GetValue(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrFilePathMissing, info.Path)
	}
	// capture forever
	if err := h.NumCapture.Set(ctx, 0).Wait(ctx); err != nil {
		return nil, err
	}
	// the capture write settles only when capturing stops, so it must outlive ctx
	capturing, err := signal.SetAndWaitForValue[bool](context.WithoutCancel(ctx), h.Capture, true, h.Capture, w.timeout)
	if err != nil {
		return nil, fmt.Errorf("start capture on %s: %w", h.Name(), err)
	}

	name := w.name()
	shape, err := w.shape(ctx)
	if err != nil {
		return nil, fmt.Errorf("frame shape: %w", err)
	}
	datasets := []hdfDataset{{name: name, path: hdfDataPath, shape: shape, multiplier: multiplier}}

	outer := []int{}
	if multiplier > 1 {
		outer = append(outer, multiplier)
	}
	desc := make(map[string]model.Descriptor, len(datasets))
	for _, ds := range datasets {
		dtype := "number"
		if len(ds.shape) > 0 {
			dtype = "array"
		}
		desc[ds.name] = model.Descriptor{
			Source:   h.FullFileName.Source(),
			Dtype:    dtype,
			Shape:    append(append([]int{}, outer...), ds.shape...),
			External: "STREAM:",
		}
	}

	w.mu.Lock()
	w.datasets = datasets
	w.multiplier = multiplier
	w.capturing = capturing
	w.mu.Unlock()
	return desc, nil
}

func (w *HDFWriter) WaitForIndex(ctx context.Context, index int) error {
	multiplier := w.currentMultiplier()
	atLeast := func(captured int) bool { return captured/multiplier >= index }
	return signal.WaitForValue[int](ctx, w.hdf.NumCaptured, atLeast, w.timeout)
}

func (w *HDFWriter) IndicesWritten(ctx context.Context) (int, error) {
	captured, err := w.hdf.NumCaptured.GetValue(ctx)
	if err != nil {
		return 0, err
	}
	return captured / w.currentMultiplier(), nil
}

// CollectStreamDocs flushes the file and emits the resources on first data,
// then one datum per resource for every index range not yet emitted.
func (w *HDFWriter) CollectStreamDocs(ctx context.Context, indicesWritten int) iter.Seq2[model.Asset, error] {
	return func(yield func(model.Asset, error) bool) {
		if err := w.hdf.FlushNow.Set(ctx, true).Wait(ctx); err != nil {
			yield(nil, fmt.Errorf("flush %s: %w", w.hdf.Name(), err))
			return
		}
		if indicesWritten == 0 {
			return
		}

		var docs []model.Asset
		w.mu.Lock()
		missing := w.file == nil
		w.mu.Unlock()
		if missing {
			full, err := w.hdf.FullFileName.GetValue(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			w.mu.Lock()
			if w.file == nil {
				w.file = newHDFFile(w.info, full, w.datasets)
				for _, res := range w.file.resources {
					docs = append(docs, res)
				}
			}
			w.mu.Unlock()
		}

		w.mu.Lock()
		if w.file != nil {
			for _, datum := range w.file.streamData(indicesWritten) {
				docs = append(docs, datum)
			}
		}
		w.mu.Unlock()

		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Close stops capture and waits for the capture write from Open to settle.
func (w *HDFWriter) Close(ctx context.Context) error {
	if err := w.hdf.Capture.Set(ctx, false, signal.NoWait()).Wait(ctx); err != nil {
		return err
	}
	if err := signal.WaitForValue[bool](ctx, w.hdf.Capture, signal.Equal(false), w.timeout); err != nil {
		return err
	}
	w.mu.Lock()
	capturing := w.capturing
	w.capturing = nil
	w.mu.Unlock()
	if capturing != nil {
		return capturing.Wait(ctx)
	}
	return nil
}

func (w *HDFWriter) currentMultiplier() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.multiplier
}

// hdfFile is the stream cursor over one capture.
type hdfFile struct {
	resources   []model.StreamResource
	lastEmitted int
	datums      int
}

func newHDFFile(info detector.DirectoryInfo, fullFileName string, datasets []hdfDataset) *hdfFile {
	resourcePath := fullFileName
	if rel, err := filepath.Rel(info.Path, fullFileName); err == nil {
		resourcePath = rel
	}
	f := &hdfFile{}
	for _, ds := range datasets {
		f.resources = append(f.resources, model.StreamResource{
			UID:          uuid.NewString(),
			DataKey:      ds.name,
			Spec:         hdfSpec,
			RootPath:     info.Path,
			ResourcePath: resourcePath,
			ResourceKwargs: map[string]any{
				"path":       ds.path,
				"multiplier": ds.multiplier,
				"timestamps": hdfTimestamps,
			},
		})
	}
	return f
}

func (f *hdfFile) streamData(indicesWritten int) []model.StreamDatum {
	if indicesWritten <= f.lastEmitted {
		return nil
	}
	indices := model.Range{Start: f.lastEmitted, Stop: indicesWritten}
	f.lastEmitted = indicesWritten
	out := make([]model.StreamDatum, 0, len(f.resources))
	for _, res := range f.resources {
		out = append(out, model.StreamDatum{
			UID:            res.UID + "/" + strconv.Itoa(f.datums),
			StreamResource: res.UID,
			Indices:        indices,
		})
	}
	f.datums++
	return out
}
