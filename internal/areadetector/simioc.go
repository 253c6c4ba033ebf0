package areadetector

import (
	"context"
	"path"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/signal"
)

// SimIOC plays the IOC side of a simulated driver and HDF plugin: writing
// acquire produces frames, writing capture opens a file, and captured frames
// advance the plugin counters.
type SimIOC struct {
	acquire      *signal.SimBackend[bool]
	numImages    *signal.SimBackend[int]
	imageMode    *signal.SimBackend[ImageMode]
	arrayCounter *signal.SimBackend[int]
	state        *signal.SimBackend[DetectorState]
	sizeX        *signal.SimBackend[int]
	sizeY        *signal.SimBackend[int]

	capture     *signal.SimBackend[bool]
	numCapture  *signal.SimBackend[int]
	numCaptured *signal.SimBackend[int]
	filePath    *signal.SimBackend[string]
	fileName    *signal.SimBackend[string]
	fullName    *signal.SimBackend[string]
	pathExists  *signal.SimBackend[bool]

	mu         sync.Mutex
	dropFrames bool
}

// NewSimIOC installs hooks on the simulated signals of drv and hdf. It fails
// if any of them is not simulated.
func NewSimIOC(drv *ADDriver, hdf *NDFileHDF) (*SimIOC, error) {
	var err error
	ioc := &SimIOC{}
	if ioc.acquire, err = signal.SimOf[bool](drv.Acquire); err != nil {
		return nil, err
	}
	if ioc.numImages, err = signal.SimOf[int](drv.NumImages); err != nil {
		return nil, err
	}
	if ioc.imageMode, err = signal.SimOf[ImageMode](drv.ImageMode); err != nil {
		return nil, err
	}
	if ioc.arrayCounter, err = signal.SimOf[int](drv.ArrayCounter); err != nil {
		return nil, err
	}
	if ioc.state, err = signal.SimOf[DetectorState](drv.DetectorState); err != nil {
		return nil, err
	}
	if ioc.sizeX, err = signal.SimOf[int](drv.ArraySizeX); err != nil {
		return nil, err
	}
	if ioc.sizeY, err = signal.SimOf[int](drv.ArraySizeY); err != nil {
		return nil, err
	}
	if ioc.capture, err = signal.SimOf[bool](hdf.Capture); err != nil {
		return nil, err
	}
	if ioc.numCapture, err = signal.SimOf[int](hdf.NumCapture); err != nil {
		return nil, err
	}
	if ioc.numCaptured, err = signal.SimOf[int](hdf.NumCaptured); err != nil {
		return nil, err
	}
	if ioc.filePath, err = signal.SimOf[string](hdf.FilePath); err != nil {
		return nil, err
	}
	if ioc.fileName, err = signal.SimOf[string](hdf.FileName); err != nil {
		return nil, err
	}
	if ioc.fullName, err = signal.SimOf[string](hdf.FullFileName); err != nil {
		return nil, err
	}
	if ioc.pathExists, err = signal.SimOf[bool](hdf.FilePathExists); err != nil {
		return nil, err
	}

	ioc.state.Set(DetectorIdle)
	ioc.imageMode.Set(ImageModeSingle)
	ioc.acquire.SetHook(ioc.onAcquire)
	ioc.capture.SetHook(ioc.onCapture)
	ioc.filePath.SetHook(ioc.onFilePath)
	return ioc, nil
}

// DropFrames makes acquisitions complete without the plugin capturing them.
func (ioc *SimIOC) DropFrames(drop bool) {
	ioc.mu.Lock()
	ioc.dropFrames = drop
	ioc.mu.Unlock()
}

// SetSensorSize sets the frame dimensions the driver reports.
func (ioc *SimIOC) SetSensorSize(width, height int) {
	ioc.sizeX.Set(width)
	ioc.sizeY.Set(height)
}

func (ioc *SimIOC) onAcquire(_ model.Reading, acquire bool) {
	if !acquire {
		return
	}
	frames := 1
	if value(ioc.imageMode) != ImageModeSingle {
		frames = max(1, value(ioc.numImages))
	}
	ioc.mu.Lock()
	drop := ioc.dropFrames
	ioc.mu.Unlock()

	ioc.state.Set(DetectorAcquire)
	for range frames {
		ioc.arrayCounter.Set(value(ioc.arrayCounter) + 1)
		if value(ioc.capture) && !drop {
			ioc.captureFrame()
		}
	}
	ioc.state.Set(DetectorIdle)
	ioc.acquire.Set(false)
	log.Debug().Int("frames", frames).Bool("dropped", drop).Msg("sim acquisition done")
}

func (ioc *SimIOC) captureFrame() {
	captured := value(ioc.numCaptured) + 1
	ioc.numCaptured.Set(captured)
	if limit := value(ioc.numCapture); limit > 0 && captured >= limit {
		ioc.capture.Set(false)
	}
}

func (ioc *SimIOC) onCapture(_ model.Reading, capture bool) {
	if !capture {
		return
	}
	ioc.numCaptured.Set(0)
	ioc.fullName.Set(path.Join(value(ioc.filePath), value(ioc.fileName)+".h5"))
}

// onFilePath treats every non-empty directory as present on the IOC host.
func (ioc *SimIOC) onFilePath(_ model.Reading, dir string) {
	ioc.pathExists.Set(dir != "")
}

func value[T any](b *signal.SimBackend[T]) T {
	v, _ := b.Value(context.Background())
	return v
}
