package areadetector

import (
	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/signal"
)

// Detector is a StandardDetector over an areaDetector driver and an HDF
// plugin, attached as children "drv" and "hdf".
type Detector struct {
	*detector.StandardDetector
	Drv    *ADDriver
	HDF    *NDFileHDF
	Writer *HDFWriter
}

// NewADDetector builds a generic detector with records under prefix+"DET:"
// and prefix+"HDF:".
func NewADDetector(p signal.Provider, prefix string, dir detector.DirectoryProvider, opts ...detector.Option) *Detector {
	drv := NewADDriver(p, prefix+"DET:")
	return newDetector(NewADController(drv), drv, drv, NewNDFileHDF(p, prefix+"HDF:"), dir, opts)
}

// NewPilatusDetector builds a Pilatus detector with records under
// prefix+"DET:" and prefix+"HDF:".
func NewPilatusDetector(p signal.Provider, prefix string, dir detector.DirectoryProvider, opts ...detector.Option) *Detector {
	drv := NewPilatusDriver(p, prefix+"DET:")
	return newDetector(NewPilatusController(drv), drv, drv.ADDriver, NewNDFileHDF(p, prefix+"HDF:"), dir, opts)
}

func newDetector(ctrl detector.Control, drvDevice device.Device, drv *ADDriver, hdf *NDFileHDF, dir detector.DirectoryProvider, opts []detector.Option) *Detector {
	d := &Detector{Drv: drv, HDF: hdf}
	d.Writer = NewHDFWriter(hdf, dir, func() string { return d.Name() }, drv.Shape)
	opts = append([]detector.Option{detector.WithConfig(drv.AcquireTime)}, opts...)
	d.StandardDetector = detector.NewStandardDetector(ctrl, d.Writer, opts...)
	d.Attach("drv", drvDevice)
	d.Attach("hdf", hdf)
	return d
}

// Simulate installs a SimIOC behind the detector's simulated records.
func (d *Detector) Simulate() (*SimIOC, error) {
	return NewSimIOC(d.Drv, d.HDF)
}
