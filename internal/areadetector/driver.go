package areadetector

import (
	"context"

	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/signal"
)

// adRW binds an areaDetector parameter: setpoint at pv, readback at pv_RBV.
func adRW[T any](p signal.Provider, pv string) signal.SignalRW[T] {
	return signal.NewRW[T](p, pv+"_RBV", pv)
}

func adR[T any](p signal.Provider, pv string) signal.SignalR[T] {
	return signal.NewR[T](p, pv+"_RBV")
}

// ADDriver is the common areaDetector driver record set.
type ADDriver struct {
	device.Base
	Acquire       signal.SignalRW[bool]
	AcquireTime   signal.SignalRW[float64]
	NumImages     signal.SignalRW[int]
	ImageMode     signal.SignalRW[ImageMode]
	ArrayCounter  signal.SignalRW[int]
	ArraySizeX    signal.SignalR[int]
	ArraySizeY    signal.SignalR[int]
	DetectorState signal.SignalR[DetectorState]
}

// NewADDriver binds the driver records under prefix, e.g. "BL01:DET:".
func NewADDriver(p signal.Provider, prefix string) *ADDriver {
	d := &ADDriver{
		Acquire:       adRW[bool](p, prefix+"Acquire"),
		AcquireTime:   adRW[float64](p, prefix+"AcquireTime"),
		NumImages:     adRW[int](p, prefix+"NumImages"),
		ImageMode:     adRW[ImageMode](p, prefix+"ImageMode"),
		ArrayCounter:  adRW[int](p, prefix+"ArrayCounter"),
		ArraySizeX:    adR[int](p, prefix+"ArraySizeX"),
		ArraySizeY:    adR[int](p, prefix+"ArraySizeY"),
		DetectorState: adR[DetectorState](p, prefix+"DetectorState"),
	}
	d.Attach("acquire", d.Acquire)
	d.Attach("acquire_time", d.AcquireTime)
	d.Attach("num_images", d.NumImages)
	d.Attach("image_mode", d.ImageMode)
	d.Attach("array_counter", d.ArrayCounter)
	d.Attach("array_size_x", d.ArraySizeX)
	d.Attach("array_size_y", d.ArraySizeY)
	d.Attach("detector_state", d.DetectorState)
	return d
}

// Shape reports the frame shape as (y, x). It satisfies detector.ShapeProvider.
func (d *ADDriver) Shape(ctx context.Context) ([]int, error) {
	x, err := d.ArraySizeX.GetValue(ctx)
	if err != nil {
		return nil, err
	}
	y, err := d.ArraySizeY.GetValue(ctx)
	if err != nil {
		return nil, err
	}
	return []int{y, x}, nil
}

// PilatusDriver adds the Pilatus trigger mode to the common driver.
type PilatusDriver struct {
	*ADDriver
	TriggerMode signal.SignalRW[TriggerMode]
}

func NewPilatusDriver(p signal.Provider, prefix string) *PilatusDriver {
	d := &PilatusDriver{
		ADDriver:    NewADDriver(p, prefix),
		TriggerMode: adRW[TriggerMode](p, prefix+"TriggerMode"),
	}
	d.Attach("trigger_mode", d.TriggerMode)
	return d
}
