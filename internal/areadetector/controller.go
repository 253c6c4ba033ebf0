package areadetector

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/status"
)

const (
	adDeadtime      = 2 * time.Millisecond
	pilatusDeadtime = time.Millisecond
	disarmTimeout   = time.Second
)

// ADController arms a generic driver for internally triggered frames.
type ADController struct {
	driver  *ADDriver
	timeout time.Duration
}

var _ detector.Control = (*ADController)(nil)

func NewADController(drv *ADDriver) *ADController {
	return &ADController{driver: drv, timeout: device.DefaultTimeout}
}

func (c *ADController) Driver() *ADDriver {
	return c.driver
}

func (c *ADController) Deadtime(exposure time.Duration) time.Duration {
	return adDeadtime
}

func (c *ADController) Arm(ctx context.Context, trigger detector.Trigger, num int, exposure time.Duration) (*status.Status, error) {
	if trigger != detector.TriggerInternal {
		return nil, fmt.Errorf("%w: %s, only internal triggering is supported", detector.ErrUnsupportedTrigger, trigger)
	}
	err := status.WaitAll(ctx,
		setExposure(ctx, c.driver, exposure),
		c.driver.NumImages.Set(ctx, num),
		c.driver.ImageMode.Set(ctx, ImageModeSingle),
	)
	if err != nil {
		return nil, fmt.Errorf("arm %s: %w", c.driver.Name(), err)
	}
	return startAcquiring(ctx, c.driver, c.timeout)
}

func (c *ADController) Disarm(ctx context.Context) error {
	return StopBusyRecord(ctx, c.driver.Acquire, false, disarmTimeout)
}

var pilatusTriggerModes = map[detector.Trigger]TriggerMode{
	detector.TriggerInternal:     TriggerModeInternal,
	detector.TriggerConstantGate: TriggerModeExtEnable,
	detector.TriggerVariableGate: TriggerModeExtEnable,
}

// PilatusController arms a Pilatus driver for internal or gated acquisition.
type PilatusController struct {
	driver  *PilatusDriver
	timeout time.Duration
}

var _ detector.Control = (*PilatusController)(nil)

func NewPilatusController(drv *PilatusDriver) *PilatusController {
	return &PilatusController{driver: drv, timeout: device.DefaultTimeout}
}

func (c *PilatusController) Driver() *PilatusDriver {
	return c.driver
}

func (c *PilatusController) Deadtime(exposure time.Duration) time.Duration {
	return pilatusDeadtime
}

func (c *PilatusController) Arm(ctx context.Context, trigger detector.Trigger, num int, exposure time.Duration) (*status.Status, error) {
	mode, ok := pilatusTriggerModes[trigger]
	if !ok {
		return nil, fmt.Errorf("%w: %s", detector.ErrUnsupportedTrigger, trigger)
	}
	err := status.WaitAll(ctx,
		setExposure(ctx, c.driver.ADDriver, exposure),
		c.driver.TriggerMode.Set(ctx, mode),
		c.driver.NumImages.Set(ctx, num),
		c.driver.ImageMode.Set(ctx, ImageModeMultiple),
	)
	if err != nil {
		return nil, fmt.Errorf("arm %s: %w", c.driver.Name(), err)
	}
	return startAcquiring(ctx, c.driver.ADDriver, c.timeout)
}

func (c *PilatusController) Disarm(ctx context.Context) error {
	return StopBusyRecord(ctx, c.driver.Acquire, false, disarmTimeout)
}

// setExposure writes the acquire time when one is given.
func setExposure(ctx context.Context, drv *ADDriver, exposure time.Duration) *status.Status {
	if exposure <= 0 {
		return status.Completed(nil)
	}
	return drv.AcquireTime.Set(ctx, exposure.Seconds())
}
