package config

import (
	"fmt"

	"github.com/danmuck/acqctl/internal/areadetector"
	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/registry"
	"github.com/danmuck/acqctl/internal/signal"
)

// BuildRegistry constructs every configured detector against p and registers
// it by id. Shared options apply to each detector after its own timeout.
func BuildRegistry(p signal.Provider, cfg AcquisitionConfig, opts ...detector.Option) (*registry.Registry, map[string]*areadetector.Detector, error) {
	reg := registry.New()
	built := make(map[string]*areadetector.Detector, len(cfg.Detectors))
	for _, entry := range cfg.Detectors {
		dir := detector.NewStaticDirectoryProvider(cfg.Directory, cfg.FilenamePrefix+entry.ID+"-")
		detOpts := make([]detector.Option, 0, len(opts)+1)
		if t := entry.Timeout(); t > 0 {
			detOpts = append(detOpts, detector.WithTimeout(t))
		}
		detOpts = append(detOpts, opts...)

		var det *areadetector.Detector
		switch entry.Kind {
		case KindPilatus:
			det = areadetector.NewPilatusDetector(p, entry.Prefix, dir, detOpts...)
		default:
			det = areadetector.NewADDetector(p, entry.Prefix, dir, detOpts...)
		}
		meta := registry.Metadata{ID: entry.ID, Kind: entry.Kind, Prefix: entry.Prefix}
		if err := reg.Register(meta, det); err != nil {
			return nil, nil, err
		}
		built[entry.ID] = det
	}
	return reg, built, nil
}

// SimulateDetectors installs a simulated IOC behind every built detector and
// applies the simulation-only settings of its entry. The detectors must have
// been built against signal.Sim().
func SimulateDetectors(cfg AcquisitionConfig, built map[string]*areadetector.Detector) (map[string]*areadetector.SimIOC, error) {
	iocs := make(map[string]*areadetector.SimIOC, len(built))
	for _, entry := range cfg.Detectors {
		det, ok := built[entry.ID]
		if !ok {
			continue
		}
		ioc, err := det.Simulate()
		if err != nil {
			return nil, fmt.Errorf("simulate %s: %w", entry.ID, err)
		}
		ioc.DropFrames(entry.DropFrames)
		if entry.SensorWidth > 0 && entry.SensorHeight > 0 {
			ioc.SetSensorSize(entry.SensorWidth, entry.SensorHeight)
		}
		iocs[entry.ID] = ioc
	}
	return iocs, nil
}
