package areadetector

import (
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/signal"
)

// NDFileHDF is the HDF5 file plugin record set.
type NDFileHDF struct {
	device.Base
	PositionMode   signal.SignalRW[bool]
	NumCapture     signal.SignalRW[int]
	NumCaptured    signal.SignalR[int]
	SWMRMode       signal.SignalRW[bool]
	LazyOpen       signal.SignalRW[bool]
	Capture        signal.SignalRW[bool]
	FlushNow       signal.SignalRW[bool]
	FilePath       signal.SignalRW[string]
	FileName       signal.SignalRW[string]
	FileTemplate   signal.SignalRW[string]
	FullFileName   signal.SignalR[string]
	FileWriteMode  signal.SignalRW[FileWriteMode]
	NumExtraDims   signal.SignalRW[int]
	FilePathExists signal.SignalR[bool]
}

// NewNDFileHDF binds the plugin records under prefix, e.g. "BL01:HDF:".
func NewNDFileHDF(p signal.Provider, prefix string) *NDFileHDF {
	h := &NDFileHDF{
		PositionMode:   adRW[bool](p, prefix+"PositionMode"),
		NumCapture:     adRW[int](p, prefix+"NumCapture"),
		NumCaptured:    adR[int](p, prefix+"NumCaptured"),
		SWMRMode:       adRW[bool](p, prefix+"SWMRMode"),
		LazyOpen:       adRW[bool](p, prefix+"LazyOpen"),
		Capture:        adRW[bool](p, prefix+"Capture"),
		FlushNow:       adRW[bool](p, prefix+"FlushNow"),
		FilePath:       adRW[string](p, prefix+"FilePath"),
		FileName:       adRW[string](p, prefix+"FileName"),
		FileTemplate:   adRW[string](p, prefix+"FileTemplate"),
		FullFileName:   adR[string](p, prefix+"FullFileName"),
		FileWriteMode:  adRW[FileWriteMode](p, prefix+"FileWriteMode"),
		NumExtraDims:   adRW[int](p, prefix+"NumExtraDims"),
		FilePathExists: adR[bool](p, prefix+"FilePathExists"),
	}
	h.Attach("position_mode", h.PositionMode)
	h.Attach("num_capture", h.NumCapture)
	h.Attach("num_captured", h.NumCaptured)
	h.Attach("swmr_mode", h.SWMRMode)
	h.Attach("lazy_open", h.LazyOpen)
	h.Attach("capture", h.Capture)
	h.Attach("flush_now", h.FlushNow)
	h.Attach("file_path", h.FilePath)
	h.Attach("file_name", h.FileName)
	h.Attach("file_template", h.FileTemplate)
	h.Attach("full_file_name", h.FullFileName)
	h.Attach("file_write_mode", h.FileWriteMode)
	h.Attach("num_extra_dims", h.NumExtraDims)
	h.Attach("file_path_exists", h.FilePathExists)
	return h
}
