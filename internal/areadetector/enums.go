package areadetector

// ImageMode is the driver's acquisition mode.
type ImageMode string

const (
	ImageModeSingle     ImageMode = "Single"
	ImageModeMultiple   ImageMode = "Multiple"
	ImageModeContinuous ImageMode = "Continuous"
)

// DetectorState is the driver's reported state.
type DetectorState string

const (
	DetectorIdle         DetectorState = "Idle"
	DetectorAcquire      DetectorState = "Acquire"
	DetectorReadout      DetectorState = "Readout"
	DetectorCorrect      DetectorState = "Correct"
	DetectorSaving       DetectorState = "Saving"
	DetectorAborting     DetectorState = "Aborting"
	DetectorError        DetectorState = "Error"
	DetectorWaiting      DetectorState = "Waiting"
	DetectorInitializing DetectorState = "Initializing"
	DetectorDisconnected DetectorState = "Disconnected"
	DetectorAborted      DetectorState = "Aborted"
)

// TriggerMode is the Pilatus driver trigger mode.
type TriggerMode string

const (
	TriggerModeInternal    TriggerMode = "Internal"
	TriggerModeExtEnable   TriggerMode = "Ext. Enable"
	TriggerModeExtTrigger  TriggerMode = "Ext. Trigger"
	TriggerModeMultTrigger TriggerMode = "Mult. Trigger"
	TriggerModeAlignment   TriggerMode = "Alignment"
)

// FileWriteMode is the file plugin write mode.
type FileWriteMode string

const (
	FileWriteSingle  FileWriteMode = "Single"
	FileWriteCapture FileWriteMode = "Capture"
	FileWriteStream  FileWriteMode = "Stream"
)
