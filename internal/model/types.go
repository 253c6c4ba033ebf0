package model

// Descriptor is backend-reported metadata for one data field.
type Descriptor struct {
	Source   string `json:"source" msgpack:"source"`
	Dtype    string `json:"dtype" msgpack:"dtype"`
	Shape    []int  `json:"shape" msgpack:"shape"`
	External string `json:"external,omitempty" msgpack:"external,omitempty"`
}

// Reading is one timestamped value for a data field.
type Reading struct {
	Value         any     `json:"value" msgpack:"value"`
	Timestamp     float64 `json:"timestamp" msgpack:"timestamp"`
	AlarmSeverity int     `json:"alarm_severity" msgpack:"alarm_severity"`
}

const (
	DocStart          = "start"
	DocDescriptor     = "descriptor"
	DocEvent          = "event"
	DocStop           = "stop"
	DocStreamResource = "stream_resource"
	DocStreamDatum    = "stream_datum"
)

// Asset is a stream document emitted by a detector writer.
type Asset interface {
	DocumentName() string
}

// StreamResource identifies a backing data container.
type StreamResource struct {
	UID            string         `json:"uid" msgpack:"uid"`
	DataKey        string         `json:"data_key" msgpack:"data_key"`
	Spec           string         `json:"spec" msgpack:"spec"`
	RootPath       string         `json:"root" msgpack:"root"`
	ResourcePath   string         `json:"resource_path" msgpack:"resource_path"`
	ResourceKwargs map[string]any `json:"resource_kwargs" msgpack:"resource_kwargs"`
}

func (StreamResource) DocumentName() string { return DocStreamResource }

// Range is a half-open [Start, Stop) span.
type Range struct {
	Start int `json:"start" msgpack:"start"`
	Stop  int `json:"stop" msgpack:"stop"`
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	if r.Stop < r.Start {
		return 0
	}
	return r.Stop - r.Start
}

// StreamDatum declares a contiguous index range available in a resource.
type StreamDatum struct {
	UID            string `json:"uid" msgpack:"uid"`
	StreamResource string `json:"stream_resource" msgpack:"stream_resource"`
	Descriptor     string `json:"descriptor" msgpack:"descriptor"`
	Indices        Range  `json:"indices" msgpack:"indices"`
	SeqNums        Range  `json:"seq_nums" msgpack:"seq_nums"`
}

func (StreamDatum) DocumentName() string { return DocStreamDatum }

var (
	_ Asset = StreamResource{}
	_ Asset = StreamDatum{}
)
