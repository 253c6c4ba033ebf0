package model

// RunStart opens a run.
type RunStart struct {
	UID       string   `json:"uid" msgpack:"uid"`
	Time      float64  `json:"time" msgpack:"time"`
	PlanName  string   `json:"plan_name" msgpack:"plan_name"`
	Detectors []string `json:"detectors" msgpack:"detectors"`
	NumPoints int      `json:"num_points" msgpack:"num_points"`
}

// Configuration carries one device's configuration snapshot.
type Configuration struct {
	Data       map[string]any        `json:"data" msgpack:"data"`
	Timestamps map[string]float64    `json:"timestamps" msgpack:"timestamps"`
	DataKeys   map[string]Descriptor `json:"data_keys" msgpack:"data_keys"`
}

// EventDescriptor declares the data keys of a stream.
type EventDescriptor struct {
	UID           string                   `json:"uid" msgpack:"uid"`
	RunStart      string                   `json:"run_start" msgpack:"run_start"`
	Name          string                   `json:"name" msgpack:"name"`
	Time          float64                  `json:"time" msgpack:"time"`
	DataKeys      map[string]Descriptor    `json:"data_keys" msgpack:"data_keys"`
	Configuration map[string]Configuration `json:"configuration" msgpack:"configuration"`
}

// Event is one row of scalar data. Detectors that stream their data leave it empty.
type Event struct {
	UID        string             `json:"uid" msgpack:"uid"`
	Descriptor string             `json:"descriptor" msgpack:"descriptor"`
	SeqNum     int                `json:"seq_num" msgpack:"seq_num"`
	Time       float64            `json:"time" msgpack:"time"`
	Data       map[string]any     `json:"data" msgpack:"data"`
	Timestamps map[string]float64 `json:"timestamps" msgpack:"timestamps"`
}

const (
	ExitSuccess = "success"
	ExitFail    = "fail"
)

// RunStop closes a run.
type RunStop struct {
	UID        string         `json:"uid" msgpack:"uid"`
	RunStart   string         `json:"run_start" msgpack:"run_start"`
	Time       float64        `json:"time" msgpack:"time"`
	ExitStatus string         `json:"exit_status" msgpack:"exit_status"`
	Reason     string         `json:"reason,omitempty" msgpack:"reason,omitempty"`
	NumEvents  map[string]int `json:"num_events" msgpack:"num_events"`
}
