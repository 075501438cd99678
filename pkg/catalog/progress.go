package catalog

// Progress step identifiers, in the order they occur during aggregation.
const (
	StepHomes         = "homes"
	StepShared        = "shared"
	StepHomesComplete = "homes_complete"
	StepDevices       = "devices"
	StepDeviceFound   = "device_found"
	StepBLEKey        = "ble_key"
)

// Progress is one incremental aggregation event.
type Progress struct {
	Message string `json:"message"`
	Step    string `json:"step"`

	CurrentHome int `json:"currentHome,omitempty"`
	TotalHomes  int `json:"totalHomes,omitempty"`

	// Device is set on device_found events, in discovery order.
	Device       *Device `json:"device,omitempty"`
	TotalDevices int     `json:"totalDevices,omitempty"`

	// DeviceName is set on ble_key events.
	DeviceName string `json:"deviceName,omitempty"`
}

// Sink receives progress events during aggregation. Implementations must
// tolerate being called once per device on large inventories.
type Sink interface {
	Report(p Progress)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(p Progress)

// Report implements Sink.
func (f SinkFunc) Report(p Progress) { f(p) }

// NopSink discards all progress events.
type NopSink struct{}

// Report implements Sink.
func (NopSink) Report(Progress) {}

var _ Sink = SinkFunc(nil)
var _ Sink = NopSink{}
