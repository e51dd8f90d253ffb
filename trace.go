package netscen

// trace.go holds the CaptureManager, which records packet transmissions and receptions on the
// devices and links a scenario asks to watch.  Capture is observation only: enabling it never
// changes what is delivered or when

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// CaptureOp says what happened to the packet at the captured device
type CaptureOp string

const (
	CaptureTx CaptureOp = "tx"
	CaptureRx CaptureOp = "rx"
)

// CaptureRecord is one packet event seen at a captured device
type CaptureRecord struct {
	Time     float64   `json:"time" yaml:"time"`
	Device   string    `json:"device" yaml:"device"`
	Op       CaptureOp `json:"op" yaml:"op"`
	PacketID int       `json:"packetid" yaml:"packetid"`
	Kind     string    `json:"kind" yaml:"kind"`
	Src      string    `json:"src" yaml:"src"`
	Dst      string    `json:"dst" yaml:"dst"`
	Size     int       `json:"size" yaml:"size"`
}

// CaptureFile is what WriteToFile serializes
type CaptureFile struct {
	RunID   string                     `json:"runid" yaml:"runid"`
	ExpName string                     `json:"expname" yaml:"expname"`
	Labels  map[string]string          `json:"labels" yaml:"labels"`
	Records map[string][]CaptureRecord `json:"records" yaml:"records"`
}

// CaptureManager gathers capture records for one scenario run, keyed by capture label
type CaptureManager struct {
	ExpName string
	RunID   string

	// label of every captured device, by device name
	labels map[string]string

	records map[string][]CaptureRecord
	count   int
}

// CreateCaptureManager is a constructor
func CreateCaptureManager(expName string) *CaptureManager {
	cm := new(CaptureManager)
	cm.ExpName = expName
	cm.labels = make(map[string]string)
	cm.records = make(map[string][]CaptureRecord)
	return cm
}

// Active reports whether anything is being captured
func (cm *CaptureManager) Active() bool {
	return cm != nil && len(cm.labels) > 0
}

// EnableCapture marks a device, or every device of a link, for capture under the label prefix.
// Each device gets the label "<prefix>-<node id>-<device index on node>"
func (cm *CaptureManager) EnableCapture(target any, prefix string) error {
	switch tgt := target.(type) {
	case *Device:
		cm.enableDevice(tgt, prefix)
	case DeviceList:
		for _, dev := range tgt {
			cm.enableDevice(dev, prefix)
		}
	case *Link:
		for _, dev := range tgt.Devices {
			cm.enableDevice(dev, prefix)
		}
	default:
		return fmt.Errorf("%w: cannot capture on %T", ErrConfiguration, target)
	}
	return nil
}

func (cm *CaptureManager) enableDevice(dev *Device, prefix string) {
	if len(dev.Capture) > 0 {
		return
	}
	idx := 0
	for i, nd := range dev.Node.Devices {
		if nd == dev {
			idx = i
			break
		}
	}
	dev.Capture = fmt.Sprintf("%s-%d-%d", prefix, dev.Node.ID, idx)
	cm.labels[dev.Name] = dev.Capture
}

// Record stores a packet event if the device is captured
func (cm *CaptureManager) Record(now float64, dev *Device, op CaptureOp, pkt *Packet) {
	if cm == nil || len(dev.Capture) == 0 {
		return
	}
	rec := CaptureRecord{Time: now, Device: dev.Name, Op: op, PacketID: pkt.ID, Kind: string(pkt.Kind),
		Src: pkt.Src.String(), Dst: pkt.Dst.String(), Size: pkt.Size}
	cm.records[dev.Capture] = append(cm.records[dev.Capture], rec)
	cm.count += 1
}

// Records returns the records gathered under a label, in time order
func (cm *CaptureManager) Records(label string) []CaptureRecord {
	return cm.records[label]
}

// Count returns the total number of records gathered
func (cm *CaptureManager) Count() int {
	return cm.count
}

// Labels returns the capture labels in sorted order
func (cm *CaptureManager) Labels() []string {
	rtn := make([]string, 0, len(cm.labels))
	for _, label := range cm.labels {
		rtn = append(rtn, label)
	}
	sort.Strings(rtn)
	return rtn
}

// WriteToFile stores the capture to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// When globalOrder is set every record is merged into one time-ordered list under the label "all"
func (cm *CaptureManager) WriteToFile(filename string, globalOrder bool) error {
	cf := CaptureFile{RunID: cm.RunID, ExpName: cm.ExpName, Labels: cm.labels, Records: cm.records}

	if globalOrder {
		merged := make([]CaptureRecord, 0, cm.count)
		for _, label := range cm.Labels() {
			merged = append(merged, cm.records[label]...)
		}
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })
		cf.Records = map[string][]CaptureRecord{"all": merged}
	}

	return writeByExt(filename, cf)
}

// marshalByExt serializes v as yaml or json according to the extension of filename
func marshalByExt(filename string, v any) ([]byte, error) {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return yaml.Marshal(v)
	case ".json", ".JSON":
		return json.MarshalIndent(v, "", "\t")
	}
	return nil, fmt.Errorf("%w: %s has neither a yaml nor a json extension", ErrConfiguration, filename)
}

// writeByExt serializes v to the named file, as yaml or json according to its extension
func writeByExt(filename string, v any) error {
	bytes, err := marshalByExt(filename, v)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// unmarshalByExt is the inverse of marshalByExt
func unmarshalByExt(filename string, bytes []byte, v any) error {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return yaml.Unmarshal(bytes, v)
	case ".json", ".JSON":
		return json.Unmarshal(bytes, v)
	}
	return fmt.Errorf("%w: %s has neither a yaml nor a json extension", ErrConfiguration, filename)
}

// fmtTime renders a simulation time the way capture and log records show it
func fmtTime(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
