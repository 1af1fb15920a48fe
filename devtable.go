package ubifs

import "os"

// DeviceOverride is the result of a device-table lookup: attribute
// overrides for a host-discovered path, or a wholly synthetic entry that
// exists only in the device table.
type DeviceOverride struct {
	Mode       os.FileMode
	Uid, Gid   uint32
	DevMajor   uint32
	DevMinor   uint32
	HasMode    bool
	HasOwner   bool
	IsSynthetic bool // true for device-table-only entries with no host backing
}

// DeviceTable is the external device-table lookup contract: given a
// directory path, it reports attribute overrides for host entries under
// that directory (keyed by name) plus any device-table-only synthetic
// children to emit after the host entries are drained. Creating regular
// files via the device table is forbidden; SyntheticChildren never
// contains a regular-file mode.
type DeviceTable interface {
	// Lookup returns an override for (dirPath, name) if the device table
	// mentions it, or ok=false if the device table has nothing to say
	// about this path.
	Lookup(dirPath, name string) (DeviceOverride, bool)

	// SyntheticChildren returns device-table-only entries to emit under
	// dirPath after all host-discovered children have been processed.
	SyntheticChildren(dirPath string) []SyntheticEntry
}

// SyntheticEntry is a device-table-only child: no host file backs it.
type SyntheticEntry struct {
	Name     string
	Override DeviceOverride
}

// noDeviceTable is the default DeviceTable: it never overrides anything and
// never synthesizes children.
type noDeviceTable struct{}

func (noDeviceTable) Lookup(string, string) (DeviceOverride, bool) { return DeviceOverride{}, false }
func (noDeviceTable) SyntheticChildren(string) []SyntheticEntry    { return nil }
