package ovfbuild

// guestOSEntry maps a .vmx guestOS tag to the CIM OperatingSystemSection
// id and VMware's own vmw:osType string. The table is not exhaustive;
// spec.md §4.7 treats this lookup as a mechanical external collaborator,
// so unknown tags fall back to the generic "otherGuest64" entry rather
// than failing the export.
type guestOSEntry struct {
	cimID  int
	vmwTag string
}

// CIM 3.0 OperatingSystemSection IDs, as used by VMware's own OVF
// exporter (ovftool) for these guestOS tags.
var guestOSTable = map[string]guestOSEntry{
	"ubuntu-64":      {101, "ubuntu64Guest"},
	"ubuntu":         {93, "ubuntuGuest"},
	"centos-64":      {106, "centos64Guest"},
	"centos":         {105, "centosGuest"},
	"rhel-64":        {80, "rhel7_64Guest"},
	"rhel7-64":       {80, "rhel7_64Guest"},
	"rhel8-64":       {80, "rhel8_64Guest"},
	"debian-64":      {96, "debian10_64Guest"},
	"debian":         {95, "debian10Guest"},
	"windows9-64":    {103, "windows9_64Guest"},
	"windows9":       {102, "windows9Guest"},
	"windows8srv-64": {80, "windows8Server64Guest"},
	"winnetstandard": {80, "winNetStandardGuest"},
	"other-64":       {100, "otherLinux64Guest"},
	"other":          {100, "otherLinuxGuest"},
	"freebsd-64":     {78, "freebsd64Guest"},
	"freebsd":        {42, "freebsdGuest"},
}

const (
	defaultCIMID  = 100
	defaultVMWTag = "otherGuest64"
)

// lookupGuestOS resolves a .vmx guestOS tag to (cimID, vmwOSType). An
// unrecognized tag yields the generic "other 64-bit" entry.
func lookupGuestOS(guestOS string) (int, string) {
	if e, ok := guestOSTable[guestOS]; ok {
		return e.cimID, e.vmwTag
	}
	return defaultCIMID, defaultVMWTag
}
