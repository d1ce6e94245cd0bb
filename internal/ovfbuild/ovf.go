// Package ovfbuild builds the OVF XML descriptor for an exported OVA
// (C7). The contract comes from spec.md §4.7; the shape of the structs
// below follows the teacher's pkg/ova generator in spirit, rewritten
// against encoding/xml rather than string concatenation.
//
// No third-party OVF/VIM type library is used here. govmomi's ovf and
// vim25/types packages model this same schema, but govmomi targets a
// live vCenter/ESXi API session — nothing in this module's domain (a
// local VMX and flat VMDK, no hypervisor connection) exercises the rest
// of govmomi's surface, and the teacher's own go.mod does not actually
// declare it as a dependency despite one provisioner importing it. Since
// the build here cannot be checked against real struct definitions,
// pulling in a several-hundred-package SDK for one XML shape it only
// partially models is worse than the handful of structs below.
package ovfbuild

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// DiskRef is one disk's contribution to the References, DiskSection, and
// VirtualHardwareSection blocks.
type DiskRef struct {
	DiskID          string
	FileRef         string
	FileName        string
	CapacityBytes   int64
	CompressedBytes int64
	ControllerID    string // instance ID of the owning SCSI controller
}

// Config is everything the orchestrator knows about the VM being
// exported.
type Config struct {
	Name         string
	GuestOS      string // raw .vmx guestOS tag, e.g. "ubuntu-64"
	NumCPU       int
	MemoryMB     int64
	Disks        []DiskRef
	NetworkNames []string
}

const (
	nsOVF  = "http://schemas.dmtf.org/ovf/envelope/1"
	nsRASD = "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_ResourceAllocationSettingData"
	nsVSSD = "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_VirtualSystemSettingData"
	nsVMW  = "http://www.vmware.com/schema/ovf"
	nsXSI  = "http://www.w3.org/2001/XMLSchema-instance"
	nsCIM  = "http://schemas.dmtf.org/wbem/wscim/1/common"

	vmdkStreamOptimizedFormat = "http://www.vmware.com/interfaces/specifications/vmdk.html#streamOptimized"
	virtualSystemType         = "vmx-21"

	resourceTypeCPU        = 3
	resourceTypeMemory     = 4
	resourceTypeSCSI       = 6
	resourceTypeDisk       = 17
	resourceTypeEthernet   = 10
	scsiControllerInstance = "3"
	scsiControllerSubtype  = "lsilogic"
	ethernetSubtype        = "E1000"
)

// envelope and its children mirror spec.md §4.7's required element set.
// Field order matters for deterministic, spec-shaped output.
type envelope struct {
	XMLName         xml.Name `xml:"ovf:Envelope"`
	XMLNSOvf        string   `xml:"xmlns:ovf,attr"`
	XMLNSRasd       string   `xml:"xmlns:rasd,attr"`
	XMLNSVssd       string   `xml:"xmlns:vssd,attr"`
	XMLNSVmw        string   `xml:"xmlns:vmw,attr"`
	XMLNSXsi        string   `xml:"xmlns:xsi,attr"`
	XMLNSCim        string   `xml:"xmlns:cim,attr"`
	References      references
	DiskSection     diskSection
	NetworkSection  networkSection
	VirtualSystem   virtualSystem
}

type references struct {
	XMLName xml.Name    `xml:"References"`
	Files   []fileEntry `xml:"File"`
}

type fileEntry struct {
	XMLName xml.Name `xml:"File"`
	Href    string   `xml:"ovf:href,attr"`
	ID      string   `xml:"ovf:id,attr"`
	Size    int64    `xml:"ovf:size,attr"`
}

type diskSection struct {
	XMLName xml.Name   `xml:"DiskSection"`
	Info    string     `xml:"Info"`
	Disks   []diskItem `xml:"Disk"`
}

type diskItem struct {
	XMLName                 xml.Name `xml:"Disk"`
	DiskID                  string   `xml:"ovf:diskId,attr"`
	FileRef                 string   `xml:"ovf:fileRef,attr"`
	Capacity                int64    `xml:"ovf:capacity,attr"`
	CapacityAllocationUnits string   `xml:"ovf:capacityAllocationUnits,attr"`
	Format                  string   `xml:"ovf:format,attr"`
}

type networkSection struct {
	XMLName  xml.Name       `xml:"NetworkSection"`
	Info     string         `xml:"Info"`
	Networks []networkEntry `xml:"Network"`
}

type networkEntry struct {
	XMLName     xml.Name `xml:"Network"`
	Name        string   `xml:"ovf:name,attr"`
	Description string   `xml:"Description"`
}

type virtualSystem struct {
	XMLName               xml.Name `xml:"VirtualSystem"`
	ID                    string   `xml:"ovf:id,attr"`
	Info                  string   `xml:"Info"`
	Name                  string   `xml:"Name"`
	OperatingSystemSect   operatingSystemSection
	VirtualHardwareSect   virtualHardwareSection
}

type operatingSystemSection struct {
	XMLName xml.Name `xml:"OperatingSystemSection"`
	ID      int      `xml:"ovf:id,attr"`
	VmwOsType string `xml:"vmw:osType,attr"`
	Info    string   `xml:"Info"`
	Description string `xml:"Description"`
}

type virtualHardwareSection struct {
	XMLName xml.Name    `xml:"VirtualHardwareSection"`
	Info    string      `xml:"Info"`
	System  systemBlock `xml:"System"`
	Items   []item      `xml:"Item"`
}

type systemBlock struct {
	XMLName                 xml.Name `xml:"System"`
	ElementName             string   `xml:"vssd:ElementName"`
	InstanceID              string   `xml:"vssd:InstanceID"`
	VirtualSystemIdentifier string   `xml:"vssd:VirtualSystemIdentifier"`
	VirtualSystemType       string   `xml:"vssd:VirtualSystemType"`
}

type item struct {
	XMLName             xml.Name `xml:"Item"`
	Address             string   `xml:"rasd:Address,omitempty"`
	AddressOnParent     string   `xml:"rasd:AddressOnParent,omitempty"`
	AllocationUnits     string   `xml:"rasd:AllocationUnits,omitempty"`
	Connection          string   `xml:"rasd:Connection,omitempty"`
	Description         string   `xml:"rasd:Description,omitempty"`
	ElementName         string   `xml:"rasd:ElementName"`
	HostResource        string   `xml:"rasd:HostResource,omitempty"`
	InstanceID          string   `xml:"rasd:InstanceID"`
	Parent              string   `xml:"rasd:Parent,omitempty"`
	ResourceSubType     string   `xml:"rasd:ResourceSubType,omitempty"`
	ResourceType        int      `xml:"rasd:ResourceType"`
	VirtualQuantity     int64    `xml:"rasd:VirtualQuantity,omitempty"`
}

// Build renders the complete OVF XML document for cfg.
func Build(cfg Config) ([]byte, error) {
	if len(cfg.Disks) == 0 {
		return nil, fmt.Errorf("ovfbuild: config has no disks")
	}

	env := envelope{
		XMLNSOvf:  nsOVF,
		XMLNSRasd: nsRASD,
		XMLNSVssd: nsVSSD,
		XMLNSVmw:  nsVMW,
		XMLNSXsi:  nsXSI,
		XMLNSCim:  nsCIM,
	}

	for _, d := range cfg.Disks {
		env.References.Files = append(env.References.Files, fileEntry{
			Href: d.FileName,
			ID:   d.FileRef,
			Size: d.CompressedBytes,
		})
		env.DiskSection.Disks = append(env.DiskSection.Disks, diskItem{
			DiskID:                  d.DiskID,
			FileRef:                 d.FileRef,
			Capacity:                d.CapacityBytes / (1 << 30),
			CapacityAllocationUnits: "byte * 2^30",
			Format:                  vmdkStreamOptimizedFormat,
		})
	}
	env.DiskSection.Info = "Virtual disk information"

	netNames := cfg.NetworkNames
	if len(netNames) == 0 {
		netNames = []string{"VM Network"}
	}
	env.NetworkSection.Info = "The list of logical networks"
	for _, n := range netNames {
		env.NetworkSection.Networks = append(env.NetworkSection.Networks, networkEntry{
			Name:        n,
			Description: "The network that the VM will be connected to",
		})
	}

	osID, osType := lookupGuestOS(cfg.GuestOS)

	vs := virtualSystem{
		ID:   cfg.Name,
		Info: "A virtual machine",
		Name: cfg.Name,
		OperatingSystemSect: operatingSystemSection{
			ID:          osID,
			VmwOsType:   osType,
			Info:        "The kind of installed guest operating system",
			Description: osType,
		},
		VirtualHardwareSect: virtualHardwareSection{
			Info: "Virtual hardware requirements",
			System: systemBlock{
				ElementName:             "Virtual Hardware Family",
				InstanceID:              "0",
				VirtualSystemIdentifier: cfg.Name,
				VirtualSystemType:       virtualSystemType,
			},
		},
	}

	items := []item{
		{
			ElementName:     fmt.Sprintf("%d virtual CPU(s)", cfg.NumCPU),
			InstanceID:      "1",
			ResourceType:    resourceTypeCPU,
			VirtualQuantity: int64(cfg.NumCPU),
			AllocationUnits: "hertz * 10^6",
		},
		{
			ElementName:     fmt.Sprintf("%dMB of memory", cfg.MemoryMB),
			InstanceID:      "2",
			ResourceType:    resourceTypeMemory,
			VirtualQuantity: cfg.MemoryMB,
			AllocationUnits: "byte * 2^20",
		},
		{
			ElementName:     "SCSI Controller",
			InstanceID:      scsiControllerInstance,
			ResourceType:    resourceTypeSCSI,
			ResourceSubType: scsiControllerSubtype,
		},
	}

	for i, d := range cfg.Disks {
		instance := fmt.Sprintf("%d", 10+i)
		controllerID := d.ControllerID
		if controllerID == "" {
			controllerID = scsiControllerInstance
		}
		items = append(items, item{
			ElementName:     fmt.Sprintf("Hard disk %d", i+1),
			InstanceID:      instance,
			Parent:          controllerID,
			AddressOnParent: fmt.Sprintf("%d", i),
			HostResource:    fmt.Sprintf("ovf:/disk/%s", d.DiskID),
			ResourceType:    resourceTypeDisk,
		})
	}

	items = append(items, item{
		ElementName:     "Ethernet adapter",
		InstanceID:      fmt.Sprintf("%d", 10+len(cfg.Disks)),
		ResourceType:    resourceTypeEthernet,
		ResourceSubType: ethernetSubtype,
		AddressOnParent: "0",
		Connection:      netNames[0],
	})

	vs.VirtualHardwareSect.Items = items
	env.VirtualSystem = vs

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("ovfbuild: encode: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
