// Package vmxcfg parses VMware Workstation .vmx configuration files and
// their sibling monolithic-flat VMDK descriptors (spec.md §4.6). Per
// spec.md §1 this is deliberately mechanical text processing — no
// design guidance is warranted beyond getting the handful of keys the
// orchestrator needs.
package vmxcfg

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// DiskRef is one disk entry discovered in a .vmx file.
type DiskRef struct {
	Controller string // e.g. "scsi0", "ide0", "nvme0"
	Unit       int
	VMDKPath   string // resolved relative to the .vmx's directory
}

// VMConfig is the subset of a .vmx file the exporter needs.
type VMConfig struct {
	Name     string
	GuestOS  string
	NumCPU   int
	MemoryMB int64
	Disks    []DiskRef
	dir      string // directory containing the .vmx, for resolving relative paths
}

var diskLineRE = regexp.MustCompile(`^(scsi|ide|sata|nvme)(\d+):(\d+)\.fileName$`)

// ParseVMXFile opens and parses path.
func ParseVMXFile(path string) (*VMConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vmx %q: %w", path, err)
	}
	defer f.Close()

	kv, err := parseKeyValue(f)
	if err != nil {
		return nil, fmt.Errorf("vmx %q: %w", path, err)
	}

	cfg := &VMConfig{
		Name:     firstNonEmpty(kv["displayname"], strings.TrimSuffix(baseName(path), ".vmx")),
		GuestOS:  kv["guestos"],
		NumCPU:   1,
		MemoryMB: 1024,
		dir:      dirName(path),
	}

	if v, ok := kv["numvcpus"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NumCPU = n
		}
	}
	if v, ok := kv["memsize"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MemoryMB = n
		}
	}

	type diskKey struct {
		controller string
		unit       int
	}
	seen := make(map[diskKey]bool)

	for key, val := range kv {
		m := diskLineRE.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		if !strings.HasSuffix(val, ".vmdk") {
			continue
		}
		unit, _ := strconv.Atoi(m[3])
		dk := diskKey{controller: m[1] + m[2], unit: unit}
		if seen[dk] {
			continue
		}
		seen[dk] = true

		cfg.Disks = append(cfg.Disks, DiskRef{
			Controller: dk.controller,
			Unit:       unit,
			VMDKPath:   resolvePath(cfg.dir, val),
		})
	}

	return cfg, nil
}

func parseKeyValue(f *os.File) (map[string]string, error) {
	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("line %d: malformed key/value line %q", lineNo, line)
		}

		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"`)
		kv[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return kv, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func baseName(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	return path[i+1:]
}

func dirName(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i < 0 {
		return "."
	}
	return path[:i]
}

func resolvePath(dir, name string) string {
	if strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return name
	}
	return dir + "/" + name
}
