package pcap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CollectPcapFiles returns path itself when it is a file, or the sorted
// PCAP/PCAPNG files under it when it is a directory.
func CollectPcapFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var pcaps []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isCaptureFile(p) {
			pcaps = append(pcaps, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk pcaps: %w", err)
	}
	sort.Strings(pcaps)
	return pcaps, nil
}

func isCaptureFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng", ".cap":
		return true
	}
	return false
}
