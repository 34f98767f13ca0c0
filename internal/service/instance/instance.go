package instance

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/go-ps"
)

// commLength is the process name length reported by Linux.
const commLength = 15

// ExecutableName returns the base name of the running binary.
func ExecutableName() string {
	path, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}

	return filepath.Base(path)
}

// Others returns the sorted PIDs of processes other than this one whose
// executable is name.
func Others(name string) ([]int, error) {
	processList, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	thisProcessID := os.Getpid()

	var pids []int

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if !matches(process.Executable(), name) {
			continue
		}

		pids = append(pids, process.Pid())
	}

	slices.Sort(pids)

	return pids, nil
}

// matches compares process names, allowing for the truncated names Linux reports.
func matches(executable, name string) bool {
	executable = strings.TrimSuffix(executable, ".exe")
	name = strings.TrimSuffix(name, ".exe")

	if executable == name {
		return true
	}

	return len(name) > commLength && executable == name[:commLength]
}
