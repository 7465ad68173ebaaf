package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gekko3d/particles/config"
	"github.com/gocarina/gocsv"
)

// OutputManager writes frames.csv and windows.csv into a run directory.
type OutputManager struct {
	dir         string
	framesFile  *os.File
	windowsFile *os.File

	framesHeaderWritten  bool
	windowsHeaderWritten bool
}

// NewOutputManager creates the output directory. Returns nil if dir is empty
// (output disabled); every method is a no-op on a nil manager.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	f, err := os.Create(filepath.Join(dir, "frames.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating frames.csv: %w", err)
	}
	om.framesFile = f

	f, err = os.Create(filepath.Join(dir, "windows.csv"))
	if err != nil {
		om.framesFile.Close()
		return nil, fmt.Errorf("creating windows.csv: %w", err)
	}
	om.windowsFile = f
	return om, nil
}

// WriteConfig saves the run configuration next to the CSV files.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

func (om *OutputManager) WriteFrame(r FrameRecord) error {
	if om == nil {
		return nil
	}
	if err := writeCSV(om.framesFile, []FrameRecord{r}, &om.framesHeaderWritten); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (om *OutputManager) WriteWindow(w WindowStats) error {
	if om == nil {
		return nil
	}
	if err := writeCSV(om.windowsFile, []WindowStats{w}, &om.windowsHeaderWritten); err != nil {
		return fmt.Errorf("writing window: %w", err)
	}
	return nil
}

// writeCSV emits the header only with the first batch.
func writeCSV(f *os.File, records any, headerWritten *bool) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}

func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes both files and returns the first error.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var firstErr error
	for _, f := range []*os.File{om.framesFile, om.windowsFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
