package walkerd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// ExportTrialNPY writes one NumPy .npy file per device into dir, each holding
// that device's trial series as an NPoints x (1+NChan) matrix whose first
// column is the sample offset in seconds. It returns the files written.
// Devices whose trial series is empty are skipped.
func ExportTrialNPY(dir string, dump DevicesDump) ([]string, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(dump))
	for id := range dump {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var written []string
	for _, id := range ids {
		cd := dump[id]
		if cd.Trial.NPoints == 0 {
			continue
		}
		fname := filepath.Join(dir, fmt.Sprintf("device%04d_%s_trial.npy", id, sanitizeName(cd.Name)))
		if err := writeTrialFile(fname, cd); err != nil {
			return written, err
		}
		written = append(written, fname)
	}
	return written, nil
}

func writeTrialFile(fname string, cd CollectorDump) error {
	nrows := cd.Trial.NPoints
	ncols := 1 + cd.ChannelCount
	data := make([]float64, nrows*ncols)
	for i, p := range cd.Trial.Points {
		row := data[i*ncols : (i+1)*ncols]
		row[0] = p.Offset.Seconds()
		for c := 0; c < cd.ChannelCount && c < len(p.Channels); c++ {
			row[1+c] = p.Channels[c]
		}
	}
	m := mat.NewDense(nrows, ncols, data)

	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := npyio.Write(f, m); err != nil {
		return fmt.Errorf("could not write %s: %w", fname, err)
	}
	return f.Close()
}

func sanitizeName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.Trim(clean, "_")
}
