package relocate

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
)

// HistoryDir is the name of the trend-history directory carried between
// consecutive report generations.
const HistoryDir = "history"

// CarryHistory copies <fromDir>/history into <toDir>/history so the next
// report generation can show trends. It returns false when the previous
// report has no history.
func CarryHistory(log logrus.FieldLogger, fromDir, toDir string) (bool, error) {
	src := filepath.Join(fromDir, HistoryDir)

	ok, err := fsutil.Exists(src)
	if err != nil {
		return false, fmt.Errorf("checking history directory: %w", err)
	}

	if !ok {
		log.WithField("from", src).Info("No history to copy")

		return false, nil
	}

	dst := filepath.Join(toDir, HistoryDir)

	if err := CopyTree(src, dst); err != nil {
		return false, fmt.Errorf("copying history: %w", err)
	}

	log.WithField("from", src).WithField("to", dst).Info("History copied")

	return true, nil
}
