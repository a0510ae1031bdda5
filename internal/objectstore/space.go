package objectstore

import (
	"fmt"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// checkFreeSpace verifies the storage root's filesystem has at least
// minimumFreeGB available and logs the usage picture.
func checkFreeSpace(path string, minimumFreeGB uint, log *logrus.Logger) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("objectstore: reading disk usage for %s: %w", path, err)
	}

	freeGB := float64(usage.Free) / 1e9
	log.WithFields(logrus.Fields{
		"path":       path,
		"total (GB)": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
		"free (GB)":  fmt.Sprintf("%.2f", freeGB),
		"used (%)":   fmt.Sprintf("%.1f", usage.UsedPercent),
	}).Info("object store disk usage")

	if minimumFreeGB > 0 && freeGB < float64(minimumFreeGB) {
		return fmt.Errorf("objectstore: not enough space on %s: %.2f GB free, %d GB required",
			path, freeGB, minimumFreeGB)
	}
	return nil
}
