package logview

import (
	"fmt"

	"github.com/yuha-project/yuha-go/pkg/log"
)

// RunFilter copies the events of the capture at path that match filter into
// a new capture at output and returns how many were written.
func RunFilter(path, output string, filter log.Filter) (int, error) {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	err = each(reader, func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	})
	if closeErr := logger.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to write %s: %w", output, closeErr)
	}
	return count, err
}
