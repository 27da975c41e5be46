package reversal

import (
	"errors"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// Notifier delivers reversal events to an alerting collaborator.
type Notifier interface {
	NotifyReversal(n models.ReversalNotification) error
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyReversal(n models.ReversalNotification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.NotifyReversal(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
