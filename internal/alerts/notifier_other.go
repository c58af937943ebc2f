//go:build !darwin

package alerts

// OSNotifier is a no-op outside macOS; there is no portable OS
// notification mechanism this daemon targets.
type OSNotifier struct{}

func (OSNotifier) Notify(title, message string) error {
	return nil
}
