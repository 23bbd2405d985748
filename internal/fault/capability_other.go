//go:build !linux

package fault

// DetectCapabilities reports no partition support outside Linux.
func DetectCapabilities() Capabilities {
	return Capabilities{}
}
