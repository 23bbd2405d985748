//go:build linux

package fault

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// DetectCapabilities は CAP_NET_ADMIN と iptables の有無を調べる
func DetectCapabilities() Capabilities {
	var caps Capabilities

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err == nil {
		caps.NetAdmin = data[unix.CAP_NET_ADMIN/32].Effective&(1<<(unix.CAP_NET_ADMIN%32)) != 0
	}

	if _, err := exec.LookPath("iptables"); err == nil {
		caps.Iptables = true
	}
	return caps
}
