package wiki

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPToHex renders an address in the sortable hex form used by the tracking
// table: eight uppercase digits for IPv4, "v6-" plus 32 digits for IPv6.
// Unparseable input yields "".
func IPToHex(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%02X%02X%02X%02X", b[0], b[1], b[2], b[3])
	}
	b := addr.As16()
	return fmt.Sprintf("v6-%X", b[:])
}
