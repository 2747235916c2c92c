package quictransport

import (
	"net"
	"strings"
)

const (
	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024

	// DefaultUDPBuffer is requested for both socket directions.
	DefaultUDPBuffer = 8 * 1024 * 1024
)

// Tuning statuses.
const (
	TuneOK     = "ok"
	TuneDenied = "denied"
)

// UDPTuneResult reports what socket buffer sizes were requested.
type UDPTuneResult struct {
	RequestedR int
	RequestedW int
	Status     string
	Err        string
}

// TuneUDP asks the kernel for larger socket buffers. Failure is not fatal;
// quic-go runs with the system defaults.
func TuneUDP(conn *net.UDPConn, r, w int) UDPTuneResult {
	res := UDPTuneResult{
		RequestedR: clampUDPBuffer(r),
		RequestedW: clampUDPBuffer(w),
		Status:     TuneOK,
	}
	var errs []string
	if err := conn.SetReadBuffer(res.RequestedR); err != nil {
		errs = append(errs, "read: "+err.Error())
	}
	if err := conn.SetWriteBuffer(res.RequestedW); err != nil {
		errs = append(errs, "write: "+err.Error())
	}
	if len(errs) > 0 {
		res.Status = TuneDenied
		res.Err = strings.Join(errs, "; ")
	}
	return res
}

func clampUDPBuffer(n int) int {
	return min(max(n, minUDPBuffer), maxUDPBuffer)
}
