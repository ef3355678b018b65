package arq

// RTO tuning defaults, wire/behavior-compatible with the reference
// implementation.
const (
	rtoNoDelay = 30    // minimum RTO once nodelay is enabled
	rtoMin     = 100   // minimum RTO otherwise
	rtoDefault = 200   // initial rx_rto before any sample arrives
	rtoMax     = 60000 // ceiling on rx_rto
)

// rtoEstimator tracks smoothed RTT, RTT variance, and the derived
// retransmit timeout. The EWMA here is the simple two-branch form from
// the Rust reference (src/kcp.rs::update_ack), not the conditionally
// reweighted variant some Go lineages carry — see SPEC_FULL.md.
type rtoEstimator struct {
	srtt   int32
	rttvar int32
	rto    uint32
	minrto uint32
}

func newRTOEstimator() rtoEstimator {
	return rtoEstimator{
		rto:    rtoDefault,
		minrto: rtoMin,
	}
}

// sample feeds one RTT observation (milliseconds) and recomputes rto.
// interval is the current flush interval, used as the floor on the
// variance term per spec §4.5.
func (e *rtoEstimator) sample(rtt int32, interval uint32) {
	if e.srtt == 0 {
		e.srtt = rtt
		e.rttvar = rtt / 2
	} else {
		delta := rtt - e.srtt
		if delta < 0 {
			delta = -delta
		}
		e.rttvar = (3*e.rttvar + delta) / 4
		e.srtt = (7*e.srtt + rtt) / 8
		if e.srtt < 1 {
			e.srtt = 1
		}
	}
	rto := uint32(e.srtt) + imax32(interval, uint32(4*e.rttvar))
	e.rto = bound32(e.minrto, rto, rtoMax)
}

// setNoDelay toggles the minimum RTO floor between the fast and normal
// defaults; it does not touch the current rx_rto value.
func (e *rtoEstimator) setNoDelay(nodelay bool) {
	if nodelay {
		e.minrto = rtoNoDelay
	} else {
		e.minrto = rtoMin
	}
}
