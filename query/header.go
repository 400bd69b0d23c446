package query

import (
	"github.com/ipfs/go-cid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ipfs-embed/bitswap/metrics"
)

// header is the bookkeeping record kept for every live query, leaf or
// composite. It mirrors the reference implementation's Header type, with
// the duration timer and request counter fired explicitly by release
// instead of on drop.
type header struct {
	id     ID
	root   ID
	parent *ID
	cid    cid.Cid
	label  Label
	timer  *prometheus.Timer
}

// release fires the duration observation and increments the request
// counter for this query's label. It must be called exactly once, at the
// point the query's record is permanently removed from the manager
// (completion or cancellation) -- the Go stand-in for the reference's
// Drop impl on Header.
func (h *header) release(m *metrics.Metrics) {
	if h.timer != nil {
		h.timer.ObserveDuration()
	}
	m.RequestsTotal.WithLabelValues(string(h.label)).Inc()
}

// Header is the read-only view of a live query exposed to callers of
// Manager.Info.
type Header struct {
	ID     ID
	Root   ID
	Parent *ID
	Cid    cid.Cid
	Label  Label
}
