package query

import "strconv"

// ID identifies a query or sub-query. A Manager assigns IDs in strictly
// increasing order starting at zero and never reuses one.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Label names the kind of a query. It doubles as the Prometheus label
// value for bitswap_requests_total and bitswap_request_duration_seconds.
type Label string

const (
	LabelHave          Label = "have"
	LabelBlock         Label = "block"
	LabelMissingBlocks Label = "missing-blocks"
	LabelGet           Label = "get"
	LabelSync          Label = "sync"
)
