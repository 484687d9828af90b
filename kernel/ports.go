package kernel

import "github.com/peismesh/kernel/transport"

// Reserved ports: every port <= 19 (transport's reservedPortMax) is excluded
// from "useful bytes" traffic accounting by transport.Connection. Of these,
// only PortAcknowledgements and PortRouting are consumed by
// Kernel.handleIncoming; packages on the other ports go to the dispatcher
// and its hooks like any other.
const (
	PortAcknowledgements = transport.PortAcknowledgements // 1
	PortRouting          = 2
	PortHostInfo         = 3
	PortDeadHost         = 4
	PortTuples           = 20 // first non-reserved port: tuplesvc traffic
)
