package model

// Default priority classes served when no configuration is given.
const (
	HIGH_PRIORITY = "high"
	LOW_PRIORITY  = "low"
)

const (
	HIGH_PRIORITY_SHARES uint32 = 10
	LOW_PRIORITY_SHARES  uint32 = 1
)

// Every request costs one unit of weight unless it says otherwise.
const DEFAULT_REQUEST_WEIGHT uint32 = 1

// ALPN protocol spoken between the client and the server.
const NEXT_PROTO = "fairq"

// Responses are filled with synthetic bytes, so their size is bounded.
const MAX_RESPONSE_SIZE = 64 << 20

// Bounds of a header block. A line longer than the reader buffer is rejected.
const MAX_HEADER_COUNT = 16
