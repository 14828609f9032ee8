// Package message defines DNS message wire format structures per RFC 1035.
//
// This package implements the DNS message parsing and encoding requirements
// following RFC 1035 wire format specifications.
//
// Architecture: this package is internal (not importable by external users).
// The public API surface lives in the mdns package.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 1035 (DNS wire format), RFC 6762 (mDNS extensions)
package message

// DNSHeader represents the DNS message header per RFC 1035 §4.1.1.
//
// The header is always 12 bytes and contains metadata about the message.
//
// Wire format (big-endian):
//
//	                                1  1  1  1  1  1
//	  0  1  2  3  4  5  6  7  8  9  0  1  2  3  4  5
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                      ID                       |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|QR|   Opcode  |AA|TC|RD|RA|   Z    |   RCODE   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    QDCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    ANCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    NSCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    ARCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
type DNSHeader struct {
	// ID is the transaction ID (16 bits).
	//
	// RFC 6762 §18.1: Multicast DNS messages SHOULD use ID = 0 for one-shot queries.
	// This uses random ID for potential future compatibility.
	ID uint16

	// Flags contains bit-packed header flags (16 bits).
	//
	// Bit layout per RFC 1035 §4.1.1:
	//   QR (bit 15): 0=query, 1=response
	//   OPCODE (bits 11-14): 0=standard query
	//   AA (bit 10): Authoritative Answer
	//   TC (bit 9): Truncated
	//   RD (bit 8): Recursion Desired
	//   RA (bit 7): Recursion Available
	//   Z (bits 4-6): Reserved (must be zero)
	//   RCODE (bits 0-3): Response Code
	//
	// RFC 6762 §18 requirements for queries:
	//   QR=0, OPCODE=0, AA=0, TC=0, RD=0, Z=0, RCODE=0
	//
	// RFC 6762 §18 requirements for responses:
	//   QR=1, RCODE=0 (ignore non-zero)
	Flags uint16

	// QDCount is the number of entries in the Question section (16 bits).
	QDCount uint16

	// ANCount is the number of entries in the Answer section (16 bits).
	ANCount uint16

	// NSCount is the number of entries in the Authority section (16 bits).
	//
	// Authority section is ignored.
	NSCount uint16

	// ARCount is the number of entries in the Additional section (16 bits).
	//
	// Additional section is ignored.
	ARCount uint16
}

// IsQuery returns true if this is a query message (QR bit = 0) per RFC 1035 §4.1.1.
func (h *DNSHeader) IsQuery() bool {
	// QR bit is bit 15 (0x8000)
	return (h.Flags & 0x8000) == 0
}

// IsResponse returns true if this is a response message (QR bit = 1) per RFC 1035 §4.1.1.
func (h *DNSHeader) IsResponse() bool {
	// QR bit is bit 15 (0x8000)
	return (h.Flags & 0x8000) != 0
}

// GetRCODE extracts the response code from the Flags field per RFC 1035 §4.1.1.
//
// RCODE is bits 0-3 of the Flags field.
func (h *DNSHeader) GetRCODE() uint8 {
	// RCODE is bits 0-3 (mask 0x000F)
	// G115: bounds checked - bitwise AND with 0x000F always produces value 0-15, safe for uint8
	return uint8(h.Flags & 0x000F) //nolint:gosec // G115: bounds checked
}

// GetOPCODE extracts the operation code from the Flags field per RFC 1035 §4.1.1.
//
// OPCODE is bits 11-14 of the Flags field.
//
// RFC 6762 §18.3: OPCODE MUST be zero on transmission.
func (h *DNSHeader) GetOPCODE() uint8 {
	// OPCODE is bits 11-14 (shift right 11, mask 0x0F)
	// G115: bounds checked - bitwise AND with 0x0F always produces value 0-15, safe for uint8
	return uint8((h.Flags >> 11) & 0x0F) //nolint:gosec // G115: bounds checked
}

// Question represents a DNS question section entry per RFC 1035 §4.1.2.
//
// The question section contains the query being asked.
//
// Wire format:
//
//	                                1  1  1  1  1  1
//	  0  1  2  3  4  5  6  7  8  9  0  1  2  3  4  5
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                                               |
//	/                     QNAME                     /
//	/                                               /
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                     QTYPE                     |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                     QCLASS                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
type Question struct {
	// QNAME is the domain name being queried (variable length, label-encoded).
	//
	// RFC 1035 §3.1: Domain names are sequences of labels, each prefixed by a length byte.
	// Example: "printer.local" → 7printer5local0
	QNAME string

	// QTYPE is the query type (16 bits).
	//
	// This package supports: A (1), PTR (12), SRV (33), TXT (16).
	QTYPE uint16

	// QCLASS is the query class (16 bits).
	//
	// RFC 1035: IN = 1 (Internet class)
	// RFC 6762 §5.4: QU bit (bit 15) = 0 for multicast queries (default)
	//
	// This uses QCLASS = 0x0001 (IN, no QU bit)
	QCLASS uint16
}

// Answer represents a DNS answer/authority/additional section entry per RFC 1035 §4.1.3.
//
// The answer section contains resource records returned by the responder.
//
// Wire format:
//
//	                                1  1  1  1  1  1
//	  0  1  2  3  4  5  6  7  8  9  0  1  2  3  4  5
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                                               |
//	/                                               /
//	/                      NAME                     /
//	|                                               |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                      TYPE                     |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                     CLASS                     |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                      TTL                      |
//	|                                               |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                   RDLENGTH                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--|
//	/                     RDATA                     /
//	/                                               /
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
type Answer struct {
	// NAME is the domain name this record refers to (variable length, can be compressed).
	//
	// RFC 1035 §4.1.4: Names can use compression pointers (high 2 bits = 11).
	NAME string

	// TYPE is the resource record type (16 bits).
	//
	// This package supports: A (1), PTR (12), SRV (33), TXT (16).
	TYPE uint16

	// CLASS is the resource record class (16 bits).
	//
	// RFC 1035: IN = 1 (Internet class)
	// RFC 6762 §10.2: Cache-flush bit (bit 15) can be set in responses
	//
	// CLASS = 0x0001 (IN) or 0x8001 (IN + cache-flush, ignores cache-flush bit)
	CLASS uint16

	// TTL is the time-to-live in seconds (32 bits).
	//
	// RFC 1035: TTL specifies how long the record can be cached.
	// TTL is parsed but not used (caching not yet implemented).
	TTL uint32

	// RDLENGTH is the length of RDATA in bytes (16 bits).
	RDLENGTH uint16

	// RDATA is the type-specific resource data (variable length, RDLENGTH bytes).
	//
	// Format depends on TYPE:
	//   A (1):   4 bytes (IPv4 address)
	//   PTR (12): Domain name (label-encoded, can be compressed)
	//   SRV (33): 2 bytes priority + 2 bytes weight + 2 bytes port + domain name
	//   TXT (16): Text strings (length-prefixed strings)
	RDATA []byte
}

// DNSMessage represents a complete DNS message per RFC 1035 §4.1.
//
// The message consists of a header and up to four sections: Question, Answer,
// Authority, and Additional.
type DNSMessage struct {
	// Header is the DNS message header (12 bytes, always present).
	Header DNSHeader

	// Questions is the question section (variable length, QDCount entries).
	//
	// Queries have 1 question per query.
	Questions []Question

	// Answers is the answer section (variable length, ANCount entries).
	Answers []Answer

	// Authorities is the authority section (variable length, NSCount entries).
	Authorities []Answer

	// Additionals is the additional section (variable length, ARCount entries).
	Additionals []Answer
}
