// Package message implements DNS message construction per RFC 6762.
//
// BuildPacket (packet.go) is the one production entry point: it takes the
// domain-level Record type directly and assembles whatever mix of
// questions/records the MSD query or response loop needs. The
// fixed-shape single-question-query and answers-only-response builders
// this package started from are gone — BuildPacket's (id, flags,
// questions, records) shape covers both without the duplication.
package message

// nosemgrep: beacon-external-dependencies
import (
	"encoding/binary"
	"strings"

	"github.com/lanpeer/beacon/internal/errors"
	"github.com/lanpeer/beacon/internal/protocol"
)

// buildQuestionSection constructs a DNS question section per RFC 1035 §4.1.2.
//
// Question format:
//   - QNAME (variable): Encoded domain name (length-prefixed labels)
//   - QTYPE (2 bytes): Query type (A, PTR, SRV, TXT)
//   - QCLASS (2 bytes): Query class (IN=1, QU bit=0 for multicast)
func buildQuestionSection(encodedName []byte, recordType uint16) []byte {
	// Question section size: name + QTYPE (2) + QCLASS (2)
	question := make([]byte, 0, len(encodedName)+4)

	// QNAME: Already encoded by EncodeName
	question = append(question, encodedName...)

	// QTYPE: Record type (2 bytes, big-endian)
	qtype := make([]byte, 2)
	binary.BigEndian.PutUint16(qtype, recordType)
	question = append(question, qtype...)

	// QCLASS: IN (1) with QU bit=0 per RFC 6762 §5.4
	// This uses standard multicast queries (QU=0)
	qclass := make([]byte, 2)
	binary.BigEndian.PutUint16(qclass, uint16(protocol.ClassIN)) // 0x0001
	question = append(question, qclass...)

	return question
}

// serializeResourceRecord serializes a resource record to wire format.
//
// Resource record format per RFC 1035 §3.2.1:
//   - NAME (variable): Domain name
//   - TYPE (2 bytes): Record type (A, PTR, SRV, TXT)
//   - CLASS (2 bytes): Class (IN=1), with cache-flush bit if set
//   - TTL (4 bytes): Time to live in seconds
//   - RDLENGTH (2 bytes): Length of RDATA
//   - RDATA (variable): Record data
//
// RFC 6762 §10.2: Cache-flush bit (bit 15 of CLASS) for unique records
//
// Serialize resource records with cache-flush support
func serializeResourceRecord(rr *ResourceRecord) ([]byte, error) {
	if rr == nil {
		return nil, &errors.ValidationError{
			Field:   "ResourceRecord",
			Value:   nil,
			Message: "cannot serialize nil resource record",
		}
	}

	// Encode the domain name
	// Detect service instance names per RFC 6763 §4.3:
	// If the name contains a service type pattern (_service._proto.local),
	// split it and encode the instance portion separately to allow UTF-8/spaces.
	var encodedName []byte
	var err error

	// Check if this is a service instance name format: "instance._service._proto.local"
	// Pattern: contains "._" which indicates a service type
	if strings.Contains(rr.Name, "._") {
		// Split into instance name and service type
		parts := strings.SplitN(rr.Name, "._", 2)
		if len(parts) == 2 {
			// parts[0] = instance name (may contain spaces/UTF-8)
			// parts[1] = service type (e.g., "http._tcp.local")
			instanceName := parts[0]
			serviceType := "_" + parts[1] // Restore leading underscore

			// Use special encoding for service instance names
			encodedName, err = EncodeServiceInstanceName(instanceName, serviceType)
			if err != nil {
				return nil, err
			}
		} else {
			// Fallback to normal encoding
			encodedName, err = EncodeName(rr.Name)
			if err != nil {
				return nil, err
			}
		}
	} else {
		// Normal DNS name (not a service instance)
		encodedName, err = EncodeName(rr.Name)
		if err != nil {
			return nil, err
		}
	}

	// Calculate total size
	recordSize := len(encodedName) + 10 + len(rr.Data) // name + type(2) + class(2) + ttl(4) + rdlength(2) + rdata

	record := make([]byte, 0, recordSize)

	// NAME
	record = append(record, encodedName...)

	// TYPE (2 bytes)
	typeBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(typeBytes, uint16(rr.Type))
	record = append(record, typeBytes...)

	// CLASS (2 bytes) with cache-flush bit if requested
	class := uint16(rr.Class)
	if rr.CacheFlush {
		// Set cache-flush bit (bit 15) per RFC 6762 §10.2
		class |= 0x8000
	}
	classBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(classBytes, class)
	record = append(record, classBytes...)

	// TTL (4 bytes)
	ttlBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(ttlBytes, rr.TTL)
	record = append(record, ttlBytes...)

	// RDLENGTH (2 bytes)
	// G115: RFC 1035 §3.2.1 specifies RDLENGTH as uint16, max 65535. DNS message size
	// limit (9000 bytes per RFC 6762) ensures rdata length never exceeds uint16.
	// Defensive bounds check for safety.
	rdataLen := len(rr.Data)
	if rdataLen > 65535 { //nolint:gosec // G115: bounds checked, max message size 9000 bytes
		rdataLen = 65535 // Cap at maximum uint16
	}
	rdlengthBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(rdlengthBytes, uint16(rdataLen))
	record = append(record, rdlengthBytes...)

	// RDATA
	record = append(record, rr.Data...)

	return record, nil
}

// ResourceRecord represents a DNS resource record for response building.
//
// This type is used by the response builder to serialize records into wire
// format; Record (record.go) builds these from the tagged A/PTR/SRV/TXT
// variant.
type ResourceRecord struct {
	Name       string              // Domain name (e.g., "printer.local")
	Type       protocol.RecordType // Record type (A, PTR, SRV, TXT)
	Class      protocol.DNSClass   // Class (usually IN=1)
	TTL        uint32              // Time to live in seconds
	Data       []byte              // Record data (wire format)
	CacheFlush bool                // RFC 6762 §10.2 cache-flush bit for unique records
}
