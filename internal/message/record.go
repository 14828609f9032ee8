// Package message implements the tagged DnsRecord variant used by the
// Multicast Service Discovery service, layered over the RFC 1035 wire codec
// in message.go/parser.go/builder.go.
package message

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/lanpeer/beacon/internal/errors"
	"github.com/lanpeer/beacon/internal/protocol"
)

// RecordKind identifies which variant of Record is populated.
type RecordKind int

const (
	RecordA RecordKind = iota
	RecordPTR
	RecordSRV
	RecordTXT
)

// Record is a tagged DNS record variant: A, PTR, SRV, or TXT, discriminated
// by Kind. Only the fields relevant to Kind are meaningful.
type Record struct {
	Kind RecordKind
	Name string
	TTL  uint32

	// A
	IP [4]byte

	// PTR
	PtrName string

	// SRV
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string

	// TXT
	Segments []string
}

// Encode converts a Record into the wire-oriented ResourceRecord that
// packet.go's BuildPacket/serializeResourceRecord consume.
//
// Sets the RFC 6762 §10.2 cache-flush bit for A and SRV records: those
// describe this node itself, so a new advertisement replaces rather than
// adds to a peer's cache. PTR and TXT records can legitimately be shared
// across multiple advertisers of the same service type, so cache-flush is
// left clear for them.
func (r Record) Encode() (*ResourceRecord, error) {
	switch r.Kind {
	case RecordA:
		return &ResourceRecord{
			Name:       r.Name,
			Type:       protocol.RecordTypeA,
			Class:      protocol.ClassIN,
			TTL:        r.TTL,
			Data:       append([]byte(nil), r.IP[:]...),
			CacheFlush: true,
		}, nil

	case RecordPTR:
		encoded, err := EncodeName(r.PtrName)
		if err != nil {
			return nil, err
		}
		return &ResourceRecord{
			Name:  r.Name,
			Type:  protocol.RecordTypePTR,
			Class: protocol.ClassIN,
			TTL:   r.TTL,
			Data:  encoded,
		}, nil

	case RecordSRV:
		targetEncoded, err := EncodeName(r.Target)
		if err != nil {
			return nil, err
		}
		data := make([]byte, 0, 6+len(targetEncoded))
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], r.Priority)
		data = append(data, buf[:]...)
		binary.BigEndian.PutUint16(buf[:], r.Weight)
		data = append(data, buf[:]...)
		binary.BigEndian.PutUint16(buf[:], r.Port)
		data = append(data, buf[:]...)
		data = append(data, targetEncoded...)
		return &ResourceRecord{
			Name:       r.Name,
			Type:       protocol.RecordTypeSRV,
			Class:      protocol.ClassIN,
			TTL:        r.TTL,
			Data:       data,
			CacheFlush: true,
		}, nil

	case RecordTXT:
		var data []byte
		if len(r.Segments) == 0 {
			data = []byte{0x00}
		} else {
			for _, seg := range r.Segments {
				if len(seg) > 255 {
					return nil, &errors.ValidationError{
						Field:   "segment",
						Value:   seg,
						Message: "TXT segment exceeds 255 bytes",
					}
				}
				data = append(data, byte(len(seg)))
				data = append(data, []byte(seg)...)
			}
		}
		return &ResourceRecord{
			Name:  r.Name,
			Type:  protocol.RecordTypeTXT,
			Class: protocol.ClassIN,
			TTL:   r.TTL,
			Data:  data,
		}, nil

	default:
		return nil, &errors.ValidationError{
			Field:   "Kind",
			Value:   r.Kind,
			Message: "unknown record kind",
		}
	}
}

// DecodeRecord converts a parsed Answer back into a Record, the inverse of
// Encode: decoding the Answer built from r.Encode() yields r again. Names
// read from RDATA (PtrName, Target) come back in ParseName's form, without a
// trailing dot, so the round trip is exact for names written without one.
func DecodeRecord(a Answer) (Record, error) {
	parsed, err := ParseRDATA(a.TYPE, a.RDATA)
	if err != nil {
		return Record{}, err
	}

	switch a.TYPE {
	case uint16(protocol.RecordTypeA):
		ip, ok := parsed.(net.IP)
		if !ok {
			return Record{}, &errors.WireFormatError{
				Operation: "decode A record",
				Message:   "unexpected parsed type for A record",
			}
		}
		v4 := ip.To4()
		if v4 == nil {
			return Record{}, &errors.WireFormatError{
				Operation: "decode A record",
				Message:   "not an IPv4 address",
			}
		}
		var rec Record
		rec.Kind = RecordA
		rec.Name = a.NAME
		rec.TTL = a.TTL
		copy(rec.IP[:], v4)
		return rec, nil

	case uint16(protocol.RecordTypePTR):
		name, _ := parsed.(string)
		return Record{Kind: RecordPTR, Name: a.NAME, TTL: a.TTL, PtrName: name}, nil

	case uint16(protocol.RecordTypeSRV):
		srv, ok := parsed.(SRVData)
		if !ok {
			return Record{}, &errors.WireFormatError{
				Operation: "decode SRV record",
				Message:   "unexpected parsed type for SRV record",
			}
		}
		return Record{
			Kind:     RecordSRV,
			Name:     a.NAME,
			TTL:      a.TTL,
			Priority: srv.Priority,
			Weight:   srv.Weight,
			Port:     srv.Port,
			Target:   srv.Target,
		}, nil

	case uint16(protocol.RecordTypeTXT):
		segs, _ := parsed.([]string)
		return Record{Kind: RecordTXT, Name: a.NAME, TTL: a.TTL, Segments: segs}, nil

	default:
		return Record{}, &errors.WireFormatError{
			Operation: "decode record",
			Message:   fmt.Sprintf("unsupported record type %d", a.TYPE),
		}
	}
}

// String renders a Record for logging as a short debug one-liner (no %#v
// dumps).
func (r Record) String() string {
	switch r.Kind {
	case RecordA:
		return fmt.Sprintf("A{%s -> %d.%d.%d.%d}", r.Name, r.IP[0], r.IP[1], r.IP[2], r.IP[3])
	case RecordPTR:
		return fmt.Sprintf("PTR{%s -> %s}", r.Name, r.PtrName)
	case RecordSRV:
		return fmt.Sprintf("SRV{%s -> %s:%d}", r.Name, strings.TrimSuffix(r.Target, "."), r.Port)
	case RecordTXT:
		return fmt.Sprintf("TXT{%s, %d segments}", r.Name, len(r.Segments))
	default:
		return "Record{unknown}"
	}
}
