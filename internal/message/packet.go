package message

import "encoding/binary"

// BuildPacket assembles an arbitrary DNS message (custom id, flags,
// questions, and records) for the MSD service's query and response packets
// (multi-answer responses, query packets with flags=0x0000). records holds
// the tagged A/PTR/SRV/TXT variants from record.go; each is run through
// Record.Encode before being serialized to wire format, so callers never
// construct a raw ResourceRecord themselves.
func BuildPacket(id uint16, flags uint16, questions []Question, records []Record) ([]byte, error) {
	header := make([]byte, 12)
	binary.BigEndian.PutUint16(header[0:2], id)
	binary.BigEndian.PutUint16(header[2:4], flags)
	binary.BigEndian.PutUint16(header[4:6], uint16(len(questions)))
	binary.BigEndian.PutUint16(header[6:8], uint16(len(records)))
	binary.BigEndian.PutUint16(header[8:10], 0)
	binary.BigEndian.PutUint16(header[10:12], 0)

	packet := make([]byte, 0, 512)
	packet = append(packet, header...)

	for _, q := range questions {
		encodedName, err := EncodeName(q.QNAME)
		if err != nil {
			return nil, err
		}
		packet = append(packet, buildQuestionSection(encodedName, q.QTYPE)...)
	}

	for _, rec := range records {
		rr, err := rec.Encode()
		if err != nil {
			return nil, err
		}
		encoded, err := serializeResourceRecord(rr)
		if err != nil {
			return nil, err
		}
		packet = append(packet, encoded...)
	}

	return packet, nil
}
