package wire

// Encode serializes p and appends a CRC32C trailer, producing the exact
// bytes to hand to the socket.
func Encode(p *Packet) ([]byte, error) {
	body, err := p.Serialize()
	if err != nil {
		return nil, err
	}
	return AppendCRC32C(body), nil
}

// Decode validates the CRC32C trailer on datagram and, if it checks out,
// decodes the packet. Returns ok=false on a bad checksum or a datagram too
// short to hold a trailer — the caller must silently drop in that case,
// never attempting to parse the header first.
func Decode(datagram []byte) (p *Packet, ok bool) {
	payload, valid := ValidateAndStripCRC32C(datagram)
	if !valid {
		return nil, false
	}
	pkt, err := Deserialize(payload)
	if err != nil {
		return nil, false
	}
	return pkt, true
}
