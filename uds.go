package elm327

// UdsResponse is the structured result handed back to callers:
// service id, an optional 16-bit data identifier, and the remaining
// payload bytes.
type UdsResponse struct {
	ServiceID      byte
	DataIdentifier *uint16
	Payload        []byte
}

// servicesWithDataIdentifier is the closed set of UDS services that
// carry a big-endian 16-bit data identifier immediately after the
// service id: ReadDataByIdentifier/response, WriteDataByIdentifier/response,
// and the two I/O-control variants.
var servicesWithDataIdentifier = map[byte]bool{
	0x22: true, 0x62: true,
	0x2E: true, 0x6E: true,
	0x2F: true, 0x6F: true,
}

// DecodeUdsResponse splits a reassembled ISO-TP payload into service id,
// optional data identifier, and remaining payload bytes per spec.md §4.4.
func DecodeUdsResponse(payload []byte) (*UdsResponse, error) {
	if len(payload) < 1 {
		return nil, wrapErr(KindUdsMalformed, "payload too short for UDS response", nil)
	}

	serviceID := payload[0]
	if servicesWithDataIdentifier[serviceID] {
		if len(payload) < 3 {
			return nil, wrapErr(KindUdsMalformed, "payload too short for service with data identifier", nil)
		}
		did := uint16(payload[1])<<8 | uint16(payload[2])
		rest := append([]byte(nil), payload[3:]...)
		return &UdsResponse{ServiceID: serviceID, DataIdentifier: &did, Payload: rest}, nil
	}

	rest := append([]byte(nil), payload[1:]...)
	return &UdsResponse{ServiceID: serviceID, Payload: rest}, nil
}
