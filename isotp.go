package elm327

import (
	"encoding/hex"
	"fmt"
)

// FrameKind identifies the ISO-TP PCI type derived from the high nibble
// of a frame's first byte.
type FrameKind int

const (
	FrameSingle FrameKind = iota
	FrameFirst
	FrameConsecutive
	FrameFlowControl
)

// IsoTpFrame is a single CAN data payload with its Protocol Control
// Information parsed out. It is constructed from a hex byte string,
// immutable, and consumed exactly once by an IsoTpAssembler.
type IsoTpFrame struct {
	Kind           FrameKind
	Data           []byte
	SequenceNumber int // valid only for FrameConsecutive
	DeclaredLength int // valid only for FrameSingle/FrameFirst
}

// parseIsoTpFrame decodes the PCI of raw (already CAN-ID-stripped) frame
// bytes per ISO 15765-2 §4.3.
func parseIsoTpFrame(raw []byte) (*IsoTpFrame, error) {
	if len(raw) == 0 {
		return nil, wrapErr(KindIsoTpProtocol, "empty frame bytes", nil)
	}

	b0 := raw[0]
	switch b0 >> 4 {
	case 0x0:
		l := int(b0 & 0x0F)
		if len(raw) < 1+l {
			return nil, wrapErr(KindIsoTpProtocol, fmt.Sprintf("single frame declares %d bytes but only %d available", l, len(raw)-1), nil)
		}
		return &IsoTpFrame{Kind: FrameSingle, Data: raw[1 : 1+l], DeclaredLength: l}, nil
	case 0x1:
		if len(raw) < 2 {
			return nil, wrapErr(KindIsoTpProtocol, "first frame missing length byte", nil)
		}
		l := (int(b0&0x0F) << 8) | int(raw[1])
		return &IsoTpFrame{Kind: FrameFirst, Data: raw[2:], DeclaredLength: l}, nil
	case 0x2:
		seq := int(b0 & 0x0F)
		return &IsoTpFrame{Kind: FrameConsecutive, Data: raw[1:], SequenceNumber: seq}, nil
	case 0x3:
		return &IsoTpFrame{Kind: FrameFlowControl}, nil
	default:
		return nil, wrapErr(KindIsoTpProtocol, fmt.Sprintf("unsupported PCI nibble 0x%X", b0>>4), nil)
	}
}

// IsoTpAssembler is a one-shot, stateful accumulator for one logical
// ISO-TP message. It becomes terminal once Complete() is true.
type IsoTpAssembler struct {
	payload        []byte
	expectedLength int
	haveExpected   bool
	nextSequence   int
	complete       bool
}

// NewIsoTpAssembler returns an empty assembler ready to receive its
// first Single or First frame.
func NewIsoTpAssembler() *IsoTpAssembler {
	return &IsoTpAssembler{}
}

// Complete reports whether the assembled payload is final.
func (a *IsoTpAssembler) Complete() bool {
	return a.complete
}

// AddFrame feeds one frame into the assembly per the rules in spec.md §4.3.
func (a *IsoTpAssembler) AddFrame(f *IsoTpFrame) error {
	if a.complete {
		return wrapErr(KindIsoTpProtocol, "assembler already complete", nil)
	}

	switch f.Kind {
	case FrameSingle:
		if len(a.payload) != 0 {
			return wrapErr(KindIsoTpProtocol, "single frame received after message already started", nil)
		}
		a.payload = append([]byte(nil), f.Data...)
		a.expectedLength = f.DeclaredLength
		a.haveExpected = true
		a.complete = true
		return nil

	case FrameFirst:
		if len(a.payload) != 0 {
			return wrapErr(KindIsoTpProtocol, "first frame received but message already started", nil)
		}
		a.payload = append(a.payload, f.Data...)
		a.expectedLength = f.DeclaredLength
		a.haveExpected = true
		a.nextSequence = 1
		if len(a.payload) >= a.expectedLength {
			a.payload = a.payload[:a.expectedLength]
			a.complete = true
		}
		return nil

	case FrameConsecutive:
		if !a.haveExpected {
			return wrapErr(KindIsoTpProtocol, "consecutive frame received without a preceding first frame", nil)
		}
		if f.SequenceNumber != a.nextSequence {
			return wrapErr(KindIsoTpProtocol, fmt.Sprintf("expected sequence %d, got %d", a.nextSequence, f.SequenceNumber), nil)
		}
		a.payload = append(a.payload, f.Data...)
		a.nextSequence = (a.nextSequence + 1) % 16
		if len(a.payload) >= a.expectedLength {
			a.payload = a.payload[:a.expectedLength]
			a.complete = true
		}
		return nil

	case FrameFlowControl:
		// Carries no user data on this receive-biased path; ignored.
		return nil

	default:
		return wrapErr(KindIsoTpProtocol, "unknown frame kind", nil)
	}
}

// GetPayload returns the assembled payload, failing with
// KindIsoTpProtocol if assembly is not yet complete.
func (a *IsoTpAssembler) GetPayload() ([]byte, error) {
	if !a.complete {
		return nil, wrapErr(KindIsoTpProtocol, "message is not complete yet", nil)
	}
	return a.payload, nil
}

// ParseIsoTpFrames constructs an assembler, feeds hex-string frame-data
// strings in order, and returns the completed payload. Each string has
// its CAN-ID already stripped by the caller (AdapterController does this
// before calling in).
func ParseIsoTpFrames(frameHex []string) ([]byte, error) {
	asm := NewIsoTpAssembler()
	for _, s := range frameHex {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, wrapErr(KindIsoTpProtocol, fmt.Sprintf("invalid hex frame %q", s), err)
		}
		frame, err := parseIsoTpFrame(raw)
		if err != nil {
			return nil, err
		}
		if err := asm.AddFrame(frame); err != nil {
			return nil, err
		}
	}
	return asm.GetPayload()
}
