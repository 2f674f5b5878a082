// Package wire implements the MongoDB wire protocol front door of spec.md
// §6: OP_MSG/OP_QUERY frame parsing, command dispatch, and the
// error-kind-to-wire-response-code mapping of spec.md §7. There is no
// teacher analogue for this layer (the teacher is a client, never a
// server); it is grounded on go.mongodb.org/mongo-driver/bson for command
// document encoding/decoding, the one piece of the teacher's own stack that
// speaks this exact format.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	opMsg        int32 = 2013
	opQuery      int32 = 2004
	opReply      int32 = 1
	opMsgChecksumPresent uint32 = 1 << 0
)

// Header is the 16-byte MsgHeader every wire frame begins with.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        int32
}

// Frame is one fully parsed inbound request: the command document plus
// enough addressing context to build a reply.
type Frame struct {
	Header  Header
	Command bson.Raw
	// Database is extracted from OP_QUERY's collection-name field
	// ("<db>.$cmd") or from the command document's "$db" field for OP_MSG.
	Database string
}

// ReadFrame reads and parses exactly one wire frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr Header
	headerBuf := make([]byte, 16)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}
	hdr.MessageLength = int32(binary.LittleEndian.Uint32(headerBuf[0:4]))
	hdr.RequestID = int32(binary.LittleEndian.Uint32(headerBuf[4:8]))
	hdr.ResponseTo = int32(binary.LittleEndian.Uint32(headerBuf[8:12]))
	hdr.OpCode = int32(binary.LittleEndian.Uint32(headerBuf[12:16]))

	if hdr.MessageLength < 16 {
		return nil, fmt.Errorf("wire: invalid message length %d", hdr.MessageLength)
	}
	body := make([]byte, hdr.MessageLength-16)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	switch hdr.OpCode {
	case opMsg:
		return parseOpMsg(hdr, body)
	case opQuery:
		return parseOpQuery(hdr, body)
	default:
		return nil, fmt.Errorf("wire: unsupported opcode %d", hdr.OpCode)
	}
}

// parseOpMsg parses a single-section OP_MSG body: flagBits, then one or more
// sections. Only section kind 0 (body document) is supported; kind 1
// (document sequence) sections are skipped, matching the narrow command set
// spec.md §6 enumerates (none of which rely on document sequences).
func parseOpMsg(hdr Header, body []byte) (*Frame, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("wire: OP_MSG body too short")
	}
	flags := binary.LittleEndian.Uint32(body[0:4])
	rest := body[4:]
	if flags&opMsgChecksumPresent != 0 && len(rest) >= 4 {
		rest = rest[:len(rest)-4]
	}

	var cmd bson.Raw
	for len(rest) > 0 {
		kind := rest[0]
		rest = rest[1:]
		switch kind {
		case 0:
			raw, n, err := readRawDocument(rest)
			if err != nil {
				return nil, err
			}
			if cmd == nil {
				cmd = raw
			}
			rest = rest[n:]
		case 1:
			if len(rest) < 4 {
				return nil, fmt.Errorf("wire: truncated OP_MSG sequence section")
			}
			size := int(binary.LittleEndian.Uint32(rest[0:4]))
			if size > len(rest) {
				return nil, fmt.Errorf("wire: OP_MSG sequence section overruns body")
			}
			rest = rest[size:]
		default:
			return nil, fmt.Errorf("wire: unknown OP_MSG section kind %d", kind)
		}
	}
	if cmd == nil {
		return nil, fmt.Errorf("wire: OP_MSG carried no body section")
	}

	db, _ := cmd.Lookup("$db").StringValueOK()
	return &Frame{Header: hdr, Command: cmd, Database: db}, nil
}

// parseOpQuery parses the legacy OP_QUERY wire format: flags (int32),
// fullCollectionName (cstring), numberToSkip (int32), numberToReturn
// (int32), query document. spec.md §6 requires accepting this opcode for
// older clients/drivers that still issue it for isMaster handshakes.
func parseOpQuery(hdr Header, body []byte) (*Frame, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("wire: OP_QUERY body too short")
	}
	rest := body[4:]
	name, n, err := readCString(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	if len(rest) < 8 {
		return nil, fmt.Errorf("wire: OP_QUERY missing skip/return fields")
	}
	rest = rest[8:]
	raw, _, err := readRawDocument(rest)
	if err != nil {
		return nil, err
	}
	db := name
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			db = name[:i]
			break
		}
	}
	return &Frame{Header: hdr, Command: raw, Database: db}, nil
}

func readCString(b []byte) (string, int, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("wire: unterminated cstring")
}

// readRawDocument reads one length-prefixed BSON document from the front of
// b and returns it plus the number of bytes consumed.
func readRawDocument(b []byte) (bson.Raw, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("wire: truncated document length")
	}
	size := int(binary.LittleEndian.Uint32(b[0:4]))
	if size < 5 || size > len(b) {
		return nil, 0, fmt.Errorf("wire: document length %d out of range", size)
	}
	return bson.Raw(b[:size]), size, nil
}

// WriteOpMsgReply writes a single-section OP_MSG reply carrying reply as the
// body document.
func WriteOpMsgReply(w io.Writer, responseTo int32, requestID int32, reply bson.M) error {
	body, err := bson.Marshal(reply)
	if err != nil {
		return err
	}
	payload := make([]byte, 0, 5+len(body))
	payload = append(payload, 0, 0, 0, 0) // flagBits
	payload = append(payload, 0)          // section kind 0
	payload = append(payload, body...)

	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(16+len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(responseTo))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(opMsg))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// WriteOpReplyLegacy writes a legacy OP_REPLY frame wrapping reply as the
// single returned document, for OP_QUERY-issued handshakes.
func WriteOpReplyLegacy(w io.Writer, responseTo int32, requestID int32, reply bson.M) error {
	body, err := bson.Marshal(reply)
	if err != nil {
		return err
	}
	payload := make([]byte, 0, 20+len(body))
	var numberReturned [4]byte
	payload = append(payload, 0, 0, 0, 0)         // responseFlags
	payload = append(payload, make([]byte, 8)...) // cursorID (int64, always 0 here)
	payload = append(payload, 0, 0, 0, 0)         // startingFrom
	binary.LittleEndian.PutUint32(numberReturned[:], 1)
	payload = append(payload, numberReturned[:]...)
	payload = append(payload, body...)

	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(16+len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(responseTo))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(opReply))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
