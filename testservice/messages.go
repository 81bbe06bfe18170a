// Package testservice implements the reference test service (spec.md C11):
// emptyCall, unaryCall, streamingInputCall, streamingOutputCall,
// fullDuplexCall, and halfDuplexCall (declared unimplemented), against the
// canonical payload/metadata-echo conventions the interop matrix exercises.
//
// Message types here are plain Go structs rather than generated protobuf
// code: spec.md treats "serialization of user messages" as an opaque
// collaborator supplied by the caller, and these types do not use
// google.golang.org/protobuf (see DESIGN.md). Each type's Serialize/
// Deserialize pair below encodes with encoding/gob, matching the framing
// pkg/transport/wire also uses on the socket.
package testservice

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/corerpc/corerpc/pkg/status"
)

// PayloadType selects how a response payload's body is filled, mirroring
// the canonical interop request's response_type field.
type PayloadType int

const (
	Compressable PayloadType = iota
	Uncompressable
	Random
)

// Payload carries an opaque body of a declared type.
type Payload struct {
	Type PayloadType
	Body []byte
}

// Empty is the request/response for emptyCall.
type Empty struct{}

// SimpleRequest is the request for unaryCall.
type SimpleRequest struct {
	ResponseType   PayloadType
	ResponseSize   int
	Payload        Payload
	FillUsername   bool
	FillOauthScope bool

	// ResponseStatusCode, when it is not status.OK, asks the
	// server to finish the call with this (code, message) pair instead of
	// returning a payload (the status_code_and_message interop case).
	ResponseStatusCode    status.Code
	ResponseStatusMessage string
}

// SimpleResponse is the response for unaryCall.
type SimpleResponse struct {
	Payload    Payload
	Username   string
	OauthScope string
}

// ResponseParameters names one response a streamingOutputCall/
// fullDuplexCall should emit. IntervalUs, when non-zero, asks the server to
// sleep that many microseconds before emitting the response, the way the
// canonical interop's timeout_on_sleeping_server case provokes a client
// deadline.
type ResponseParameters struct {
	Size       int
	IntervalUs int
}

// StreamingInputCallRequest is one request of streamingInputCall's inbound
// stream.
type StreamingInputCallRequest struct {
	Payload Payload
}

// StreamingInputCallResponse is streamingInputCall's single response.
type StreamingInputCallResponse struct {
	AggregatedPayloadSize int
}

// StreamingOutputCallRequest is the request shared by streamingOutputCall
// and (per inbound message) fullDuplexCall/halfDuplexCall.
type StreamingOutputCallRequest struct {
	ResponseType       PayloadType
	ResponseParameters []ResponseParameters
	Payload            Payload
}

// StreamingOutputCallResponse is one response of streamingOutputCall/
// fullDuplexCall/halfDuplexCall's outbound stream.
type StreamingOutputCallResponse struct {
	Payload Payload
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("testservice: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGobInto(data []byte, out any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("testservice: decode: %w", err)
	}
	return nil
}

func serializeEmpty(req any) ([]byte, error)    { return encodeGob(req.(Empty)) }
func deserializeEmpty(data []byte) (any, error) { var v Empty; err := decodeGobInto(data, &v); return v, err }

func serializeSimpleRequest(req any) ([]byte, error) { return encodeGob(req.(SimpleRequest)) }
func deserializeSimpleRequest(data []byte) (any, error) {
	var v SimpleRequest
	err := decodeGobInto(data, &v)
	return v, err
}

func serializeSimpleResponse(req any) ([]byte, error) { return encodeGob(req.(SimpleResponse)) }
func deserializeSimpleResponse(data []byte) (any, error) {
	var v SimpleResponse
	err := decodeGobInto(data, &v)
	return v, err
}

func serializeStreamingInputCallRequest(req any) ([]byte, error) {
	return encodeGob(req.(StreamingInputCallRequest))
}
func deserializeStreamingInputCallRequest(data []byte) (any, error) {
	var v StreamingInputCallRequest
	err := decodeGobInto(data, &v)
	return v, err
}

func serializeStreamingInputCallResponse(req any) ([]byte, error) {
	return encodeGob(req.(StreamingInputCallResponse))
}
func deserializeStreamingInputCallResponse(data []byte) (any, error) {
	var v StreamingInputCallResponse
	err := decodeGobInto(data, &v)
	return v, err
}

func serializeStreamingOutputCallRequest(req any) ([]byte, error) {
	return encodeGob(req.(StreamingOutputCallRequest))
}
func deserializeStreamingOutputCallRequest(data []byte) (any, error) {
	var v StreamingOutputCallRequest
	err := decodeGobInto(data, &v)
	return v, err
}

func serializeStreamingOutputCallResponse(req any) ([]byte, error) {
	return encodeGob(req.(StreamingOutputCallResponse))
}
func deserializeStreamingOutputCallResponse(data []byte) (any, error) {
	var v StreamingOutputCallResponse
	err := decodeGobInto(data, &v)
	return v, err
}
