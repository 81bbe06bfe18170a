package testservice

import (
	"github.com/corerpc/corerpc/pkg/client"
	"github.com/corerpc/corerpc/pkg/server"
)

// ServiceName is the fully-qualified name the method map below is bound to.
const ServiceName = "corerpc.testing.TestService"

const (
	PathEmptyCall           = "/corerpc.testing.TestService/EmptyCall"
	PathUnaryCall           = "/corerpc.testing.TestService/UnaryCall"
	PathStreamingInputCall  = "/corerpc.testing.TestService/StreamingInputCall"
	PathStreamingOutputCall = "/corerpc.testing.TestService/StreamingOutputCall"
	PathFullDuplexCall      = "/corerpc.testing.TestService/FullDuplexCall"
	PathHalfDuplexCall      = "/corerpc.testing.TestService/HalfDuplexCall"
)

// ClientMethods builds the method descriptor map an interop client's
// client.Factory is constructed from (spec.md C10's input).
func ClientMethods() map[string]client.MethodDesc {
	return map[string]client.MethodDesc{
		"EmptyCall": {
			Path:        PathEmptyCall,
			Serialize:   serializeEmpty,
			Deserialize: deserializeEmpty,
		},
		"UnaryCall": {
			Path:        PathUnaryCall,
			Serialize:   serializeSimpleRequest,
			Deserialize: deserializeSimpleResponse,
		},
		"StreamingInputCall": {
			Path:          PathStreamingInputCall,
			RequestStream: true,
			Serialize:     serializeStreamingInputCallRequest,
			Deserialize:   deserializeStreamingInputCallResponse,
		},
		"StreamingOutputCall": {
			Path:           PathStreamingOutputCall,
			ResponseStream: true,
			Serialize:      serializeStreamingOutputCallRequest,
			Deserialize:    deserializeStreamingOutputCallResponse,
		},
		"FullDuplexCall": {
			Path:           PathFullDuplexCall,
			RequestStream:  true,
			ResponseStream: true,
			Serialize:      serializeStreamingOutputCallRequest,
			Deserialize:    deserializeStreamingOutputCallResponse,
		},
		"HalfDuplexCall": {
			Path:           PathHalfDuplexCall,
			RequestStream:  true,
			ResponseStream: true,
			Serialize:      serializeStreamingOutputCallRequest,
			Deserialize:    deserializeStreamingOutputCallResponse,
		},
	}
}

// RegisterServer builds the server-side ServiceDesc dispatching to impl's
// handlers.
func RegisterServer(impl *Service) server.ServiceDesc {
	return server.ServiceDesc{
		ServiceName: ServiceName,
		Methods: map[string]server.MethodDesc{
			"EmptyCall": {
				Path:        PathEmptyCall,
				Serialize:   serializeEmpty,
				Deserialize: deserializeEmpty,
				Handler:     impl.EmptyCall,
			},
			"UnaryCall": {
				Path:        PathUnaryCall,
				Serialize:   serializeSimpleResponse,
				Deserialize: deserializeSimpleRequest,
				Handler:     impl.UnaryCall,
			},
			"StreamingInputCall": {
				Path:          PathStreamingInputCall,
				RequestStream: true,
				Serialize:     serializeStreamingInputCallResponse,
				Deserialize:   deserializeStreamingInputCallRequest,
				Handler:       impl.StreamingInputCall,
			},
			"StreamingOutputCall": {
				Path:           PathStreamingOutputCall,
				ResponseStream: true,
				Serialize:      serializeStreamingOutputCallResponse,
				Deserialize:    deserializeStreamingOutputCallRequest,
				Handler:        impl.StreamingOutputCall,
			},
			"FullDuplexCall": {
				Path:           PathFullDuplexCall,
				RequestStream:  true,
				ResponseStream: true,
				Serialize:      serializeStreamingOutputCallResponse,
				Deserialize:    deserializeStreamingOutputCallRequest,
				Handler:        impl.FullDuplexCall,
			},
			"HalfDuplexCall": {
				Path:           PathHalfDuplexCall,
				RequestStream:  true,
				ResponseStream: true,
				Serialize:      serializeStreamingOutputCallResponse,
				Deserialize:    deserializeStreamingOutputCallRequest,
				Handler:        impl.HalfDuplexCall,
			},
		},
	}
}
