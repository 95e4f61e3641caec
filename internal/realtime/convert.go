package realtime

import (
	"encoding/binary"

	"github.com/sauropod-io/sauropod-sub000/internal/responsestream"
)

// bytesToInt16LE reinterprets raw little-endian PCM16 bytes as samples,
// truncating a trailing odd byte if present.
func bytesToInt16LE(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// int16LEBytes is the inverse of bytesToInt16LE.
func int16LEBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// streamToServerEvent maps one responsestream.Event to its Realtime wire
// equivalent, per spec.md §4.5's "forwards each event, translating to
// Realtime wire equivalents."
func streamToServerEvent(ev responsestream.Event) ServerEvent {
	out := ServerEvent{Stream: ev}

	switch ev.Type {
	case responsestream.EventResponseCreated:
		out.Kind = ServerResponseCreated
	case responsestream.EventResponseInProgress:
		out.Kind = ServerResponseInProgress
	case responsestream.EventOutputItemAdded:
		out.Kind = ServerResponseOutputItemAdded
	case responsestream.EventContentPartAdded:
		out.Kind = ServerResponseContentPartAdded
	case responsestream.EventTextDelta:
		out.Kind = ServerResponseOutputTextDelta
	case responsestream.EventTextDone:
		out.Kind = ServerResponseOutputTextDone
	case responsestream.EventContentPartDone:
		out.Kind = ServerResponseContentPartDone
	case responsestream.EventOutputItemDone:
		out.Kind = ServerResponseOutputItemDone
	case responsestream.EventReasoningSummaryPartAdded:
		out.Kind = ServerResponseReasoningSummaryPartAdded
	case responsestream.EventReasoningSummaryTextDelta:
		out.Kind = ServerResponseReasoningSummaryTextDelta
	case responsestream.EventReasoningSummaryTextDone:
		out.Kind = ServerResponseReasoningSummaryTextDone
	case responsestream.EventReasoningSummaryPartDone:
		out.Kind = ServerResponseReasoningSummaryPartDone
	case responsestream.EventFunctionCallArgumentsDelta:
		out.Kind = ServerResponseFunctionCallArgumentsDelta
	case responsestream.EventFunctionCallArgumentsDone:
		out.Kind = ServerResponseFunctionCallArgumentsDone
	case responsestream.EventResponseCompleted:
		out.Kind = ServerResponseDone
	}

	out.ItemID = ev.ItemID
	if out.ItemID == "" && ev.Item.ID != "" {
		// OutputItemAdded/OutputItemDone carry the id on Item, not the flat field.
		out.ItemID = ev.Item.ID
	}
	out.OutputIndex = ev.OutputIndex
	out.ContentIndex = ev.ContentIndex
	return out
}
