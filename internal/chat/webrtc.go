package chat

import "github.com/pion/webrtc/v4"

// DataChannelTransport adapts a WebRTC data channel to the relay transport.
type DataChannelTransport struct {
	dc *webrtc.DataChannel
}

func NewDataChannelTransport(dc *webrtc.DataChannel) *DataChannelTransport {
	return &DataChannelTransport{dc: dc}
}

func (t *DataChannelTransport) Send(data []byte) error {
	return t.dc.Send(data)
}

// Bind wires the data channel lifecycle and inbound frames into the relay.
func (t *DataChannelTransport) Bind(r *Relay) {
	t.dc.OnOpen(func() { r.SetOpen(true) })
	t.dc.OnClose(func() { r.SetOpen(false) })
	t.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		r.HandleIncoming(msg.Data)
	})
}
