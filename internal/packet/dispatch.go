package packet

// Receiver handles every packet a broker can send to a client.
type Receiver interface {
	ReceiveConnAck(*ConnAck)
	ReceivePublish(*Publish)
	ReceivePubAck(*PubAck)
	ReceivePubRec(*PubRec)
	ReceivePubRel(*PubRel)
	ReceivePubComp(*PubComp)
	ReceiveSubAck(*SubAck)
	ReceiveUnsubAck(*UnsubAck)
	ReceivePingResp(*PingResp)
}

// NopReceiver ignores everything. Embed it to handle only some packets.
type NopReceiver struct{}

func (NopReceiver) ReceiveConnAck(*ConnAck) {}
func (NopReceiver) ReceivePublish(*Publish) {}
func (NopReceiver) ReceivePubAck(*PubAck) {}
func (NopReceiver) ReceivePubRec(*PubRec) {}
func (NopReceiver) ReceivePubRel(*PubRel) {}
func (NopReceiver) ReceivePubComp(*PubComp) {}
func (NopReceiver) ReceiveSubAck(*SubAck) {}
func (NopReceiver) ReceiveUnsubAck(*UnsubAck) {}
func (NopReceiver) ReceivePingResp(*PingResp) {}

// Visit calls the method of r matching p.
// Returns false for packets only a client sends.
func Visit(p Packet, r Receiver) bool {
	switch v := p.(type) {
	case *ConnAck:
		r.ReceiveConnAck(v)
	case *Publish:
		r.ReceivePublish(v)
	case *PubAck:
		r.ReceivePubAck(v)
	case *PubRec:
		r.ReceivePubRec(v)
	case *PubRel:
		r.ReceivePubRel(v)
	case *PubComp:
		r.ReceivePubComp(v)
	case *SubAck:
		r.ReceiveSubAck(v)
	case *UnsubAck:
		r.ReceiveUnsubAck(v)
	case *PingResp:
		r.ReceivePingResp(v)
	default:
		return false
	}
	return true
}
