package meshpb

import "fmt"

// PortNum 应用端口
type PortNum int32

const (
	PortNumUnknown     PortNum = 0
	PortNumTextMessage PortNum = 1
	PortNumAdmin       PortNum = 6
)

// BroadcastAddr 广播目的地址
const BroadcastAddr uint32 = 0xFFFFFFFF

// Data 已解密的应用载荷
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
}

func (d *Data) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(d.PortNum))
	b = appendBytes(b, 2, d.Payload)
	b = appendBool(b, 3, d.WantResponse)
	b = appendFixed32(b, 4, d.Dest)
	b = appendFixed32(b, 5, d.Source)
	b = appendFixed32(b, 6, d.RequestID)
	b = appendFixed32(b, 7, d.ReplyID)
	return b, nil
}

func (d *Data) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			d.PortNum = PortNum(f.varint)
		case 2:
			d.Payload = cloneBytes(f.bytes)
		case 3:
			d.WantResponse = f.bool()
		case 4:
			d.Dest = f.fixed32
		case 5:
			d.Source = f.fixed32
		case 6:
			d.RequestID = f.fixed32
		case 7:
			d.ReplyID = f.fixed32
		}
		return nil
	})
}

// MeshPacket 网状网络报文
type MeshPacket struct {
	From     uint32
	To       uint32
	Channel  uint32
	Decoded  *Data
	ID       uint32
	HopLimit uint32
	WantAck  bool
}

func (p *MeshPacket) Marshal() ([]byte, error) {
	var b []byte
	b = appendFixed32(b, 1, p.From)
	b = appendFixed32(b, 2, p.To)
	b = appendVarint(b, 3, uint64(p.Channel))
	if p.Decoded != nil {
		sub, err := p.Decoded.Marshal()
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 4, sub, true)
	}
	b = appendFixed32(b, 6, p.ID)
	b = appendVarint(b, 9, uint64(p.HopLimit))
	b = appendBool(b, 10, p.WantAck)
	return b, nil
}

func (p *MeshPacket) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			p.From = f.fixed32
		case 2:
			p.To = f.fixed32
		case 3:
			p.Channel = uint32(f.varint)
		case 4:
			p.Decoded = &Data{}
			return p.Decoded.Unmarshal(f.bytes)
		case 6:
			p.ID = f.fixed32
		case 9:
			p.HopLimit = uint32(f.varint)
		case 10:
			p.WantAck = f.bool()
		}
		return nil
	})
}

// ToRadio 客户端发往设备的顶层消息
type ToRadio struct {
	Packet       *MeshPacket
	WantConfigID uint32
	Disconnect   bool
	Heartbeat    bool
}

func (t *ToRadio) Marshal() ([]byte, error) {
	var b []byte
	switch {
	case t.Packet != nil:
		sub, err := t.Packet.Marshal()
		if err != nil {
			return nil, fmt.Errorf("meshpb: to_radio packet: %w", err)
		}
		b = appendMessage(b, 1, sub, true)
	case t.WantConfigID != 0:
		b = appendOneofVarint(b, 3, uint64(t.WantConfigID))
	case t.Disconnect:
		b = appendOneofVarint(b, 4, 1)
	case t.Heartbeat:
		b = appendMessage(b, 7, nil, true)
	}
	return b, nil
}

func (t *ToRadio) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			t.Packet = &MeshPacket{}
			return t.Packet.Unmarshal(f.bytes)
		case 3:
			t.WantConfigID = uint32(f.varint)
		case 4:
			t.Disconnect = f.bool()
		case 7:
			t.Heartbeat = true
		}
		return nil
	})
}

// MyNodeInfo 本机节点信息
type MyNodeInfo struct {
	MyNodeNum uint32
}

// FromRadio 设备发往客户端的顶层消息（只解码链路层关心的变体）
type FromRadio struct {
	ID               uint32
	Packet           *MeshPacket
	MyInfo           *MyNodeInfo
	ConfigCompleteID uint32
	Rebooted         bool
	Channel          *Channel
}

func (m *FromRadio) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(m.ID))
	switch {
	case m.Packet != nil:
		sub, err := m.Packet.Marshal()
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 2, sub, true)
	case m.MyInfo != nil:
		b = appendMessage(b, 3, appendVarint(nil, 1, uint64(m.MyInfo.MyNodeNum)), true)
	case m.ConfigCompleteID != 0:
		b = appendOneofVarint(b, 7, uint64(m.ConfigCompleteID))
	case m.Rebooted:
		b = appendOneofVarint(b, 8, 1)
	case m.Channel != nil:
		sub, _ := m.Channel.Marshal()
		b = appendMessage(b, 10, sub, true)
	}
	return b, nil
}

func (m *FromRadio) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.ID = uint32(f.varint)
		case 2:
			m.Packet = &MeshPacket{}
			return m.Packet.Unmarshal(f.bytes)
		case 3:
			m.MyInfo = &MyNodeInfo{}
			return walk(f.bytes, func(sf field) error {
				if sf.num == 1 {
					m.MyInfo.MyNodeNum = uint32(sf.varint)
				}
				return nil
			})
		case 7:
			m.ConfigCompleteID = uint32(f.varint)
		case 8:
			m.Rebooted = f.bool()
		case 10:
			m.Channel = &Channel{}
			return m.Channel.Unmarshal(f.bytes)
		}
		return nil
	})
}

// UnmarshalFromRadio 解码设备上行消息
func UnmarshalFromRadio(b []byte) (*FromRadio, error) {
	m := &FromRadio{}
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}
