package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// 帧格式：0x94 0xC3 + len(2, 大端) + payload(len)
const (
	Start1     byte = 0x94
	Start2     byte = 0xC3
	HeaderLen       = 4
	MaxPayload      = 0xFFFF

	// MaxPacketSize 设备固件单个 protobuf 的上限，超过即视为错帧
	MaxPacketSize = 512
)

// ErrTooLarge 载荷超过长度字段可表示的范围
var ErrTooLarge = errors.New("wire: payload exceeds 65535 bytes")

// Marshaler 可序列化的协议消息
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Wrap 为载荷添加 4 字节帧头
func Wrap(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d", ErrTooLarge, len(payload))
	}
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = Start1
	buf[1] = Start2
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// WrapMessage 序列化消息后封帧
func WrapMessage(m Marshaler) ([]byte, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return Wrap(payload)
}

// DeclaredLen 读取帧头中的长度字段；b 不以同步字节开头时返回 false
func DeclaredLen(b []byte) (int, bool) {
	if len(b) < HeaderLen || b[0] != Start1 || b[1] != Start2 {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(b[2:4])), true
}

// IsFramed 判断 b 是否恰好是一个完整帧（帧头长度与剩余字节数一致）
func IsFramed(b []byte) bool {
	n, ok := DeclaredLen(b)
	return ok && n == len(b)-HeaderLen
}

// Strip 剥离一层帧头；b 不是完整帧时原样返回 false
func Strip(b []byte) ([]byte, bool) {
	if !IsFramed(b) {
		return b, false
	}
	return b[HeaderLen:], true
}
