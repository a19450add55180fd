package wire

import "bytes"

// StreamDecoder 从字节流中切分帧。
// 串口/TCP 上设备调试输出与协议帧交错，帧之外的字节作为控制台文本返回。
type StreamDecoder struct {
	buf []byte
}

func NewStreamDecoder() *StreamDecoder { return &StreamDecoder{} }

// Feed 追加数据并返回已完整到达的载荷与非帧字节
func (d *StreamDecoder) Feed(p []byte) (frames [][]byte, console []byte) {
	d.buf = append(d.buf, p...)
	for len(d.buf) > 0 {
		idx := bytes.IndexByte(d.buf, Start1)
		if idx < 0 {
			console = append(console, d.buf...)
			d.buf = d.buf[:0]
			return frames, console
		}
		if idx > 0 {
			console = append(console, d.buf[:idx]...)
			d.buf = d.buf[idx:]
		}
		if len(d.buf) < 2 {
			return frames, console
		}
		if d.buf[1] != Start2 {
			console = append(console, d.buf[0])
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < HeaderLen {
			return frames, console
		}
		n, _ := DeclaredLen(d.buf)
		if n > MaxPacketSize {
			// 长度非法，跳过同步字节重新对齐
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < HeaderLen+n {
			return frames, console
		}
		frame := make([]byte, n)
		copy(frame, d.buf[HeaderLen:HeaderLen+n])
		frames = append(frames, frame)
		d.buf = d.buf[HeaderLen+n:]
	}
	d.buf = d.buf[:0]
	return frames, console
}

// Buffered 返回尚未组成完整帧的字节数
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// Reset 丢弃缓冲（连接重建时调用）
func (d *StreamDecoder) Reset() { d.buf = d.buf[:0] }
