// Package packetid 生成进程内唯一、非零的 31 位报文ID。
package packetid

import (
	"sync/atomic"
	"time"
)

// Generator 原子递增计数器；溢出为负或为零时复位，永不返回 0
type Generator struct {
	counter atomic.Int32
}

// New 以给定种子创建生成器（测试用）
func New(seed int32) *Generator {
	g := &Generator{}
	g.counter.Store(seed)
	return g
}

// Next 返回下一个报文ID，可并发调用
func (g *Generator) Next() uint32 {
	for {
		v := g.counter.Add(1)
		if v > 0 {
			return uint32(v)
		}
		// 仅由观察到该值的调用方复位，其余调用方重新递增
		g.counter.CompareAndSwap(v, 0)
	}
}

var defaultGen = New(int32(time.Now().Unix() & 0x7FFFFFFF))

// Next 使用进程级默认生成器
func Next() uint32 { return defaultGen.Next() }
