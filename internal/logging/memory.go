package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Level 日志级别
type Level string

const (
	LevelWarning     Level = "warning"
	LevelError       Level = "error"
	LevelInformation Level = "information"
	LevelVerbose     Level = "verbose"
)

// Entry 一条日志
type Entry struct {
	Level   Level
	Message string
}

// Memory 将日志保存在内存中，可选同时转发到下游日志
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	next    Logger
}

// NewMemory 创建内存日志，next 可为 nil
func NewMemory(next Logger) *Memory {
	return &Memory{next: next}
}

func (m *Memory) add(level Level, template string, args ...any) {
	m.mu.Lock()
	m.entries = append(m.entries, Entry{Level: level, Message: fmt.Sprintf(template, args...)})
	m.mu.Unlock()
}

func (m *Memory) Warning(template string, args ...any) {
	m.add(LevelWarning, template, args...)
	if m.next != nil {
		m.next.Warning(template, args...)
	}
}

func (m *Memory) Error(template string, args ...any) {
	m.add(LevelError, template, args...)
	if m.next != nil {
		m.next.Error(template, args...)
	}
}

func (m *Memory) Information(template string, args ...any) {
	m.add(LevelInformation, template, args...)
	if m.next != nil {
		m.next.Information(template, args...)
	}
}

func (m *Memory) Verbose(template string, args ...any) {
	m.add(LevelVerbose, template, args...)
	if m.next != nil {
		m.next.Verbose(template, args...)
	}
}

// Entries 返回日志副本
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Contains 是否存在包含指定文本的指定级别日志
func (m *Memory) Contains(level Level, substr string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// String 按行拼接所有日志
func (m *Memory) String() string {
	var b strings.Builder
	for _, e := range m.Entries() {
		fmt.Fprintf(&b, "[%s] %s\n", e.Level, e.Message)
	}
	return b.String()
}
