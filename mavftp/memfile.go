package mavftp

import (
	"errors"
	"io"
)

// MemoryFile is a seekable in-memory byte buffer implementing both the sink
// and source contracts of a transfer. It is used for parameter fetches and
// is handy as a test double anywhere a file would otherwise be needed.
type MemoryFile struct {
	data []byte
	pos  int64
}

// NewMemoryFile creates an empty in-memory file.
func NewMemoryFile() *MemoryFile {
	return &MemoryFile{}
}

// NewMemoryFileFrom creates an in-memory file holding a copy of data.
func NewMemoryFileFrom(data []byte) *MemoryFile {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &MemoryFile{data: buf}
}

// Bytes returns the current contents. The slice is shared with the file.
func (m *MemoryFile) Bytes() []byte { return m.data }

// Size returns the current content length.
func (m *MemoryFile) Size() int64 { return int64(len(m.data)) }

func (m *MemoryFile) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *MemoryFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = m.pos + offset
	case io.SeekEnd:
		pos = int64(len(m.data)) + offset
	default:
		return 0, errors.New("mavftp: invalid seek whence")
	}
	if pos < 0 {
		return 0, errors.New("mavftp: negative seek position")
	}
	m.pos = pos
	return pos, nil
}
