package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultLogLines      = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 100 * time.Millisecond
)

// Logger keeps the last capacity lines in memory for the log pane and
// appends every line to a file in batches. It is the io.Writer zerolog
// writes into.
type Logger struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int
	partial  []byte

	filePath string
	file     *os.File
	ch       chan string
	updates  chan struct{}
	done     chan struct{}
	closed   bool
}

func NewLogger(filePath string, capacity int) *Logger {
	if capacity <= 0 {
		capacity = defaultLogLines
	}

	l := &Logger{
		lines:    make([]string, capacity),
		capacity: capacity,
		filePath: filePath,
		ch:       make(chan string, 100),
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	// Without a file the ring still works; the writer just drains.
	_ = l.openFile()

	go l.writer()

	return l
}

func (l *Logger) openFile() error {
	if l.filePath == "" {
		return nil
	}

	if dir := filepath.Dir(l.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// Append adds one line.
func (l *Logger) Append(line string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(line)
}

func (l *Logger) appendLocked(line string) {
	if l.closed {
		return
	}

	l.lines[l.head] = line
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}

	select {
	case l.ch <- line:
	default:
	}
	select {
	case l.updates <- struct{}{}:
	default:
	}
}

// Write splits p into lines. A trailing fragment without a newline is held
// until the rest of the line arrives.
func (l *Logger) Write(p []byte) (int, error) {
	if l == nil {
		return len(p), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data := append(l.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		l.appendLocked(string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	l.partial = append(l.partial[:0], data...)
	return len(p), nil
}

func (l *Logger) ReadAll() string {
	if l == nil {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return ""
	}

	start := 0
	if l.count >= l.capacity {
		start = l.head
	}

	var result []byte
	for i := 0; i < l.count; i++ {
		idx := (start + i) % l.capacity
		if l.lines[idx] != "" {
			result = append(result, l.lines[idx]...)
			result = append(result, '\n')
		}
	}

	return string(result)
}

// Updates receives a value whenever lines were added since the last receive.
func (l *Logger) Updates() <-chan struct{} {
	if l == nil {
		return nil
	}
	return l.updates
}

func (l *Logger) writer() {
	defer close(l.done)

	batch := make([]string, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if l.file != nil {
			var buf bytes.Buffer
			for _, msg := range batch {
				buf.WriteString(msg)
				buf.WriteByte('\n')
			}
			l.file.Write(buf.Bytes())
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes pending lines and closes the file.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	<-l.done

	if l.file != nil {
		l.file.Close()
	}
}
