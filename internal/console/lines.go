package console

import (
	"bufio"
	"context"
	"io"
)

// lineReader turns a blocking reader into lines that can be awaited with a context
type lineReader struct {
	lines chan string
	err   chan error
}

func newLineReader(in io.Reader) *lineReader {
	r := &lineReader{lines: make(chan string), err: make(chan error, 1)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			r.lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			r.err <- err
			return
		}
		r.err <- io.EOF
	}()
	return r
}

func (r *lineReader) next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-r.lines:
		return line, nil
	case err := <-r.err:
		return "", err
	}
}

// Control bytes a raw terminal sends
const (
	keyInterrupt = 0x03
	keyEOF       = 0x04
	keyBackspace = 0x08
	keyDelete    = 0x7f
)

// lineEditor assembles lines from raw terminal input, echoing what it accepts
type lineEditor struct {
	buf  []byte
	echo func(b []byte)
}

// feed consumes input and returns the completed lines. eof is set when the user asked to
// leave with Ctrl-C or Ctrl-D.
func (e *lineEditor) feed(data []byte) (lines []string, eof bool) {
	for _, b := range data {
		switch b {
		case '\r', '\n':
			e.echo([]byte("\r\n"))
			if len(e.buf) > 0 {
				lines = append(lines, string(e.buf))
				e.buf = e.buf[:0]
			}
		case keyBackspace, keyDelete:
			if len(e.buf) > 0 {
				e.buf = e.buf[:len(e.buf)-1]
				e.echo([]byte("\b \b"))
			}
		case keyInterrupt, keyEOF:
			return lines, true
		default:
			if b < 0x20 {
				continue
			}
			e.buf = append(e.buf, b)
			e.echo([]byte{b})
		}
	}
	return lines, false
}
