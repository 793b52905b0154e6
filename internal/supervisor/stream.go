package supervisor

import (
	"bufio"
	"io"
	"strings"
)

// readBufferSize matches the largest line most tools produce in one write.
const readBufferSize = 64 * 1024

// streamLines calls fn for every line read from r until EOF, in order.
// Lines of any length are delivered; a final unterminated line is
// delivered too. It returns the number of lines read.
func streamLines(r io.Reader, fn func(string)) int64 {
	br := bufio.NewReaderSize(r, readBufferSize)

	var n int64
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			fn(strings.TrimRight(line, "\r\n"))
			n++
		}
		if err != nil {
			return n
		}
	}
}
