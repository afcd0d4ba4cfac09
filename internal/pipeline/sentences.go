package pipeline

import "strings"

// sentenceSplitter re-chunks streamed reply text into complete sentences so
// synthesis receives natural prosody units instead of raw token fragments.
type sentenceSplitter struct {
	buf strings.Builder
}

// feed appends text and returns any complete sentences now available, in
// order. Leading whitespace after a boundary is trimmed from the remainder.
func (s *sentenceSplitter) feed(text string) []string {
	s.buf.WriteString(text)

	var out []string
	for {
		idx := firstSentenceBoundary(s.buf.String())
		if idx < 0 {
			return out
		}
		sentence := s.buf.String()[:idx+1]
		rest := strings.TrimLeft(s.buf.String()[idx+1:], " \t\n\r")
		s.buf.Reset()
		s.buf.WriteString(rest)
		out = append(out, sentence)
	}
}

// flush returns any trailing partial sentence and resets the splitter.
func (s *sentenceSplitter) flush() string {
	rest := s.buf.String()
	s.buf.Reset()
	return rest
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace. Punctuation at the very end of s does
// not count as a boundary since the stream may continue. Returns -1 if no
// boundary exists.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
