package sources

import "strings"

// SplitChunks splits text into paragraph-aligned chunks of at most roughly
// chunkSize characters, seeding each chunk after the first with the final
// overlap characters of its predecessor. chunkSize <= 0 returns the text as a
// single chunk.
func SplitChunks(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}

	paras := splitParagraphs(text)
	var chunks []string
	var buf strings.Builder
	for _, p := range paras {
		if !strings.HasSuffix(p, "\n") {
			p += "\n"
		}
		if buf.Len()+len(p) > chunkSize && buf.Len() > 0 {
			chunk := strings.TrimSpace(buf.String())
			chunks = append(chunks, chunk)
			buf.Reset()
			if overlap > 0 && len(chunk) > 0 {
				buf.WriteString(tail(chunk, overlap))
			}
		}
		buf.WriteString(p)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(buf.String()))
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

// splitParagraphs splits on blank lines after normalizing CRLF.
func splitParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	if len(parts) == 0 {
		return []string{text}
	}
	return parts
}

// tail returns the final n bytes of s without splitting a UTF-8 sequence.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && s[start]&0xC0 == 0x80 {
		start++
	}
	return s[start:]
}
