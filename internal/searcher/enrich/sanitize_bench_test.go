package enrich

import (
	"fmt"
	"strings"
	"testing"
)

// BenchmarkSanitizeNote measures HTML note reduction for growing inputs.
func BenchmarkSanitizeNote(b *testing.B) {
	para := `<p>Call with <b>candidate</b> about the <a href="#">CFO</a> role &amp; comp.</p><script>track()</script>`
	for _, n := range []int{1, 20, 200} {
		content := strings.Repeat(para, n)
		b.Run(fmt.Sprintf("paragraphs_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(content)))
			for i := 0; i < b.N; i++ {
				_ = SanitizeNote(content, 500)
			}
		})
	}
}
