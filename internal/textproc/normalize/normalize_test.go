package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const page = `<!DOCTYPE html>
<html>
<head><title>Ignored title</title><style>body { color: red; }</style></head>
<body>
  <header>Site header</header>
  <nav><a href="/">Home</a> | <a href="/about">About</a></nav>
  <article>
    <h1>Remote   work &amp; tooling</h1>
    <p>Teams struggle
       to coordinate.</p>
    <script>var tracking = "secret";</script>
  </article>
  <footer>Copyright 2026</footer>
</body>
</html>`

func TestNormalizeDropsChromeAndScripts(t *testing.T) {
	got := Normalize(page)
	assert.Equal(t, "Remote work & tooling Teams struggle to coordinate.", got)
	for _, gone := range []string{"Site header", "Home", "About", "secret", "Copyright", "color", "Ignored title"} {
		assert.NotContains(t, got, gone)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		page,
		"plain   text\n\twith  gaps",
		"<p>5 &lt; 7 and a &lt;b&gt; literal</p>",
		"<div>unterminated <b>markup",
		"3 < 5 and 7 > 2",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestNormalizePlainTextAndMalformed(t *testing.T) {
	assert.Equal(t, "just words here", Normalize("  just\nwords   here "))
	assert.Equal(t, "unterminated markup", Normalize("<div>unterminated <b>markup"))
	assert.Equal(t, "body text", Normalize("<head><title>t</title><body>body text"))
	assert.Equal(t, "", Normalize("<script>only()</script>"))
	assert.Equal(t, "3 < 5 and 7 > 2", Normalize("3 <  5 and 7 > 2"))
	assert.Equal(t, "1<2 holds", Normalize("1<2 holds"))
}
