// Package preview derives the sandboxed preview document from the code
// buffers and decodes the messages the document posts back to its host.
package preview

import (
	"strings"

	"github.com/ashureev/vade/internal/domain"
)

// ElementClickType is the sentinel the instrumentation script tags its
// click messages with.
const ElementClickType = "VADE_ELEMENT_CLICK"

// SandboxPolicy is the iframe sandbox token set the document is rendered
// under. Scripts run; same-origin access, forms, popups and top navigation
// are denied.
const SandboxPolicy = "allow-scripts"

// HighlightOutline is the outline applied to the most recently clicked element.
const HighlightOutline = "2px solid #A855F7"

// InstrumentationScript intercepts every click in the preview during the
// capture phase, highlights the clicked element and posts its descriptor
// to the parent frame.
const InstrumentationScript = `
    let lastClicked = null;
    document.addEventListener('click', (e) => {
        e.preventDefault();
        e.stopPropagation();

        if (lastClicked) {
            lastClicked.style.outline = '';
        }

        const target = e.target;
        target.style.outline = '` + HighlightOutline + `';
        lastClicked = target;

        const elementInfo = {
            tagName: target.tagName,
            id: target.id,
            className: typeof target.className === 'string' ? target.className : '',
            innerText: target.innerText || '',
        };
        window.parent.postMessage({ type: '` + ElementClickType + `', data: elementInfo }, '*');
    }, true);
`

// Compose builds the preview document. Buffers are embedded verbatim; the
// user script runs before the instrumentation script.
func Compose(b domain.Buffers) string {
	var sb strings.Builder
	sb.Grow(len(b.HTML) + len(b.CSS) + len(b.JavaScript) + len(InstrumentationScript) + 128)

	sb.WriteString("<html><head><style>")
	sb.WriteString(b.CSS)
	sb.WriteString("</style></head><body>")
	sb.WriteString(b.HTML)
	sb.WriteString("<script>")
	sb.WriteString(b.JavaScript)
	sb.WriteString("</script><script>")
	sb.WriteString(InstrumentationScript)
	sb.WriteString("</script></body></html>")
	return sb.String()
}
