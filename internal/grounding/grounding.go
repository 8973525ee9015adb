// Package grounding assembles the system-instruction context block from the
// user's stored sources.
//
// The assembled string is handed to the live session verbatim so the model
// can answer questions about the user's documents. Each source contributes
// its title and a bounded preview of its text; the cap keeps the instruction
// within a size the remote model accepts regardless of how large the stored
// documents are.
package grounding

import (
	"fmt"
	"strings"

	"github.com/avelops/voxnote/pkg/store"
)

// PreviewLimit is the maximum number of characters of a single source's text
// included in the context block.
const PreviewLimit = 5000

// Build renders the context block for sources. With no sources it returns a
// fixed marker string so the model knows nothing was provided.
func Build(sources []store.Source) string {
	if len(sources) == 0 {
		return "No sources."
	}

	blocks := make([]string, 0, len(sources))
	for _, src := range sources {
		preview := src.Text()
		if len(preview) > PreviewLimit {
			preview = preview[:PreviewLimit]
		}
		blocks = append(blocks, fmt.Sprintf("TITLE: %s\nCONTENT: %s...", src.Title, preview))
	}
	return "Available sources: \n" + strings.Join(blocks, "\n\n")
}
