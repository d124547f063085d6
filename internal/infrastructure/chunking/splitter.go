package chunking

import "strings"

type word struct {
	text    string
	page    int
	counted bool
}

// window is the rolling prose buffer. fresh counts tokens not yet emitted in
// any chunk so the overlap carried after a flush is never emitted alone.
type window struct {
	words  []word
	tokens int
	fresh  int
}

func (w *window) add(text string, page int) {
	for _, f := range strings.Fields(text) {
		counted := isToken(f)
		w.words = append(w.words, word{text: f, page: page, counted: counted})
		if counted {
			w.tokens++
			w.fresh++
		}
	}
}

// next returns the next chunk's words once the buffer holds size tokens, or
// the remainder when final is set and it holds fresh tokens. After a full
// window the last overlap tokens stay buffered.
func (w *window) next(size, overlap int, final bool) ([]word, bool) {
	if w.tokens < size {
		if !final || w.fresh == 0 {
			return nil, false
		}
		out := w.words
		w.reset()
		return out, true
	}

	end, seen := 0, 0
	for end < len(w.words) && seen < size {
		if w.words[end].counted {
			seen++
		}
		end++
	}
	out := make([]word, end)
	copy(out, w.words[:end])

	start, carried := end, 0
	for start > 0 && carried < overlap {
		start--
		if w.words[start].counted {
			carried++
		}
	}
	rest := make([]word, 0, len(w.words)-start)
	rest = append(rest, w.words[start:]...)
	w.words = rest
	w.tokens = 0
	for _, wd := range rest {
		if wd.counted {
			w.tokens++
		}
	}
	w.fresh = w.tokens - carried
	return out, true
}

func (w *window) reset() {
	w.words = nil
	w.tokens = 0
	w.fresh = 0
}
