package toolcall

// balanced reports whether a partial JSON buffer looks syntactically closed:
// every brace and bracket opened outside of string literals has been closed
// and no string literal is left open. The tracker uses it to distinguish a
// buffer that is still streaming (unbalanced, keep accumulating) from one
// that looks complete but failed to parse (balanced, surface an error).
//
// A buffer whose nesting depth goes negative can never become valid by
// appending more text, so it is reported balanced to force the error path.
func balanced(buf string) bool {
	depth := 0
	inString := false
	escaped := false
	for _, r := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return true
			}
		}
	}
	return !inString && depth == 0
}
