package scanner

import "bytes"

// StringField returns the string value of the first "key": "value" pair in
// payload without decoding the rest of the document. Escaped quotes in the
// value are not supported.
func StringField(payload []byte, key string) ([]byte, bool) {
	i := valueStart(payload, key)
	if i < 0 || payload[i] != '"' {
		return nil, false
	}
	i++
	end := bytes.IndexByte(payload[i:], '"')
	if end < 0 {
		return nil, false
	}
	return payload[i : i+end], true
}

// HasStringField reports whether key is present with exactly value.
func HasStringField(payload []byte, key, value string) bool {
	v, ok := StringField(payload, key)
	return ok && string(v) == value
}

func valueStart(payload []byte, key string) int {
	idx := quotedIndex(payload, key)
	if idx < 0 {
		return -1
	}
	i := idx + len(key) + 2
	for i < len(payload) && IsSpace(payload[i]) {
		i++
	}
	if i >= len(payload) || payload[i] != ':' {
		return -1
	}
	i++
	for i < len(payload) && IsSpace(payload[i]) {
		i++
	}
	if i >= len(payload) {
		return -1
	}
	return i
}

func quotedIndex(payload []byte, key string) int {
	if key == "" {
		return -1
	}
	quoted := make([]byte, 0, len(key)+2)
	quoted = append(quoted, '"')
	quoted = append(quoted, key...)
	quoted = append(quoted, '"')
	return bytes.Index(payload, quoted)
}

func IsSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
