// Package ircwire implements the IRCv3 line parser and serializer: tags,
// source prefix, command, and parameters including the trailing parameter.
// It has no knowledge of sockets, sessions, or Matrix — it is a pure
// transform between wire lines and Command values.
package ircwire

import (
	"errors"
	"sort"
	"strings"
)

// ErrMalformedLine is returned by Parse when a line has no command token.
var ErrMalformedLine = errors.New("ircwire: malformed line")

// Command is the parsed form of one IRC protocol line.
type Command struct {
	Tags    map[string]string
	Source  string
	Command string
	Params  []string
}

// Parse decodes one IRC line (with any trailing CR/LF already stripped by
// the caller, though a trailing \r\n is tolerated and stripped here too).
func Parse(line string) (*Command, error) {
	line = strings.TrimRight(line, "\r\n")

	var tags map[string]string
	if strings.HasPrefix(line, "@") {
		sp := strings.IndexByte(line, ' ')
		var tagToken string
		if sp == -1 {
			tagToken = line[1:]
			line = ""
		} else {
			tagToken = line[1:sp]
			line = line[sp+1:]
		}
		tags = parseTags(tagToken)
	}

	line = strings.TrimLeft(line, " ")

	mainPart, trailing, hasTrailing := splitTrailing(line)
	mainTokens := splitWords(mainPart)

	var source string
	idx := 0
	if len(mainTokens) > 0 && strings.HasPrefix(mainTokens[0], ":") {
		source = mainTokens[0][1:]
		idx = 1
	}

	if idx >= len(mainTokens) {
		return nil, ErrMalformedLine
	}

	command := strings.ToUpper(mainTokens[idx])
	if command == "" {
		return nil, ErrMalformedLine
	}
	params := append([]string{}, mainTokens[idx+1:]...)
	if hasTrailing {
		params = append(params, trailing)
	}

	return &Command{
		Tags:    tags,
		Source:  source,
		Command: command,
		Params:  params,
	}, nil
}

// Serialize re-encodes a Command into a wire line, without a trailing
// CR/LF. Tags are emitted sorted by key so that output is canonical.
func (c *Command) Serialize() string {
	var b strings.Builder

	if len(c.Tags) > 0 {
		keys := make([]string, 0, len(c.Tags))
		for k := range c.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('@')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(k)
			if v := c.Tags[k]; v != "" {
				b.WriteByte('=')
				b.WriteString(escapeTagValue(v))
			}
		}
		b.WriteByte(' ')
	}

	if c.Source != "" {
		b.WriteByte(':')
		b.WriteString(c.Source)
		b.WriteByte(' ')
	}

	b.WriteString(c.Command)

	for i, p := range c.Params {
		isLast := i == len(c.Params)-1
		needsTrailing := isLast && (p == "" || strings.Contains(p, " ") || strings.HasPrefix(p, ":"))
		b.WriteByte(' ')
		if needsTrailing {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}

	return b.String()
}

func parseTags(tagToken string) map[string]string {
	if tagToken == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, part := range strings.Split(tagToken, ";") {
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq != -1 {
			tags[part[:eq]] = unescapeTagValue(part[eq+1:])
		} else {
			tags[part] = ""
		}
	}
	return tags
}

// splitTrailing finds the first run of one-or-more spaces followed by a
// colon and splits the line there; everything after the colon is the
// trailing parameter, taken verbatim (it may contain spaces).
func splitTrailing(line string) (main string, trailing string, has bool) {
	n := len(line)
	for i := 0; i < n; i++ {
		if line[i] != ' ' {
			continue
		}
		j := i
		for j < n && line[j] == ' ' {
			j++
		}
		if j < n && line[j] == ':' {
			return line[:i], line[j+1:], true
		}
	}
	return line, "", false
}

// splitWords splits on runs of spaces, discarding empty tokens.
func splitWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' })
	return fields
}

// escapeTagValue escapes ';', ' ', CR, LF, and '\' per IRCv3 message tags.
func escapeTagValue(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeTagValue reverses escapeTagValue. An unrecognized escape drops
// the backslash and keeps the following character; a trailing lone
// backslash is dropped.
func unescapeTagValue(v string) string {
	var b strings.Builder
	runes := []rune(v)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' {
			b.WriteRune(runes[i])
			continue
		}
		if i+1 >= len(runes) {
			break
		}
		i++
		switch runes[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteRune(runes[i])
		}
	}
	return b.String()
}

// EscapeSpaces replaces spaces with the IRCv3 tag escape `\s`, used by
// the channel lifecycle layer to pack a user ID containing no spaces
// (this is a no-op in practice for well-formed Matrix user IDs) into a
// NAMES reply without relying on the trailing-parameter rule.
func EscapeSpaces(s string) string {
	return strings.ReplaceAll(s, " ", `\s`)
}

// MaxLineBytes is the wire budget for a serialized line absent the
// batch/length-extension capability.
const MaxLineBytes = 512

// WordWrap splits words into lines whose serialized form (once passed
// through buildLine) stays within MaxLineBytes. buildLine receives the
// words assigned to one line and must return the full wire line (with
// any numeric/source overhead already included) so the wrapper can
// measure the real byte budget.
func WordWrap(words []string, buildLine func(chunk []string) string) []string {
	if len(words) == 0 {
		return []string{buildLine(nil)}
	}

	var lines []string
	var chunk []string
	for _, w := range words {
		candidate := append(append([]string{}, chunk...), w)
		if len(buildLine(candidate)) > MaxLineBytes && len(chunk) > 0 {
			lines = append(lines, buildLine(chunk))
			chunk = []string{w}
			continue
		}
		chunk = candidate
	}
	if len(chunk) > 0 {
		lines = append(lines, buildLine(chunk))
	}
	return lines
}
