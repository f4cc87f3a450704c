package ircwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Command
		wantErr bool
	}{
		{
			name:  "tags and source",
			input: "@msgid=foo :nick!user@host PRIVMSG #chan :hello\r\n",
			want: &Command{
				Tags:    map[string]string{"msgid": "foo"},
				Source:  "nick!user@host",
				Command: "PRIVMSG",
				Params:  []string{"#chan", "hello"},
			},
		},
		{
			name:  "no tags no source",
			input: "JOIN #chan",
			want: &Command{
				Command: "JOIN",
				Params:  []string{"#chan"},
			},
		},
		{
			name:  "trailing is empty",
			input: "TOPIC #chan :",
			want: &Command{
				Command: "TOPIC",
				Params:  []string{"#chan", ""},
			},
		},
		{
			name:  "trailing contains spaces",
			input: "PRIVMSG #chan :hello there world",
			want: &Command{
				Command: "PRIVMSG",
				Params:  []string{"#chan", "hello there world"},
			},
		},
		{
			name:  "command lowercased is uppercased",
			input: "privmsg #chan :hi",
			want: &Command{
				Command: "PRIVMSG",
				Params:  []string{"#chan", "hi"},
			},
		},
		{
			name:  "tag with no value normalizes to empty",
			input: "@account :nick!u@h NICK newnick",
			want: &Command{
				Tags:    map[string]string{"account": ""},
				Source:  "nick!u@h",
				Command: "NICK",
				Params:  []string{"newnick"},
			},
		},
		{
			name:  "multiple tags",
			input: "@time=123;msgid=abc PING :server.",
			want: &Command{
				Tags:    map[string]string{"time": "123", "msgid": "abc"},
				Command: "PING",
				Params:  []string{"server."},
			},
		},
		{
			name:    "empty command is malformed",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only tags no command",
			input:   "@msgid=foo",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Tags, got.Tags)
			assert.Equal(t, tt.want.Source, got.Source)
			assert.Equal(t, tt.want.Command, got.Command)
			assert.Equal(t, tt.want.Params, got.Params)
		})
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tests := []string{
		":nick!user@host PRIVMSG #chan :hello there",
		"JOIN #chan",
		"TOPIC #chan :",
		"@msgid=abc PING server.",
		"353 nick = #chan :alice bob",
	}

	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			cmd, err := Parse(line)
			require.NoError(t, err)
			assert.Equal(t, line, cmd.Serialize())
		})
	}
}

func TestSerializeTrailingRules(t *testing.T) {
	cmd := &Command{Command: "PRIVMSG", Params: []string{"#chan", ":startswithcolon"}}
	assert.Equal(t, "PRIVMSG #chan ::startswithcolon", cmd.Serialize())

	cmd = &Command{Command: "PRIVMSG", Params: []string{"#chan", "no-spaces"}}
	assert.Equal(t, "PRIVMSG #chan no-spaces", cmd.Serialize())
}

func TestTagValueEscaping(t *testing.T) {
	cmd := &Command{
		Tags:    map[string]string{"label": "has space;semi\\back"},
		Command: "PING",
		Params:  []string{"x"},
	}
	out := cmd.Serialize()
	assert.Contains(t, out, `label=has\sspace\:semi\\back`)

	parsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "has space;semi\\back", parsed.Tags["label"])
}

func TestWordWrapBudget(t *testing.T) {
	words := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		words = append(words, "user_with_a_somewhat_long_name_"+string(rune('a'+i%26)))
	}

	build := func(chunk []string) string {
		cmd := &Command{Command: "353", Params: append([]string{"nick", "=", "#chan"}, joinNames(chunk))}
		return cmd.Serialize()
	}

	lines := WordWrap(words, build)
	assert.Greater(t, len(lines), 1)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), MaxLineBytes)
	}
}

func joinNames(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}
