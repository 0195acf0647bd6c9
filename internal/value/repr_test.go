package value

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepr(t *testing.T) {
	testCases := []struct {
		name     string
		value    Value
		expected string
	}{
		{"none", None(), "none"},
		{"bool", Bool(false), "false"},
		{"int", Int(-12), "-12"},
		{"min int", Int(math.MinInt64), "(-9223372036854775807 - 1)"},
		{"whole float", Float(3), "3.0"},
		{"fraction", Float(0.125), "0.125"},
		{"large float", Float(1e21), "1e21"},
		{"nan", Float(math.NaN()), "float.nan"},
		{"negative inf", Float(math.Inf(-1)), "-float.inf"},
		{"string", Str("plain"), `"plain"`},
		{"escapes", Str("a\"b\\c\nd\te"), `"a\"b\\c\nd\te"`},
		{"control", Str("\x01"), `"\u{1}"`},
		{"unicode", Str("héllo ✓"), `"héllo ✓"`},
		{"empty array", Array(), "()"},
		{"single array", Array(Int(1)), "(1,)"},
		{"array", Array(Int(1), Str("x"), None()), `(1, "x", none)`},
		{"empty dict", Dict(nil), "(:)"},
		{"dict", Dict(map[string]Value{"b": Int(2), "a key": Bool(true)}), `("a key": true, "b": 2)`},
		{"date", DatetimeValue(DateOf(2024, 1, 31)), "datetime(year: 2024, month: 1, day: 31)"},
		{"time", DatetimeValue(TimeOf(9, 5, 0)), "datetime(hour: 9, minute: 5, second: 0)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Repr(tc.value))
		})
	}
}

func TestReprNeverContainsNewline(t *testing.T) {
	v := Dict(map[string]Value{
		"multi\nline": Array(Str("one\ntwo"), Str("\r\n")),
	})
	assert.NotContains(t, Repr(v), "\n")
}

func TestPrelude(t *testing.T) {
	prelude := Prelude(map[string]Value{
		"title": Str("Q3"),
		"count": Int(3),
		"tags":  Array(Str("a")),
	})

	assert.Equal(t, "#let count = 3\n#let tags = (\"a\",)\n#let title = \"Q3\"\n", prelude)
	assert.Equal(t, 3, strings.Count(prelude, "\n"))
	assert.Equal(t, "", Prelude(nil))
}

func TestPathRendering(t *testing.T) {
	p := Path{Key("user"), Key("two words"), Index(2)}
	assert.Equal(t, `root.user["two words"][2]`, p.Render("root"))
	assert.Equal(t, `key "user" > key "two words" > index 2`, p.Describe())

	child := p.Append(Key("x"))
	assert.Len(t, p, 3)
	assert.Len(t, child, 4)
	assert.Equal(t, Key("root"), p.Prepend(Key("root"))[0])
}

func TestIsBindable(t *testing.T) {
	assert.True(t, IsBindable("title"))
	assert.True(t, IsBindable("_private"))
	assert.True(t, IsBindable("kebab-case"))
	assert.False(t, IsBindable("9lives"))
	assert.False(t, IsBindable("-x"))
	assert.False(t, IsBindable("two words"))
	assert.False(t, IsBindable("none"))
	assert.False(t, IsBindable(""))
}
