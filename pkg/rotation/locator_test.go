package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Locator
	}{
		{in: `css:input[name="password"]`, want: Locator{By: ByCSS, Value: `input[name="password"]`}},
		{in: `xpath://button[@type="submit"]`, want: Locator{By: ByXPath, Value: `//button[@type="submit"]`}},
		{in: "id:login", want: Locator{By: ByID, Value: "login"}},
		{in: "name:new_password", want: Locator{By: ByName, Value: "new_password"}},
		{in: "  CSS: .flash-success ", want: Locator{By: ByCSS, Value: ".flash-success"}},
		{in: "#account-menu", want: Locator{By: ByCSS, Value: "#account-menu"}},
		{in: "input:not([type=hidden])", want: Locator{By: ByCSS, Value: "input:not([type=hidden])"}},
		{in: "a:hover", want: Locator{By: ByCSS, Value: "a:hover"}},
		{in: `//div[@role="alert"]`, want: Locator{By: ByXPath, Value: `//div[@role="alert"]`}},
		{in: `(//button)[2]`, want: Locator{By: ByXPath, Value: `(//button)[2]`}},
		{in: `(/html/body//button)[2]`, want: Locator{By: ByXPath, Value: `(/html/body//button)[2]`}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLocator(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocator_Errors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "css:", "xpath:  "} {
		_, err := ParseLocator(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestLocator_StringRoundTrip(t *testing.T) {
	t.Parallel()

	for _, l := range []Locator{CSS(".a"), XPath("//b"), {By: ByID, Value: "c"}, {By: ByName, Value: "d"}} {
		parsed, err := ParseLocator(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	assert.Equal(t, "", Locator{}.String())
	assert.Equal(t, "css:.x", Locator{Value: ".x"}.String())
}

func TestLocator_UnmarshalText(t *testing.T) {
	t.Parallel()

	var l Locator
	require.NoError(t, l.UnmarshalText([]byte("id:submit")))
	assert.Equal(t, Locator{By: ByID, Value: "submit"}, l)
	assert.Error(t, l.UnmarshalText([]byte("")))
}

func TestMustParseLocator_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { MustParseLocator("") })
}
