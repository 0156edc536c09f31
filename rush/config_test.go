package rush

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLink(t *testing.T) {
	for _, spec := range []string{
		"a.out -> b.in",
		"a.out->b.in",
		"  a . out  ->  b . in  ",
		"app_1.port_2 -> App3.Port4",
		"_x._y -> _z._w",
	} {
		parts, err := parseLink(spec)
		require.NoError(t, err, spec)
		assert.NotEmpty(t, parts.from)
		assert.NotEmpty(t, parts.output)
		assert.NotEmpty(t, parts.to)
		assert.NotEmpty(t, parts.input)
	}

	parts, err := parseLink("source.output -> sink.input")
	require.NoError(t, err)
	assert.Equal(t, linkParts{
		from: "source", output: "output",
		to: "sink", input: "input",
	}, parts)
}

func TestParseLinkInvalid(t *testing.T) {
	for _, spec := range []string{
		"",
		"a.out",
		"a.out -> b",
		"a -> b.in",
		"a.out => b.in",
		"1a.out -> b.in",
		"a.out -> b.in -> c.in",
		"a.b.c -> d.e",
	} {
		_, err := parseLink(spec)
		assert.Error(t, err, spec)
	}
}

func TestConfigAddLink(t *testing.T) {
	c := NewConfig()
	c.AddLink("a.out -> b.in")
	c.AddLink("a.out -> b.in") // duplicate is a no-op
	assert.Len(t, c.links, 1)

	// Spec strings are opaque keys: a differently spelled spec for
	// the same edge is a different link.
	c.AddLink("a.out->b.in")
	assert.Len(t, c.links, 2)

	assert.Panics(t, func() { c.AddLink("busted") })
}

func TestConfigClone(t *testing.T) {
	c := NewConfig()
	c.SetApp("source", Source{Size: 60})
	c.AddLink("source.output -> sink.input")

	nc := c.Clone()
	nc.SetApp("source", Source{Size: 120})
	nc.SetApp("sink", Sink{})
	nc.AddLink("source.output2 -> sink.input2")

	assert.Equal(t, Source{Size: 60}, c.apps["source"])
	assert.NotContains(t, c.apps, "sink")
	assert.Len(t, c.links, 1)
	assert.Len(t, nc.links, 2)
}

func TestAppConfigIdentity(t *testing.T) {
	// Identity is type plus parameters.
	assert.Equal(t, identity(Source{Size: 60}), identity(Source{Size: 60}))
	assert.NotEqual(t, identity(Source{Size: 60}), identity(Source{Size: 120}))
	assert.NotEqual(t, identity(Source{Size: 60}), identity(SourceSink{Size: 60}))
	assert.Equal(t, identity(Sink{}), identity(Sink{}))
	assert.NotEqual(t, identity(Sink{}), identity(Tee{}))
}

func TestCommaValue(t *testing.T) {
	assert.Equal(t, "0", CommaValue(0))
	assert.Equal(t, "999", CommaValue(999))
	assert.Equal(t, "1,000", CommaValue(1000))
	assert.Equal(t, "12,345", CommaValue(12345))
	assert.Equal(t, "123,456,789", CommaValue(123456789))
	assert.Equal(t, "1,000,000", CommaValue(1000000))
}
