package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	for _, name := range []string{"bda2", "kodo", "ws", "qn", "cos", "cos-internal"} {
		l, err := ParseLine(name)
		require.NoError(t, err, name)
		assert.Equal(t, Line(name), l)
	}

	l, err := ParseLine("auto")
	require.NoError(t, err)
	assert.Equal(t, LineAuto, l)

	_, err = ParseLine("upos")
	assert.ErrorIs(t, err, ErrUnknownLine)
	_, err = ParseLine("")
	assert.ErrorIs(t, err, ErrUnknownLine)
}

type lineSession struct {
	Session
	probed bool
}

func (s *lineSession) Probe(context.Context) (Endpoint, error) {
	s.probed = true
	return Endpoint{Line: LineKodo, URL: "https://fast.example"}, nil
}

func (s *lineSession) Endpoint(line Line) (Endpoint, error) {
	return Endpoint{Line: line}, nil
}

func TestSelectLine(t *testing.T) {
	ctx := context.Background()

	s := &lineSession{}
	ep, err := SelectLine(ctx, s, LineWS)
	require.NoError(t, err)
	assert.Equal(t, LineWS, ep.Line)
	assert.False(t, s.probed)

	ep, err = SelectLine(ctx, s, LineAuto)
	require.NoError(t, err)
	assert.True(t, s.probed)
	assert.Equal(t, "https://fast.example", ep.URL)

	_, err = SelectLine(ctx, s, Line("nope"))
	assert.True(t, errors.Is(err, ErrUnknownLine))
}
