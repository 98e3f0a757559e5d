package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNull_AlwaysSucceeds(t *testing.T) {
	n := NewNull()
	assert.NoError(t, n.Execute(context.Background(), "any/path.fits"))
	assert.Equal(t, "", n.Version())
}

func TestRaw_DelegatesToFunction(t *testing.T) {
	var seen string
	r := NewRaw("v1.2.3", func(ctx context.Context, path string) error {
		seen = path
		return nil
	})
	require.NoError(t, r.Execute(context.Background(), "raw/image.fits"))
	assert.Equal(t, "raw/image.fits", seen)
	assert.Equal(t, "v1.2.3", r.Version())
}

func TestPipeline_StopsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var secondCalled bool
	first := NewRaw("", func(ctx context.Context, path string) error { return boom })
	second := NewRaw("v2", func(ctx context.Context, path string) error {
		secondCalled = true
		return nil
	})
	p := NewPipeline(first, second)
	err := p.Execute(context.Background(), "path.fits")
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondCalled)
}

func TestPipeline_ReportsSecondVersion(t *testing.T) {
	first := NewRaw("v1", func(ctx context.Context, path string) error { return nil })
	second := NewRaw("v2", func(ctx context.Context, path string) error { return nil })
	p := NewPipeline(first, second)
	require.NoError(t, p.Execute(context.Background(), "path.fits"))
	assert.Equal(t, "v2", p.Version())
}
