package consumer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ldacruz94/topiclog/internal/log"
)

func TestGroupAppendRead(t *testing.T) {
	c := log.Config{Dir: t.TempDir()}
	c.Segment.MaxMessages = 2

	g := New("readers", c)
	require.Equal(t, "readers", g.Name())

	for i, v := range []string{"a", "b", "c"} {
		next, err := g.Append("orders", []byte(v))
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), next)
	}
	next, err := g.Append("payments", []byte("p"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), next)
	require.Equal(t, []string{"orders", "payments"}, g.Topics())

	msg, err := g.Read("orders", 2)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), msg.Value)
	require.NoError(t, g.Close())

	// a fresh group picks up what the first one wrote
	g = New("readers", c)
	defer g.Close()
	msg, err = g.Read("orders", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), msg.Value)

	next, err = g.Append("orders", []byte("d"))
	require.NoError(t, err)
	require.Equal(t, uint64(4), next)
}

func TestGroupReadMissingTopic(t *testing.T) {
	g := New("readers", log.Config{Dir: t.TempDir()})
	defer g.Close()

	_, err := g.Read("nope", 0)
	require.True(t, errors.Is(err, log.ErrNotFound))
	require.Empty(t, g.Topics())
}

func TestGroupMetadataFollowsAppends(t *testing.T) {
	c := log.Config{Dir: t.TempDir()}

	g := New("writers", c)
	defer g.Close()
	for i := 0; i < 3; i++ {
		_, err := g.Append("events", []byte("e"))
		require.NoError(t, err)
	}

	// metadata on disk already records the appends
	b, err := os.ReadFile(filepath.Join(c.Dir, "events", "metadata.json"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"next_offset": 3`)
}

func TestGroupClosed(t *testing.T) {
	g := New("readers", log.Config{Dir: t.TempDir()})
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, err := g.Append("orders", []byte("x"))
	require.True(t, errors.Is(err, log.ErrClosed))
}

func TestGroupAppendSurvivesMetadataFailure(t *testing.T) {
	c := log.Config{Dir: t.TempDir()}

	g := New("writers", c)
	next, err := g.Append("events", []byte("a"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), next)

	// open segment files keep working, but metadata can no longer be written
	require.NoError(t, os.RemoveAll(filepath.Join(c.Dir, "events")))

	next, err = g.Append("events", []byte("b"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)

	msg, err := g.Read("events", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), msg.Value)

	// closing persists metadata again and fails the same way
	require.Error(t, g.Close())
}
