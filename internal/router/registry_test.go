package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/router"
)

func getHandler() *router.Handler {
	return &router.Handler{Method: "GET"}
}

func TestLookupStaticRoute(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/users/list", getHandler())
	require.NoError(t, err)

	m, err := reg.Lookup("/users/list")
	require.NoError(t, err)
	assert.Len(t, m.Handlers, 1)
	assert.Empty(t, m.Params)
}

func TestLookupNamedParam(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/users/:id", getHandler())
	require.NoError(t, err)

	m, err := reg.Lookup("/users/42")
	require.NoError(t, err)
	require.Len(t, m.Params, 1)
	assert.Equal(t, "id", m.Params[0].Name)
	assert.Equal(t, "42", m.Params[0].Decoded)
}

func TestLookupCatchAllJoinsRemainderWithRawSlashes(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/files/*rest", getHandler())
	require.NoError(t, err)

	m, err := reg.Lookup("/files/a/b%2Fc/d")
	require.NoError(t, err)
	require.Len(t, m.Params, 1)
	assert.Equal(t, "rest", m.Params[0].Name)
	assert.Equal(t, "a/b%2Fc/d", m.Params[0].Raw)
	assert.Equal(t, "a/b/c/d", m.Params[0].Decoded)
}

func TestStaticTakesPrecedenceOverNamedSibling(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/users/me", getHandler())
	require.NoError(t, err)
	_, err = reg.Add("/users/:id", getHandler())
	require.NoError(t, err)

	m, err := reg.Lookup("/users/me")
	require.NoError(t, err)
	assert.Empty(t, m.Params)

	m2, err := reg.Lookup("/users/7")
	require.NoError(t, err)
	assert.Len(t, m2.Params, 1)
}

func TestDistinctSegmentCountsNeverCollide(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a", getHandler())
	require.NoError(t, err)
	_, err = reg.Add("/a/:p", getHandler())
	assert.NoError(t, err)
}

func TestDuplicatePatternIsRouteCollision(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a/:x", getHandler())
	require.NoError(t, err)

	_, err = reg.Add("/a/:y", getHandler())
	assert.ErrorIs(t, err, router.ErrRouteCollision)
}

func TestCollisionDetectionIndependentOfInsertionOrder(t *testing.T) {
	reg1 := router.NewRegistry()
	_, err := reg1.Add("/a/:x", getHandler())
	require.NoError(t, err)
	_, err = reg1.Add("/a/b", getHandler())
	require.NoError(t, err)

	reg2 := router.NewRegistry()
	_, err = reg2.Add("/a/b", getHandler())
	require.NoError(t, err)
	_, err = reg2.Add("/a/:x", getHandler())
	require.NoError(t, err)
}

func TestCatchAllConflictsWithSiblingStatic(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a/b", getHandler())
	require.NoError(t, err)

	_, err = reg.Add("/a/*rest", getHandler())
	assert.ErrorIs(t, err, router.ErrCatchAllConflict)
}

func TestCatchAllConflictWhenAddingSiblingAfterCatchAll(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a/*rest", getHandler())
	require.NoError(t, err)

	_, err = reg.Add("/a/b", getHandler())
	assert.ErrorIs(t, err, router.ErrCatchAllConflict)
}

func TestHandlerCollisionWithinSameAddCall(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a", getHandler(), getHandler())
	assert.ErrorIs(t, err, router.ErrHandlerCollision)
}

func TestNoRouteFoundForUnregisteredPath(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a", getHandler())
	require.NoError(t, err)

	_, err = reg.Lookup("/b")
	require.Error(t, err)
	assert.Equal(t, kind.NoRouteFound, kind.Of(err).K)
}

func TestRemoveByPatternRemovesWhoeverOccupiesIt(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a", getHandler())
	require.NoError(t, err)

	assert.True(t, reg.RemoveByPattern("/a"))
	assert.False(t, reg.RemoveByPattern("/a"))

	_, err = reg.Lookup("/a")
	assert.Error(t, err)
}

func TestRemoveByIdentityIsIdempotentAndIgnoresReplacement(t *testing.T) {
	reg := router.NewRegistry()
	id1, err := reg.Add("/a", getHandler())
	require.NoError(t, err)

	assert.True(t, reg.RemoveByIdentity(id1))
	assert.False(t, reg.RemoveByIdentity(id1))

	id2, err := reg.Add("/a", getHandler())
	require.NoError(t, err)
	assert.False(t, reg.RemoveByIdentity(id1))
	assert.True(t, reg.RemoveByIdentity(id2))
}

func TestPathNormalizationCollapsesAndResolvesDotSegments(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/a/b", getHandler())
	require.NoError(t, err)

	m, err := reg.Lookup("//a//c/../b/")
	require.NoError(t, err)
	assert.Empty(t, m.Params)
}

func TestEncodedDotDotIsNotResolvedAsDotSegment(t *testing.T) {
	// A route whose literal middle segment is "..": only reachable by a
	// request path whose dot-dot is percent-encoded, since a literal ".."
	// in the request path is resolved away before routing.
	reg := router.NewRegistry()
	_, err := reg.Add("/a/../b", getHandler())
	require.NoError(t, err)

	m, err := reg.Lookup("/a/%2E%2E/b")
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = reg.Lookup("/a/../b")
	assert.Error(t, err, "a literal .. resolves away and should hit /b instead")
}

func TestRootPathMatchesEmptyPattern(t *testing.T) {
	reg := router.NewRegistry()
	_, err := reg.Add("/", getHandler())
	require.NoError(t, err)

	m, err := reg.Lookup("/")
	require.NoError(t, err)
	assert.NotNil(t, m)
}
