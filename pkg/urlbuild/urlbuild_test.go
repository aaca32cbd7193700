package urlbuild_test

import (
	"testing"

	"github.com/cexll/schemafetch-go/pkg/urlbuild"
	"github.com/stretchr/testify/require"
)

func TestBuildSimpleSearchQuery(t *testing.T) {
	got, err := urlbuild.Build("/x", urlbuild.Params{
		Search: map[string]urlbuild.QueryValue{
			"a": urlbuild.Scalar("b"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "/x?a=b", got)
}

func TestBuildSubstitutesPathPlaceholders(t *testing.T) {
	got, err := urlbuild.Build("/users/{id}/posts/{postId}", urlbuild.Params{
		Path: map[string]string{"id": "42", "postId": "7"},
	})
	require.NoError(t, err)
	require.Equal(t, "/users/42/posts/7", got)
}

func TestBuildFailsOnUnmatchedBrace(t *testing.T) {
	_, err := urlbuild.Build("/users/{id", urlbuild.Params{})
	require.Error(t, err)

	var cErr *urlbuild.ConstructURLError
	require.ErrorAs(t, err, &cErr)
}

func TestBuildFailsOnStrayClosingBrace(t *testing.T) {
	_, err := urlbuild.Build("/users/id}", urlbuild.Params{})
	require.Error(t, err)
}

func TestBuildFailsWhenPlaceholderUnsubstituted(t *testing.T) {
	_, err := urlbuild.Build("/users/{id}", urlbuild.Params{Path: map[string]string{}})
	require.Error(t, err)
}

func TestBuildOmitsUndefinedSearchEntries(t *testing.T) {
	got, err := urlbuild.Build("/x", urlbuild.Params{
		Search: map[string]urlbuild.QueryValue{
			"a": urlbuild.Scalar("1"),
			"b": urlbuild.Omit,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "/x?a=1", got)
}

func TestBuildRepeatsArrayValuedSearchEntries(t *testing.T) {
	got, err := urlbuild.Build("/x", urlbuild.Params{
		Search: map[string]urlbuild.QueryValue{
			"tag": urlbuild.Repeated("go", "http"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "/x?tag=go&tag=http", got)
}

func TestBuildStableOrderBySearchOrder(t *testing.T) {
	got, err := urlbuild.Build("/x", urlbuild.Params{
		Search: map[string]urlbuild.QueryValue{
			"z": urlbuild.Scalar("1"),
			"a": urlbuild.Scalar("2"),
		},
		SearchOrder: []string{"z", "a"},
	})
	require.NoError(t, err)
	require.Equal(t, "/x?z=1&a=2", got)
}

func TestResolveAbsoluteJoinsSingleSlash(t *testing.T) {
	require.Equal(t, "https://api.example.com/x", urlbuild.ResolveAbsolute("https://api.example.com/", "", "/x"))
	require.Equal(t, "https://api.example.com/x", urlbuild.ResolveAbsolute("https://api.example.com", "", "x"))
}

func TestResolveAbsolutePrependsHostnameWhenBaseRelative(t *testing.T) {
	require.Equal(t, "https://host.example.com/v1/x", urlbuild.ResolveAbsolute("/v1", "https://host.example.com", "/x"))
}
