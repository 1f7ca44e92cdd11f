package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestGetText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		"<div><span>hello</span> <b>world</b></div>",
	))
	require.NoError(t, err)
	require.Contains(t, GetText(doc), "hello")
	require.Contains(t, GetText(doc), "world")
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "hello world", CleanText("  hello \n\t  world  "))
	require.Equal(t, "price: 10", CleanText("price:    10"))
	require.Equal(t, "ab", CleanText("a\x00b"))
}
