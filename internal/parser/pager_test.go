package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

func TestLastPageIndex(t *testing.T) {
	t.Parallel()

	page := `<nav class="pager"><ul class="pager__items">
<li class="pager__item is-active"><a href="?exam=All&page=0">1</a></li>
<li class="pager__item pager__item--next"><a href="?exam=All&page=1">Next</a></li>
<li class="pager__item pager__item--last"><a href="?exam=All&amp;page=7" title="Go to last page">Last</a></li>
</ul></nav>`

	got, err := LastPageIndex([]byte(page))
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestLastPageIndexAbsoluteHref(t *testing.T) {
	t.Parallel()

	page := `<li class="pager__item--last"><a href="https://certification.acquia.com/registry?page=41&credential=All">Last</a></li>`
	got, err := LastPageIndex([]byte(page))
	require.NoError(t, err)
	require.Equal(t, 41, got)
}

func TestLastPageIndexErrors(t *testing.T) {
	t.Parallel()

	_, err := LastPageIndex([]byte(`<ul><li class="pager__item"><a href="?page=2">2</a></li></ul>`))
	require.ErrorIs(t, err, crawler.ErrPaginationNotFound)

	_, err = LastPageIndex([]byte(`<li class="pager__item--last"><a href="?exam=All">Last</a></li>`))
	require.ErrorIs(t, err, crawler.ErrPaginationNotFound)

	_, err = LastPageIndex([]byte(`<li class="pager__item--last"><a href="?page=last">Last</a></li>`))
	require.ErrorIs(t, err, crawler.ErrPaginationNotFound)

	_, err = LastPageIndex([]byte(`<li class="pager__item--last"><a href="?page=-3">Last</a></li>`))
	require.ErrorIs(t, err, crawler.ErrPaginationNotFound)
}
