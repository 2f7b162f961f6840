package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

const registryPage = `<html><body>
<div class="view-content">
<table class="views-table">
  <thead><tr>
    <th><a href="?order=name&sort=asc">Name  <span class="visually-hidden">Sort descending</span></a></th>
    <th>Certification</th>
    <th>Location</th>
    <th>Organization</th>
    <th>Awarded</th>
  </tr></thead>
  <tbody>
    <tr>
      <td> Jane   Doe </td>
      <td>Drupal 9 Grackle - Site Builder</td>
      <td>Austin, TX, USA</td>
      <td>Acquia Inc.</td>
      <td>March 03, 2021</td>
    </tr>
    <tr>
      <td>John Roe</td>
      <td>Acquia Certified Developer</td>
      <td>Berlin, BE, Germany</td>
      <td></td>
      <td></td>
    </tr>
  </tbody>
</table>
</div>
<table><tr><td>ignored second table</td></tr></table>
</body></html>`

func TestExtractParsesRowsInOrder(t *testing.T) {
	t.Parallel()

	rows, err := NewExtractor(nil).Extract([]byte(registryPage))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, crawler.TableRow{
		"Name":          "Jane Doe",
		"Certification": "Drupal 9 Grackle - Site Builder",
		"Location":      "Austin, TX, USA",
		"Organization":  "Acquia Inc.",
		"Awarded":       "March 03, 2021",
	}, rows[0])
	require.Equal(t, "John Roe", rows[1]["Name"])
	_, ok := rows[1].Value("Organization")
	require.False(t, ok)
}

func TestExtractAppliesAliases(t *testing.T) {
	t.Parallel()

	page := `<table><tr><th>Holder Sort ascending</th><th>Credential</th></tr>
<tr><td>Ada</td><td>Grand Master D7</td></tr></table>`

	rows, err := NewExtractor(map[string]string{"holder": "Name"}).Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, []crawler.TableRow{{"Name": "Ada", "Credential": "Grand Master D7"}}, rows)
}

func TestExtractKeepsRowHeaderCells(t *testing.T) {
	t.Parallel()

	page := `<table>
<thead><tr><th>Name</th><th>Certification</th><th>Location</th><th>Organization</th><th>Awarded</th></tr></thead>
<tbody>
<tr><th scope="row">Ada</th><td>Drupal 9 - Site Builder</td><td>Austin, TX, USA</td><td>Acme</td><td>March 03, 2021</td></tr>
</tbody></table>`

	rows, err := NewExtractor(nil).Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, []crawler.TableRow{{
		"Name":          "Ada",
		"Certification": "Drupal 9 - Site Builder",
		"Location":      "Austin, TX, USA",
		"Organization":  "Acme",
		"Awarded":       "March 03, 2021",
	}}, rows)
}

func TestExtractRowHeaderWithoutThead(t *testing.T) {
	t.Parallel()

	page := `<table><tr><th>Name</th><th>Location</th></tr>
<tr><th>Ada</th><td>Austin, TX, USA</td></tr>
<tr><th>Bob</th><td>Berlin, BE, Germany</td></tr></table>`

	rows, err := NewExtractor(nil).Extract([]byte(page))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, crawler.TableRow{"Name": "Ada", "Location": "Austin, TX, USA"}, rows[0])
	require.Equal(t, "Bob", rows[1]["Name"])
}

func TestExtractSkipsEmptyTextRowsAmongData(t *testing.T) {
	t.Parallel()

	page := `<table><thead><tr><th>Name</th><th>Location</th></tr></thead><tbody>
<tr><td>Ada</td><td>Austin, TX, USA</td></tr>
<tr><td colspan="2">Showing 1 of 1</td></tr>
</tbody></table>`

	rows, err := NewExtractor(nil).Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, []crawler.TableRow{{"Name": "Ada", "Location": "Austin, TX, USA"}}, rows)
}

func TestExtractEmptyPages(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no table":     `<html><body><div class="view-empty">No results</div></body></html>`,
		"header only":  `<table><thead><tr><th>Name</th></tr></thead><tbody></tbody></table>`,
		"blank rows":   `<table><tr><th>Name</th></tr><tr><td>  </td></tr></table>`,
		"empty markup": ``,
		"views empty text": `<table><thead><tr><th>Name</th><th>Certification</th><th>Location</th></tr></thead>
<tbody><tr><td class="views-empty" colspan="3">No certifications found.</td></tr></tbody></table>`,
		"full-width placeholder": `<table><tr><th>Name</th><th>Location</th></tr>
<tr><td colspan="5">Nothing to show</td></tr></table>`,
	}
	for name, page := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rows, err := NewExtractor(nil).Extract([]byte(page))
			require.ErrorIs(t, err, crawler.ErrEmptyPage)
			require.Nil(t, rows)
		})
	}
}

func TestCleanHeader(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Name  Sort descending":          "Name",
		"Name Sort ascending":            "Name",
		"  Awarded \n":                   "Awarded",
		"Organization":                   "Organization",
		"Sort descending":                "",
		"Certification\tsort DESCENDING": "Certification",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanHeader(in), in)
	}
}
